package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"specter/pkg/agent/types"
	"specter/pkg/bus"
	"specter/pkg/module"
)

// State is the orchestrator's position in the turn lifecycle.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateRouting
	StateDispatching
	StateCancelling
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRouting:
		return "routing"
	case StateDispatching:
		return "dispatching"
	case StateCancelling:
		return "cancelling"
	case StateResponding:
		return "responding"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventPublisher receives lifecycle events. *bus.MessageBus satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

type Options struct {
	Settings   Settings
	Registry   *module.Registry
	Fallback   module.Fallback
	Policy     Policy
	Events     EventPublisher
	Channel    string
	SessionKey string
	Logger     *slog.Logger
}

// Orchestrator drives one conversation session: it accepts utterances, routes
// them, dispatches at most one module or fallback call at a time and delivers
// exactly one reply per accepted utterance.
type Orchestrator struct {
	settings   Settings
	registry   *module.Registry
	router     *Router
	memory     *Memory
	fallback   module.Fallback
	events     EventPublisher
	channel    string
	sessionKey string
	log        *slog.Logger

	state   atomic.Int32
	faults  atomic.Int64
	running atomic.Bool
	control chan controlRequest

	// turnSeq is only touched by the main loop.
	turnSeq uint64

	cancelMu      sync.Mutex
	cancelCurrent context.CancelCauseFunc
}

type controlRequest struct {
	fn   func(*module.Registry) error
	done chan error
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.New("module registry is required")
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator settings: %w", err)
	}

	settings := opts.Settings.withDefaults()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewOfflineFallback()
	}

	return &Orchestrator{
		settings:   settings,
		registry:   opts.Registry,
		router:     NewRouter(opts.Registry, settings.AcceptThreshold, opts.Policy),
		memory:     NewMemory(settings.WindowSize),
		fallback:   fallback,
		events:     opts.Events,
		channel:    opts.Channel,
		sessionKey: opts.SessionKey,
		log:        log.With("component", "agent.orchestrator", "session_key", opts.SessionKey),
		control:    make(chan controlRequest),
	}, nil
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// Faults counts dispatches whose executor ignored cancellation past the
// leak grace period.
func (o *Orchestrator) Faults() int64 {
	return o.faults.Load()
}

// Snapshot returns a copy of the conversation window.
func (o *Orchestrator) Snapshot() types.Snapshot {
	return o.memory.Snapshot()
}

func (o *Orchestrator) Registry() *module.Registry {
	return o.registry
}

func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// CancelCurrent cancels the in-flight dispatch, if any. The turn completes
// with a Cancelled result. It reports whether a dispatch was cancelled.
func (o *Orchestrator) CancelCurrent() bool {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()

	if o.cancelCurrent == nil {
		return false
	}

	o.cancelCurrent(ErrCancelled)
	return true
}

func (o *Orchestrator) setCurrentCancel(cancel context.CancelCauseFunc) {
	o.cancelMu.Lock()
	o.cancelCurrent = cancel
	o.cancelMu.Unlock()
}

// Do runs fn on the main loop between turns, so registry changes never
// interleave with routing or dispatch. When the orchestrator is not running
// fn runs on the caller's goroutine.
func (o *Orchestrator) Do(ctx context.Context, fn func(*module.Registry) error) error {
	if fn == nil {
		return nil
	}
	if !o.running.Load() {
		return fn(o.registry)
	}

	req := controlRequest{fn: fn, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case o.control <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.done:
		return err
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType bus.EventType, utt types.Utterance, payload map[string]string, err error) {
	if o.events == nil {
		return
	}

	event := bus.Event{
		Type:       eventType,
		Channel:    o.channel,
		SessionKey: o.sessionKey,
		RequestID:  utt.ID,
		Payload:    payload,
	}
	if err != nil {
		event.Error = err.Error()
	}

	// Events describing a shutdown turn must still reach observers.
	o.events.PublishEvent(context.WithoutCancel(ctx), event)
}
