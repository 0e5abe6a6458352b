package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"specter/pkg/agent"
	"specter/pkg/agent/types"
	"specter/pkg/bus"
	"specter/pkg/module"
)

// ErrSessionClosed is returned by Prompt once the session has shut down.
var ErrSessionClosed = errors.New("session closed")

type SessionOptions struct {
	Route    Route
	Settings agent.Settings
	Registry *module.Registry
	Fallback module.Fallback
	Logger   *slog.Logger
	// ObserveEvents logs orchestrator lifecycle events.
	ObserveEvents bool
}

// Session runs one orchestrator behind an in-process message bus. Prompt
// publishes inbound messages and waits for the matching outbound reply, so
// every caller shares the transport semantics of the channel adapters.
type Session struct {
	route Route
	orch  *agent.Orchestrator
	bus   *bus.MessageBus
	log   *slog.Logger

	cancelRun context.CancelFunc
	runDone   chan struct{}
	runErr    error
	collected chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan bus.OutboundMessage
}

func StartSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	messageBus := bus.NewMessageBusWithBuffer(1)
	orch, err := agent.New(agent.Options{
		Settings:   opts.Settings,
		Registry:   opts.Registry,
		Fallback:   opts.Fallback,
		Events:     messageBus,
		Channel:    opts.Route.Channel,
		SessionKey: opts.Route.SessionKey,
		Logger:     log,
	})
	if err != nil {
		messageBus.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	s := &Session{
		route:     opts.Route,
		orch:      orch,
		bus:       messageBus,
		log:       log.With("component", "agent.session", "session_key", opts.Route.SessionKey),
		cancelRun: cancelRun,
		runDone:   make(chan struct{}),
		collected: make(chan struct{}),
		pending:   make(map[string]chan bus.OutboundMessage),
	}

	if opts.ObserveEvents {
		go ObserveEvents(runCtx, messageBus, log)
	}
	go s.collect()
	go func() {
		defer close(s.runDone)
		s.runErr = orch.Run(runCtx, NewBusSource(messageBus, opts.Route), NewBusSink(messageBus, opts.Route))
	}()

	return s, nil
}

func (s *Session) Orchestrator() *agent.Orchestrator {
	return s.orch
}

func (s *Session) Route() Route {
	return s.route
}

// SubscribeEvents exposes the session's lifecycle events to observers such
// as metrics.
func (s *Session) SubscribeEvents(ctx context.Context, buffer int) (<-chan bus.Event, func()) {
	return s.bus.SubscribeEvents(ctx, buffer)
}

// Prompt submits one utterance and waits for its reply. A rejected utterance
// returns the busy reply together with agent.ErrBusy.
func (s *Session) Prompt(ctx context.Context, text string, source types.Source) (types.Reply, error) {
	utt := types.NewUtterance(text, source)
	if utt.Text == "" {
		return types.Reply{}, errors.New("prompt is required")
	}

	wait := make(chan bus.OutboundMessage, 1)
	s.mu.Lock()
	s.pending[utt.ID] = wait
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, utt.ID)
		s.mu.Unlock()
	}()

	inbound := bus.InboundMessage{
		Channel:    s.route.Channel,
		ChatID:     s.route.ChatID,
		SessionKey: s.route.SessionKey,
		Content:    utt.Text,
		Metadata: map[string]string{
			bus.MetaUtteranceID: utt.ID,
			bus.MetaSource:      string(utt.Source),
		},
	}
	if ok := s.bus.PublishInbound(ctx, inbound); !ok {
		if err := ctx.Err(); err != nil {
			return types.Reply{}, err
		}
		return types.Reply{}, ErrSessionClosed
	}

	select {
	case outbound := <-wait:
		reply := ReplyFromOutbound(outbound)
		if IsBusy(outbound) {
			return reply, agent.ErrBusy
		}
		return reply, nil
	case <-ctx.Done():
		return types.Reply{}, ctx.Err()
	case <-s.collected:
		return types.Reply{}, ErrSessionClosed
	}
}

// collect routes outbound replies to their waiting Prompt calls until the
// bus closes.
func (s *Session) collect() {
	defer close(s.collected)

	for {
		outbound, ok := s.bus.SubscribeOutbound(context.Background())
		if !ok {
			return
		}

		id := outbound.Meta(bus.MetaUtteranceID)
		s.mu.Lock()
		wait, found := s.pending[id]
		s.mu.Unlock()
		if !found {
			s.log.Debug("Dropping reply without a waiting caller", "request_id", id)
			continue
		}
		wait <- outbound
	}
}

// Close stops the orchestrator, waits for queued utterances to be answered
// and releases the bus. It returns the orchestrator's exit error.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}

	s.closeOnce.Do(func() {
		s.cancelRun()
		<-s.runDone
		s.bus.Close()
		<-s.collected
	})

	return s.runErr
}
