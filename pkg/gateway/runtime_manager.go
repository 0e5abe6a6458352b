package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"specter/pkg/agent"
	agentruntime "specter/pkg/agent/runtime"
	"specter/pkg/agent/types"
	"specter/pkg/bus"
	"specter/pkg/metrics"
	"specter/pkg/module"
)

// runtimeManager owns one orchestrator session per gateway session key. All
// sessions share the module registry and the fallback.
type runtimeManager struct {
	ctx      context.Context
	settings agent.Settings
	registry *module.Registry
	fallback module.Fallback
	recorder *metrics.Recorder
	log      *slog.Logger

	mu       sync.RWMutex
	closed   bool
	sessions map[string]*sessionRuntime
}

type sessionRuntime struct {
	session      *agentruntime.Session
	stopObserver context.CancelFunc
}

func newRuntimeManager(ctx context.Context, settings agent.Settings, registry *module.Registry, fallback module.Fallback, recorder *metrics.Recorder, log *slog.Logger) (*runtimeManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if registry == nil {
		return nil, errors.New("module registry is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &runtimeManager{
		ctx:      ctx,
		settings: settings,
		registry: registry,
		fallback: fallback,
		recorder: recorder,
		log:      log.With("component", "gateway.runtime_manager"),
		sessions: make(map[string]*sessionRuntime),
	}, nil
}

// Prompt hands one inbound message to its session and waits for the reply.
// A busy session answers with the busy reply and no error.
func (m *runtimeManager) Prompt(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	route := agentruntime.Route{Channel: inbound.Channel, ChatID: inbound.ChatID, SessionKey: inbound.SessionKey}

	runtime, err := m.runtimeForSession(route)
	if err != nil {
		return errorOutbound(route, err), err
	}

	source := types.Source(strings.TrimSpace(inbound.Meta(bus.MetaSource)))
	reply, err := runtime.session.Prompt(ctx, inbound.Content, source)
	switch {
	case errors.Is(err, agent.ErrBusy):
		outbound := agentruntime.OutboundFromReply(route, reply)
		outbound.Error = err.Error()
		outbound.Metadata[bus.MetaBusy] = "true"
		return outbound, nil
	case err != nil:
		return errorOutbound(route, err), err
	}

	return agentruntime.OutboundFromReply(route, reply), nil
}

func (m *runtimeManager) runtimeForSession(route agentruntime.Route) (*sessionRuntime, error) {
	if strings.TrimSpace(route.SessionKey) == "" {
		return nil, errors.New("session key is required")
	}

	m.mu.RLock()
	runtime, ok := m.sessions[route.SessionKey]
	m.mu.RUnlock()
	if ok {
		return runtime, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, agentruntime.ErrSessionClosed
	}
	if runtime, ok := m.sessions[route.SessionKey]; ok {
		return runtime, nil
	}

	session, err := agentruntime.StartSession(m.ctx, agentruntime.SessionOptions{
		Route:         route,
		Settings:      m.settings,
		Registry:      m.registry,
		Fallback:      m.fallback,
		Logger:        m.log,
		ObserveEvents: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start session for %s: %w", route.SessionKey, err)
	}

	runtime = &sessionRuntime{session: session, stopObserver: func() {}}
	if m.recorder != nil {
		observeCtx, stop := context.WithCancel(m.ctx)
		events, unsubscribe := session.SubscribeEvents(observeCtx, 64)
		runtime.stopObserver = func() {
			stop()
			unsubscribe()
		}
		go m.recorder.Consume(observeCtx, events)
	}

	m.sessions[route.SessionKey] = runtime
	m.recorder.SetActiveSessions(len(m.sessions))
	m.log.Info("Session started", "session_key", route.SessionKey, "channel", route.Channel)

	return runtime, nil
}

// Len reports the number of live sessions.
func (m *runtimeManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close shuts every session down and refuses new ones.
func (m *runtimeManager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*sessionRuntime)
	m.mu.Unlock()

	for key, runtime := range sessions {
		if err := runtime.session.Close(); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("Session closed with error", "session_key", key, "error", err)
		}
		runtime.stopObserver()
	}
	m.recorder.SetActiveSessions(0)
}

func errorOutbound(route agentruntime.Route, err error) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:    route.Channel,
		ChatID:     route.ChatID,
		SessionKey: route.SessionKey,
		Error:      err.Error(),
	}
}
