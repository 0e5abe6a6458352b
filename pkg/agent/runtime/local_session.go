package runtime

import (
	"context"
	"errors"
	"log/slog"

	"specter/pkg/agent"
	"specter/pkg/agent/types"
	"specter/pkg/config"
	"specter/pkg/module"
)

const (
	cliChannelName = "cli"
	cliChatID      = "local"
	cliSessionKey  = "local"
)

// LocalSession coordinates the single interactive CLI session.
//
// It owns:
//   - one orchestrator behind an in-process message bus,
//   - the bus reply collector,
//   - and (optionally) one lifecycle event logger.
//
// Prompts are routed through the bus so UI code and gateway channels share
// the same transport semantics.
type LocalSession struct {
	*Session
}

func StartLocalSession(ctx context.Context, cfg *config.Config, log *slog.Logger, registry *module.Registry, fallback module.Fallback, observeEvents bool) (*LocalSession, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if registry == nil {
		return nil, errors.New("module registry is required")
	}

	session, err := StartSession(ctx, SessionOptions{
		Route: Route{
			Channel:    cliChannelName,
			ChatID:     cliChatID,
			SessionKey: cliSessionKey,
		},
		Settings:      agent.SettingsFromConfig(cfg.Orchestrator),
		Registry:      registry,
		Fallback:      fallback,
		Logger:        log,
		ObserveEvents: observeEvents,
	})
	if err != nil {
		return nil, err
	}

	return &LocalSession{Session: session}, nil
}

// Ask submits typed text and waits for the reply.
func (s *LocalSession) Ask(ctx context.Context, text string) (types.Reply, error) {
	if s == nil || s.Session == nil {
		return types.Reply{}, errors.New("local session is nil")
	}

	return s.Prompt(ctx, text, types.SourceTyped)
}

// Cancel stops the in-flight request, if any.
func (s *LocalSession) Cancel() bool {
	if s == nil || s.Session == nil {
		return false
	}

	return s.Orchestrator().CancelCurrent()
}
