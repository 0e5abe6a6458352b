package runtime

import (
	"errors"
	"fmt"
	"log/slog"

	"specter/pkg/agent"
	"specter/pkg/config"
	"specter/pkg/module"
	"specter/pkg/provider"
)

// NewFallback wraps a provider client in the conversational fallback. A nil
// client selects the offline fallback.
func NewFallback(cfg *config.Config, client provider.Client, log *slog.Logger) module.Fallback {
	if client == nil {
		return agent.NewOfflineFallback(agent.WithUserName(cfg.Agent.UserName))
	}

	return agent.NewLLMFallback(client, agent.LLMFallbackOptions{
		Model:        cfg.Agent.Model,
		Persona:      cfg.Agent.Persona,
		UserName:     cfg.Agent.UserName,
		HistoryTurns: cfg.Agent.HistoryTurns,
		Logger:       log,
	})
}

// ResolveFallback builds the configured provider and its fallback. The
// returned client is nil when the agent runs offline.
func ResolveFallback(cfg *config.Config, log *slog.Logger) (module.Fallback, provider.Client, error) {
	client, err := provider.New(cfg)
	if err != nil {
		if errors.Is(err, provider.ErrNoProvider) {
			return NewFallback(cfg, nil, log), nil, nil
		}
		return nil, nil, fmt.Errorf("initialize provider: %w", err)
	}

	return NewFallback(cfg, client, log), client, nil
}
