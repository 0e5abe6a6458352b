package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"specter/pkg/config"
	providerfantasy "specter/pkg/provider/fantasy"
	provideropenai "specter/pkg/provider/openai"
	"specter/pkg/provider/opencode"
	providertypes "specter/pkg/provider/types"
)

// ErrNoProvider is returned when the agent is configured to run offline.
var ErrNoProvider = errors.New("no language model provider configured")

type Client interface {
	Health(ctx context.Context) error
	Complete(ctx context.Context, req providertypes.Request) (providertypes.PromptResult, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := cfg.Agent.Provider
	if providerID == "" {
		providerID = config.DefaultProvider
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "offline":
		return nil, ErrNoProvider
	case "opencode":
		return opencode.New(cfg)
	case "openai":
		return provideropenai.New(cfg)
	case "fantasy":
		return providerfantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
