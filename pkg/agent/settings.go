package agent

import (
	"fmt"
	"strings"
	"time"

	"specter/pkg/config"
)

const (
	DefaultQueueDepth      = 1
	DefaultTimeout         = 10 * time.Second
	DefaultFallbackTimeout = 30 * time.Second
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultLeakGrace       = 2 * time.Second
)

// Settings tunes one orchestrator. Zero values select defaults, except
// QueueDepth where 0 means "accept only while idle".
type Settings struct {
	WindowSize      int
	AcceptThreshold float64
	QueueDepth      int
	DefaultTimeout  time.Duration
	FallbackTimeout time.Duration
	ModuleTimeouts  map[string]time.Duration
	DeliveryTimeout time.Duration
	LeakGrace       time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		WindowSize:      DefaultWindowSize,
		AcceptThreshold: DefaultAcceptThreshold,
		QueueDepth:      DefaultQueueDepth,
		DefaultTimeout:  DefaultTimeout,
		FallbackTimeout: DefaultFallbackTimeout,
		DeliveryTimeout: DefaultDeliveryTimeout,
		LeakGrace:       DefaultLeakGrace,
	}
}

// SettingsFromConfig converts the orchestrator section of the config file.
func SettingsFromConfig(cfg config.OrchestratorConfig) Settings {
	s := Settings{
		WindowSize:      cfg.WindowSize,
		AcceptThreshold: cfg.AcceptThreshold,
		QueueDepth:      DefaultQueueDepth,
		DefaultTimeout:  millis(cfg.DefaultTimeoutMS),
		FallbackTimeout: millis(cfg.FallbackTimeoutMS),
		DeliveryTimeout: millis(cfg.DeliveryTimeoutMS),
		LeakGrace:       millis(cfg.LeakGraceMS),
	}
	if cfg.QueueDepth != nil {
		s.QueueDepth = *cfg.QueueDepth
	}
	if len(cfg.ModuleTimeoutsMS) > 0 {
		s.ModuleTimeouts = make(map[string]time.Duration, len(cfg.ModuleTimeoutsMS))
		for id, ms := range cfg.ModuleTimeoutsMS {
			s.ModuleTimeouts[strings.TrimSpace(id)] = millis(ms)
		}
	}

	return s
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (s Settings) Validate() error {
	if s.WindowSize < 0 {
		return fmt.Errorf("window size must not be negative, got %d", s.WindowSize)
	}
	if s.AcceptThreshold < 0 || s.AcceptThreshold > 1 {
		return fmt.Errorf("accept threshold must be within (0, 1], or 0 for the default, got %v", s.AcceptThreshold)
	}
	if s.QueueDepth < 0 {
		return fmt.Errorf("queue depth must not be negative, got %d", s.QueueDepth)
	}
	for id, timeout := range s.ModuleTimeouts {
		if timeout < 0 {
			return fmt.Errorf("timeout for module %q must not be negative", id)
		}
	}

	return nil
}

func (s Settings) withDefaults() Settings {
	if s.WindowSize == 0 {
		s.WindowSize = DefaultWindowSize
	}
	if s.AcceptThreshold == 0 {
		s.AcceptThreshold = DefaultAcceptThreshold
	}
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = DefaultTimeout
	}
	if s.FallbackTimeout <= 0 {
		s.FallbackTimeout = DefaultFallbackTimeout
	}
	if s.DeliveryTimeout <= 0 {
		s.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if s.LeakGrace <= 0 {
		s.LeakGrace = DefaultLeakGrace
	}

	return s
}

// timeoutFor returns the dispatch budget for a module id, or the fallback
// budget when moduleID is empty.
func (s Settings) timeoutFor(moduleID string) time.Duration {
	if moduleID == "" {
		return s.FallbackTimeout
	}
	if timeout, ok := s.ModuleTimeouts[strings.TrimSpace(moduleID)]; ok && timeout > 0 {
		return timeout
	}

	return s.DefaultTimeout
}
