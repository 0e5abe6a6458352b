package agent

import (
	"testing"
	"time"

	"specter/pkg/config"
	"specter/pkg/module"
)

func TestSettingsTimeoutFor(t *testing.T) {
	s := Settings{ModuleTimeouts: map[string]time.Duration{"news": 3 * time.Second, "music": 0}}.withDefaults()

	tests := []struct {
		moduleID string
		want     time.Duration
	}{
		{moduleID: "news", want: 3 * time.Second},
		{moduleID: "music", want: DefaultTimeout},
		{moduleID: "weather", want: DefaultTimeout},
		{moduleID: "", want: DefaultFallbackTimeout},
	}

	for _, tt := range tests {
		if got := s.timeoutFor(tt.moduleID); got != tt.want {
			t.Fatalf("timeoutFor(%q) = %v, want %v", tt.moduleID, got, tt.want)
		}
	}
}

func TestSettingsWithDefaultsKeepsZeroQueueDepth(t *testing.T) {
	s := Settings{}.withDefaults()
	if s.QueueDepth != 0 {
		t.Fatalf("queue depth = %d, want 0", s.QueueDepth)
	}
	if s.WindowSize != DefaultWindowSize || s.AcceptThreshold != DefaultAcceptThreshold {
		t.Fatalf("defaults not applied: %+v", s)
	}
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{name: "defaults", s: DefaultSettings()},
		{name: "negative window", s: Settings{WindowSize: -1}, wantErr: true},
		{name: "threshold above one", s: Settings{AcceptThreshold: 1.2}, wantErr: true},
		{name: "negative threshold", s: Settings{AcceptThreshold: -0.1}, wantErr: true},
		{name: "zero threshold is the default", s: Settings{AcceptThreshold: 0}},
		{name: "negative queue", s: Settings{QueueDepth: -3}, wantErr: true},
		{name: "negative module timeout", s: Settings{ModuleTimeouts: map[string]time.Duration{"news": -time.Second}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsFromConfig(t *testing.T) {
	depth := 0
	s := SettingsFromConfig(config.OrchestratorConfig{
		WindowSize:       5,
		AcceptThreshold:  0.6,
		QueueDepth:       &depth,
		DefaultTimeoutMS: 1500,
		LeakGraceMS:      250,
		ModuleTimeoutsMS: map[string]int{" news ": 4000},
	})

	if s.QueueDepth != 0 {
		t.Fatalf("queue depth = %d, want 0", s.QueueDepth)
	}
	if s.DefaultTimeout != 1500*time.Millisecond {
		t.Fatalf("default timeout = %v", s.DefaultTimeout)
	}
	if s.LeakGrace != 250*time.Millisecond {
		t.Fatalf("leak grace = %v", s.LeakGrace)
	}
	if got := s.withDefaults().timeoutFor("news"); got != 4*time.Second {
		t.Fatalf("news timeout = %v, want 4s", got)
	}

	if got := SettingsFromConfig(config.OrchestratorConfig{}).QueueDepth; got != DefaultQueueDepth {
		t.Fatalf("unset queue depth = %d, want %d", got, DefaultQueueDepth)
	}
}

func TestZeroThresholdRoutesAtDefault(t *testing.T) {
	orch, err := New(Options{Registry: module.NewRegistry(nil), Settings: Settings{AcceptThreshold: 0}})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := orch.router.Threshold(); got != DefaultAcceptThreshold {
		t.Fatalf("router threshold = %v, want %v", got, DefaultAcceptThreshold)
	}
	if got := orch.settings.AcceptThreshold; got != DefaultAcceptThreshold {
		t.Fatalf("settings threshold = %v, want %v", got, DefaultAcceptThreshold)
	}

	cfg := config.Default()
	cfg.Orchestrator.AcceptThreshold = 0
	cfg.Normalize()
	if got := SettingsFromConfig(cfg.Orchestrator).AcceptThreshold; got != config.DefaultAcceptThreshold {
		t.Fatalf("config threshold = %v, want %v", got, config.DefaultAcceptThreshold)
	}
}
