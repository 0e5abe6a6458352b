package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, `{
	  "agent": {"provider": "openai", "model": "openai/gpt-4o-mini", "user_name": "Ada", "persona": "Workmate"},
	  "orchestrator": {"window_size": 8, "queue_depth": 0, "module_timeouts_ms": {"news": 4000}},
	  "modules": {
	    "weather": {"default_city": "Lisbon", "enabled": false},
	    "rules": [{"id": "coffee", "when": "text.contains('coffee')", "reply": "Time for a break."}]
	  },
	  "gateway": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)
	t.Setenv(envConfigPath, path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Path != path {
		t.Fatalf("path = %q, want %q", cfg.Path, path)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Agent.Persona != "workmate" {
		t.Fatalf("agent.persona = %q, want workmate", cfg.Agent.Persona)
	}
	if cfg.Orchestrator.QueueDepth == nil || *cfg.Orchestrator.QueueDepth != 0 {
		t.Fatalf("queue_depth = %v, want explicit 0", cfg.Orchestrator.QueueDepth)
	}
	if cfg.Orchestrator.WindowSize != 8 {
		t.Fatalf("window_size = %d, want 8", cfg.Orchestrator.WindowSize)
	}
	if cfg.Orchestrator.DefaultTimeoutMS != DefaultTimeoutMS {
		t.Fatalf("default_timeout_ms = %d, want default", cfg.Orchestrator.DefaultTimeoutMS)
	}
	if IsEnabled(cfg.Modules.Weather.Enabled) {
		t.Fatal("weather enabled, want disabled")
	}
	if !IsEnabled(cfg.Modules.News.Enabled) {
		t.Fatal("news disabled, want enabled by default")
	}
	if cfg.Modules.Weather.DefaultCity != "Lisbon" {
		t.Fatalf("weather.default_city = %q", cfg.Modules.Weather.DefaultCity)
	}
	if cfg.Modules.Rules[0].Confidence != 0.8 || cfg.Modules.Rules[0].Name != "coffee" {
		t.Fatalf("rule defaults not applied: %+v", cfg.Modules.Rules[0])
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(envConfigPath, "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("path = %q, want empty", cfg.Path)
	}
	if cfg.Agent.Provider != DefaultProvider {
		t.Fatalf("provider = %q, want %q", cfg.Agent.Provider, DefaultProvider)
	}
	if cfg.Gateway.Port != DefaultGatewayPort {
		t.Fatalf("gateway.port = %d, want %d", cfg.Gateway.Port, DefaultGatewayPort)
	}
	if *cfg.Orchestrator.QueueDepth != DefaultQueueDepth {
		t.Fatalf("queue_depth = %d, want %d", *cfg.Orchestrator.QueueDepth, DefaultQueueDepth)
	}
	if cfg.Modules.Calendar.DBPath != DefaultRemindersDBPath {
		t.Fatalf("calendar.db_path = %q, want the reminders database %q", cfg.Modules.Calendar.DBPath, DefaultRemindersDBPath)
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(envConfigPath, "")
	t.Setenv(envTelegramBotToken, "")
	os.Unsetenv(envTelegramBotToken)

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TELEGRAM_BOT_TOKEN=from-dotenv\nSPECTER_USER_NAME=Grace\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv(envUserName, "")
	os.Unsetenv(envUserName)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Channels.Telegram.Token != "from-dotenv" {
		t.Fatalf("telegram.token = %q, want from-dotenv", cfg.Channels.Telegram.Token)
	}
	if cfg.Agent.UserName != "Grace" {
		t.Fatalf("agent.user_name = %q, want Grace", cfg.Agent.UserName)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(envTelegramBotToken, "token-123")
	t.Setenv(envTelegramAllowFrom, " 42, ,alice ")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.Channels.Telegram.Token != "token-123" {
		t.Fatalf("token = %q", cfg.Channels.Telegram.Token)
	}
	if strings.Join(cfg.Channels.Telegram.AllowFrom, "|") != "42|alice" {
		t.Fatalf("allow_from = %#v", cfg.Channels.Telegram.AllowFrom)
	}
}

func TestValidate(t *testing.T) {
	negative := -1
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown provider", mutate: func(c *Config) { c.Agent.Provider = "gemini" }, wantErr: "agent.provider"},
		{name: "provider without model", mutate: func(c *Config) { c.Agent.Provider = "openai" }, wantErr: "agent.model"},
		{name: "threshold", mutate: func(c *Config) { c.Orchestrator.AcceptThreshold = 1.5 }, wantErr: "accept_threshold"},
		{name: "queue depth", mutate: func(c *Config) { c.Orchestrator.QueueDepth = &negative }, wantErr: "queue_depth"},
		{name: "timeout", mutate: func(c *Config) { c.Orchestrator.LeakGraceMS = -5 }, wantErr: "leak_grace_ms"},
		{name: "module timeout", mutate: func(c *Config) { c.Orchestrator.ModuleTimeoutsMS = map[string]int{"news": -1} }, wantErr: "module_timeouts_ms.news"},
		{name: "rule without when", mutate: func(c *Config) { c.Modules.Rules = []RuleConfig{{ID: "x", Confidence: 0.5}} }, wantErr: "when is required"},
		{name: "duplicate rule", mutate: func(c *Config) {
			c.Modules.Rules = []RuleConfig{{ID: "x", When: "true", Confidence: 0.5}, {ID: "x", When: "true", Confidence: 0.5}}
		}, wantErr: "duplicated"},
		{name: "port", mutate: func(c *Config) { c.Gateway.Port = 70000 }, wantErr: "gateway.port"},
		{name: "telegram token", mutate: func(c *Config) { c.Channels.Telegram.Enabled = true }, wantErr: "telegram.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsEnabled(t *testing.T) {
	on, off := true, false
	if !IsEnabled(nil) || !IsEnabled(&on) || IsEnabled(&off) {
		t.Fatal("IsEnabled mismatch")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/Music"); got != filepath.Join(home, "Music") {
		t.Fatalf("expandHome = %q", got)
	}
	if got := expandHome("/srv/music"); got != "/srv/music" {
		t.Fatalf("expandHome = %q", got)
	}
}
