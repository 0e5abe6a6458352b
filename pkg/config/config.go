package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envConfigPath        = "SPECTER_CONFIG"
	envDotEnvPath        = "SPECTER_ENV_FILE"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envUserName          = "SPECTER_USER_NAME"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Agent        AgentConfig        `json:"agent"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Modules      ModulesConfig      `json:"modules"`
	Providers    ProvidersConfig    `json:"providers"`
	Channels     ChannelsConfig     `json:"channels"`
	Voice        VoiceConfig        `json:"voice"`
	Gateway      GatewayConfig      `json:"gateway"`
	Metrics      MetricsConfig      `json:"metrics"`
	Logging      LoggingConfig      `json:"logging,omitempty"`

	// Path is the file the config was read from, empty for built-in defaults.
	Path string `json:"-"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	// File receives logs instead of stderr when set.
	File string `json:"file,omitempty"`
}

// AgentConfig describes the conversational fallback.
type AgentConfig struct {
	// Provider is one of offline, openai, opencode, fantasy.
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	UserName     string  `json:"user_name"`
	Persona      string  `json:"persona"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	HistoryTurns int     `json:"history_turns"`
}

// OrchestratorConfig tunes session dispatch. Durations are milliseconds.
// AcceptThreshold is in (0, 1]; 0 means DefaultAcceptThreshold.
type OrchestratorConfig struct {
	WindowSize        int            `json:"window_size"`
	AcceptThreshold   float64        `json:"accept_threshold"`
	QueueDepth        *int           `json:"queue_depth,omitempty"`
	DefaultTimeoutMS  int            `json:"default_timeout_ms"`
	FallbackTimeoutMS int            `json:"fallback_timeout_ms"`
	DeliveryTimeoutMS int            `json:"delivery_timeout_ms"`
	LeakGraceMS       int            `json:"leak_grace_ms"`
	ModuleTimeoutsMS  map[string]int `json:"module_timeouts_ms,omitempty"`
}

// ModulesConfig carries per-module enable flags and settings. A module with
// no enabled flag is on.
type ModulesConfig struct {
	Weather   WeatherConfig   `json:"weather"`
	News      NewsConfig      `json:"news"`
	Reminders RemindersConfig `json:"reminders"`
	Calendar  CalendarConfig  `json:"calendar"`
	Files     FilesConfig     `json:"files"`
	Apps      AppsConfig      `json:"apps"`
	System    SystemConfig    `json:"system"`
	Music     MusicConfig     `json:"music"`
	Rules     []RuleConfig    `json:"rules,omitempty"`
}

// UpstreamConfig is shared by modules backed by a remote HTTP API.
type UpstreamConfig struct {
	BaseURL               string `json:"base_url,omitempty"`
	APIKeyEnv             string `json:"api_key_env,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty"`
	RatePerMinute         int    `json:"rate_per_minute,omitempty"`
	CacheTTLSeconds       int    `json:"cache_ttl_seconds,omitempty"`
}

type WeatherConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	DefaultCity string `json:"default_city"`
	Units       string `json:"units"`
	UpstreamConfig
}

type NewsConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Country  string `json:"country"`
	PageSize int    `json:"page_size"`
	UpstreamConfig
}

type RemindersConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	DBPath  string `json:"db_path"`
}

// CalendarConfig keeps events in the reminders database unless DBPath says
// otherwise.
type CalendarConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	DBPath  string `json:"db_path"`
}

type FilesConfig struct {
	Enabled      *bool    `json:"enabled,omitempty"`
	Roots        []string `json:"roots"`
	MaxResults   int      `json:"max_results"`
	MaxReadBytes int      `json:"max_read_bytes"`
}

type AppsConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Launchers maps a spoken application name to its argv.
	Launchers map[string][]string `json:"launchers,omitempty"`
	// Opener opens URLs, e.g. ["xdg-open"].
	Opener    []string `json:"opener,omitempty"`
	SearchURL string   `json:"search_url"`
}

type SystemConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

type MusicConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Player is the argv prefix used to play a file, e.g. ["mpv", "--no-video"].
	Player  []string `json:"player,omitempty"`
	Library string   `json:"library"`
}

// RuleConfig defines a module from a CEL match expression and a fixed reply.
type RuleConfig struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	When       string  `json:"when"`
	Confidence float64 `json:"confidence"`
	Reply      string  `json:"reply"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	APIKeyEnv             string `json:"api_key_env"`
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram"`
	WebSocket WebSocketConfig `json:"websocket"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// WebSocketConfig exposes sessions to desktop front-ends over the gateway.
type WebSocketConfig struct {
	Enabled        bool     `json:"enabled"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// VoiceConfig wires the external speech commands. Each command is an argv;
// the transcribe and speak commands receive their input as the last argument.
type VoiceConfig struct {
	RecordCommand     []string `json:"record_command,omitempty"`
	TranscribeCommand []string `json:"transcribe_command,omitempty"`
	SpeakCommand      []string `json:"speak_command,omitempty"`
	CommandTimeoutSec int      `json:"command_timeout_seconds,omitempty"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MetricsConfig controls the Prometheus endpoint on the gateway server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// IsEnabled treats an unset module flag as enabled.
func IsEnabled(flag *bool) bool {
	return flag == nil || *flag
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// LoadConfig loads .env, resolves config.json, unmarshals it, applies
// environment overrides, fills defaults and validates the result. Without a
// config file the built-in defaults are used.
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		cfg.Path = configPath
	}

	applyEnvOverrides(cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv reads KEY=value pairs without overriding the real environment.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(envDotEnvPath))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if name := strings.TrimSpace(os.Getenv(envUserName)); name != "" {
		cfg.Agent.UserName = name
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is SPECTER_CONFIG first, then cwd-local fallback paths. An
// empty path with no error means no config file exists.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
