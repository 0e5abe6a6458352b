package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	DefaultProvider          = "offline"
	DefaultWindowSize        = 20
	DefaultAcceptThreshold   = 0.5
	DefaultQueueDepth        = 1
	DefaultTimeoutMS         = 10_000
	DefaultFallbackTimeoutMS = 30_000
	DefaultDeliveryTimeoutMS = 5_000
	DefaultLeakGraceMS       = 2_000
	DefaultGatewayHost       = "127.0.0.1"
	DefaultGatewayPort       = 18790
	DefaultMetricsPath       = "/metrics"
	DefaultWebSocketPath     = "/ws"
	DefaultWeatherCacheTTL   = 600
	DefaultRemindersDBPath   = "data/reminders.db"
)

var providers = []string{"offline", "openai", "opencode", "fantasy"}

// Normalize trims string fields and fills every unset value with its
// default. It never overrides an explicit setting.
func (c *Config) Normalize() {
	c.Agent.Provider = strings.ToLower(strings.TrimSpace(c.Agent.Provider))
	if c.Agent.Provider == "" {
		c.Agent.Provider = DefaultProvider
	}
	c.Agent.Model = strings.TrimSpace(c.Agent.Model)
	c.Agent.UserName = strings.TrimSpace(c.Agent.UserName)
	c.Agent.Persona = strings.ToLower(strings.TrimSpace(c.Agent.Persona))

	o := &c.Orchestrator
	if o.WindowSize == 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.AcceptThreshold == 0 {
		o.AcceptThreshold = DefaultAcceptThreshold
	}
	if o.QueueDepth == nil {
		depth := DefaultQueueDepth
		o.QueueDepth = &depth
	}
	if o.DefaultTimeoutMS == 0 {
		o.DefaultTimeoutMS = DefaultTimeoutMS
	}
	if o.FallbackTimeoutMS == 0 {
		o.FallbackTimeoutMS = DefaultFallbackTimeoutMS
	}
	if o.DeliveryTimeoutMS == 0 {
		o.DeliveryTimeoutMS = DefaultDeliveryTimeoutMS
	}
	if o.LeakGraceMS == 0 {
		o.LeakGraceMS = DefaultLeakGraceMS
	}

	m := &c.Modules
	if m.Weather.Units == "" {
		m.Weather.Units = "metric"
	}
	if m.Weather.BaseURL == "" {
		m.Weather.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if m.Weather.APIKeyEnv == "" {
		m.Weather.APIKeyEnv = "WEATHER_API_KEY"
	}
	if m.Weather.CacheTTLSeconds == 0 {
		m.Weather.CacheTTLSeconds = DefaultWeatherCacheTTL
	}
	if m.News.BaseURL == "" {
		m.News.BaseURL = "https://newsapi.org/v2"
	}
	if m.News.APIKeyEnv == "" {
		m.News.APIKeyEnv = "NEWS_API_KEY"
	}
	if m.News.Country == "" {
		m.News.Country = "us"
	}
	if m.News.PageSize == 0 {
		m.News.PageSize = 5
	}
	if m.News.CacheTTLSeconds == 0 {
		m.News.CacheTTLSeconds = 300
	}
	if m.Reminders.DBPath == "" {
		m.Reminders.DBPath = DefaultRemindersDBPath
	}
	if m.Calendar.DBPath == "" {
		m.Calendar.DBPath = m.Reminders.DBPath
	}
	if len(m.Files.Roots) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			m.Files.Roots = []string{home}
		}
	}
	for i, root := range m.Files.Roots {
		m.Files.Roots[i] = expandHome(strings.TrimSpace(root))
	}
	if m.Files.MaxResults == 0 {
		m.Files.MaxResults = 10
	}
	if m.Files.MaxReadBytes == 0 {
		m.Files.MaxReadBytes = 4096
	}
	if m.Apps.SearchURL == "" {
		m.Apps.SearchURL = "https://duckduckgo.com/?q="
	}
	m.Music.Library = expandHome(strings.TrimSpace(m.Music.Library))
	for i := range m.Rules {
		m.Rules[i].ID = strings.TrimSpace(m.Rules[i].ID)
		if m.Rules[i].Name == "" {
			m.Rules[i].Name = m.Rules[i].ID
		}
		if m.Rules[i].Confidence == 0 {
			m.Rules[i].Confidence = 0.8
		}
	}

	if c.Channels.WebSocket.Path == "" {
		c.Channels.WebSocket.Path = DefaultWebSocketPath
	}
	if c.Voice.CommandTimeoutSec == 0 {
		c.Voice.CommandTimeoutSec = 30
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = DefaultGatewayHost
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(providers, c.Agent.Provider) {
		errs = append(errs, fmt.Errorf("agent.provider %q is not one of %s", c.Agent.Provider, strings.Join(providers, ", ")))
	}
	if c.Agent.Provider != DefaultProvider && c.Agent.Model == "" {
		errs = append(errs, fmt.Errorf("agent.model is required for provider %q", c.Agent.Provider))
	}

	o := c.Orchestrator
	if o.WindowSize < 0 {
		errs = append(errs, errors.New("orchestrator.window_size must not be negative"))
	}
	if o.AcceptThreshold < 0 || o.AcceptThreshold > 1 {
		errs = append(errs, errors.New("orchestrator.accept_threshold must be within (0, 1], or 0 for the default"))
	}
	if o.QueueDepth != nil && *o.QueueDepth < 0 {
		errs = append(errs, errors.New("orchestrator.queue_depth must not be negative"))
	}
	for name, value := range map[string]int{
		"default_timeout_ms":  o.DefaultTimeoutMS,
		"fallback_timeout_ms": o.FallbackTimeoutMS,
		"delivery_timeout_ms": o.DeliveryTimeoutMS,
		"leak_grace_ms":       o.LeakGraceMS,
	} {
		if value < 0 {
			errs = append(errs, fmt.Errorf("orchestrator.%s must not be negative", name))
		}
	}
	for id, value := range o.ModuleTimeoutsMS {
		if value < 0 {
			errs = append(errs, fmt.Errorf("orchestrator.module_timeouts_ms.%s must not be negative", id))
		}
	}

	seen := map[string]bool{}
	for i, rule := range c.Modules.Rules {
		switch {
		case rule.ID == "":
			errs = append(errs, fmt.Errorf("modules.rules[%d].id is required", i))
		case seen[rule.ID]:
			errs = append(errs, fmt.Errorf("modules.rules[%d].id %q is duplicated", i, rule.ID))
		}
		seen[rule.ID] = true
		if strings.TrimSpace(rule.When) == "" {
			errs = append(errs, fmt.Errorf("modules.rules[%d].when is required", i))
		}
		if rule.Confidence <= 0 || rule.Confidence > 1 {
			errs = append(errs, fmt.Errorf("modules.rules[%d].confidence must be within (0, 1]", i))
		}
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port))
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		errs = append(errs, errors.New("channels.telegram.token is required when telegram is enabled"))
	}

	return errors.Join(errs...)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
