// Package modules assembles the built-in capability modules and configured
// rule modules into a registry.
package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"specter/pkg/config"
	"specter/pkg/module"
	"specter/pkg/modules/apps"
	"specter/pkg/modules/calendar"
	"specter/pkg/modules/files"
	"specter/pkg/modules/music"
	"specter/pkg/modules/news"
	"specter/pkg/modules/reminders"
	"specter/pkg/modules/rules"
	"specter/pkg/modules/system"
	"specter/pkg/modules/weather"
)

type Options struct {
	Getenv     func(string) string
	HTTPClient *http.Client
	Now        func() time.Time
	Log        *slog.Logger

	// Test seams; nil uses the real implementations.
	Launcher apps.Launcher
	Player   music.Starter
	Probe    system.Probe
}

// Set is a built registry plus the resources its modules hold.
type Set struct {
	Registry  *module.Registry
	Reminders *reminders.Module

	closers []module.Closer
}

// Build registers weather, news, reminders, calendar, files, apps, system,
// music and then every configured rule, in that order. Disabled modules are still
// registered so status can report them.
func Build(ctx context.Context, cfg config.ModulesConfig, opts Options) (*Set, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	log := opts.Log.With("component", "modules")

	set := &Set{Registry: module.NewRegistry(opts.Log)}

	var store *reminders.Store
	if config.IsEnabled(cfg.Reminders.Enabled) {
		var err error
		store, err = reminders.OpenStore(ctx, cfg.Reminders.DBPath)
		if err != nil {
			log.Warn("reminder store unavailable", "path", cfg.Reminders.DBPath, "error", err)
		}
	}
	set.Reminders = reminders.New(store, opts.Now)

	var events *calendar.Store
	if config.IsEnabled(cfg.Calendar.Enabled) {
		var err error
		events, err = calendar.OpenStore(ctx, cfg.Calendar.DBPath)
		if err != nil {
			log.Warn("calendar store unavailable", "path", cfg.Calendar.DBPath, "error", err)
		}
	}

	builtins := []struct {
		module  module.Module
		enabled *bool
	}{
		{weather.New(cfg.Weather, weather.Options{APIKey: apiKey(opts.Getenv, cfg.Weather.APIKeyEnv), HTTPClient: opts.HTTPClient}), cfg.Weather.Enabled},
		{news.New(cfg.News, news.Options{APIKey: apiKey(opts.Getenv, cfg.News.APIKeyEnv), HTTPClient: opts.HTTPClient}), cfg.News.Enabled},
		{set.Reminders, cfg.Reminders.Enabled},
		{calendar.New(events, opts.Now), cfg.Calendar.Enabled},
		{files.New(cfg.Files), cfg.Files.Enabled},
		{apps.New(cfg.Apps, opts.Launcher), cfg.Apps.Enabled},
		{system.New(opts.Probe), cfg.System.Enabled},
		{music.New(cfg.Music, opts.Player), cfg.Music.Enabled},
	}

	for _, b := range builtins {
		if err := set.add(b.module, config.IsEnabled(b.enabled)); err != nil {
			_ = set.Close()
			return nil, err
		}
	}

	ruleModules, err := rules.Compile(cfg.Rules)
	if err != nil {
		_ = set.Close()
		return nil, err
	}
	for _, m := range ruleModules {
		if err := set.add(m, true); err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("register rule: %w", err)
		}
	}

	for _, d := range set.Registry.Descriptors() {
		log.Debug("module ready", "module_id", d.ID, "enabled", d.Enabled, "available", d.Available)
	}

	return set, nil
}

func (s *Set) add(m module.Module, enabled bool) error {
	if err := s.Registry.Register(m); err != nil {
		return err
	}
	if c, ok := m.(module.Closer); ok {
		s.closers = append(s.closers, c)
	}
	if !enabled {
		return s.Registry.SetEnabled(m.ID(), false)
	}
	return nil
}

// Close releases module resources in reverse registration order.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func apiKey(getenv func(string) string, name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(getenv(name))
}
