package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"specter/pkg/config"
	"specter/pkg/logger"
	"specter/pkg/modules"
	"specter/pkg/modules/reminders"
)

const reminderPollInterval = 30 * time.Second

// app bundles what every command needs after startup.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	modules *modules.Set

	logCloser io.Closer
}

// bootstrap loads configuration, installs the default logger and builds the
// module registry.
func bootstrap(ctx context.Context, component string) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, closer, err := logger.Open(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	log := slog.Default().With("component", component)

	set, err := modules.Build(ctx, cfg.Modules, modules.Options{Log: appLogger})
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("build modules: %w", err)
	}

	log.Debug("Configuration loaded", "path", displayPath(cfg.Path), "modules", set.Registry.Len())

	return &app{cfg: cfg, log: log, modules: set, logCloser: closer}, nil
}

func (a *app) Close() {
	if err := a.modules.Close(); err != nil {
		a.log.Warn("Closing modules failed", "error", err)
	}
	_ = a.logCloser.Close()
}

// watchReminders runs until ctx is done, formatting each due reminder for
// notify.
func (a *app) watchReminders(ctx context.Context, notify func(string)) {
	if a.modules.Reminders == nil {
		return
	}

	a.modules.Reminders.Watch(ctx, reminderPollInterval, func(r reminders.Reminder) {
		notify(reminderNotice(r))
	})
}

func reminderNotice(r reminders.Reminder) string {
	return "Reminder: " + r.Message
}

func availableModules(set *modules.Set) (total int, available int) {
	for _, d := range set.Registry.Descriptors() {
		total++
		if d.Enabled && d.Available {
			available++
		}
	}
	return total, available
}

func displayPath(path string) string {
	if path == "" {
		return "(built-in defaults)"
	}
	return path
}
