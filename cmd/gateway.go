package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	agentruntime "specter/pkg/agent/runtime"
	"specter/pkg/channel"
	"specter/pkg/channel/telegram"
	"specter/pkg/channel/websocket"
	"specter/pkg/config"
	"specter/pkg/gateway"
	"specter/pkg/metrics"
)

const telegramChannelName = "telegram"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs Specter as a channel gateway (Telegram, WebSocket) with health, readiness, module and metrics endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := bootstrap(runCtx, "cmd.gateway")
		if err != nil {
			fmt.Printf("failed to start: %v\n", err)
			return
		}
		defer application.Close()
		log := application.log

		adapters, err := enabledAdapters(application.cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		fallback, client, err := agentruntime.ResolveFallback(application.cfg, log)
		if err != nil {
			log.Error("Failed to initialize fallback", "error", err)
			return
		}

		svc, err := gateway.NewService(runCtx, application.cfg, adapters, gateway.Options{
			Registry: application.modules.Registry,
			Fallback: fallback,
			Provider: client,
			Recorder: newRecorder(application.cfg),
		}, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		// Reminders have no chat to land in here, so they go to the log.
		go application.watchReminders(runCtx, func(text string) {
			log.Info("Reminder due", "notice", text)
		})

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"provider", application.cfg.Agent.Provider,
			"model", application.cfg.Agent.Model,
			"modules", application.modules.Registry.Len(),
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func newRecorder(cfg *config.Config) *metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewRecorder()
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.WebSocket.Enabled {
		adapters = append(adapters, websocket.NewAdapter(cfg.Channels.WebSocket, log))
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
