package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"specter/pkg/agent"
	agentruntime "specter/pkg/agent/runtime"
	"specter/pkg/agent/types"
	"specter/pkg/bus"
	"specter/pkg/channel/console"
	"specter/pkg/config"
	"specter/pkg/module"
	"specter/pkg/speech"
	"specter/pkg/ui/chat"
)

var (
	promptText   string
	plainMode    bool
	voiceMode    bool
	observeEvent bool
)

var agentCmd = &cobra.Command{
	Use:   "agent [prompt]",
	Short: "Ask one question or start an interactive session",
	Long:  "Loads Specter configuration, registers the capability modules and either answers one prompt or starts an interactive session (terminal UI, --plain line mode or --voice).",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := bootstrap(ctx, "cmd.agent")
		if err != nil {
			fmt.Printf("failed to start: %v\n", err)
			return
		}
		defer application.Close()

		fallback, _, err := agentruntime.ResolveFallback(application.cfg, application.log)
		if err != nil {
			fmt.Printf("failed to initialize fallback: %v\n", err)
			return
		}

		prompt := resolvePrompt(args)
		switch {
		case voiceMode:
			err = runVoice(ctx, application, fallback)
		case plainMode && prompt != "":
			err = runSinglePrompt(ctx, application, fallback, prompt, os.Stdout)
		case plainMode:
			err = runPlain(ctx, application, fallback, os.Stdin, os.Stdout)
		default:
			err = runInteractive(ctx, application, fallback, prompt)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			application.log.Error("Agent session failed", "error", err)
			fmt.Printf("agent failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
	agentCmd.Flags().BoolVar(&plainMode, "plain", false, "use a plain line-oriented terminal instead of the UI")
	agentCmd.Flags().BoolVar(&voiceMode, "voice", false, "listen through the configured voice commands and speak replies")
	agentCmd.Flags().BoolVar(&observeEvent, "events", false, "log session lifecycle events")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// runInteractive drives the terminal UI, or the one-shot view when a prompt
// was given, over the bus-backed local session.
func runInteractive(ctx context.Context, a *app, fallback module.Fallback, prompt string) error {
	session, err := agentruntime.StartLocalSession(ctx, a.cfg, a.log, a.modules.Registry, fallback, observeEvent)
	if err != nil {
		return err
	}
	defer session.Close()

	total, available := availableModules(a.modules)
	opts := chat.Options{
		Prompt: session.Ask,
		Cancel: session.Cancel,
		Info: chat.RuntimeInfo{
			UserName:         a.cfg.Agent.UserName,
			Provider:         a.cfg.Agent.Provider,
			Model:            a.cfg.Agent.Model,
			Modules:          total,
			ModulesAvailable: available,
		},
	}

	if prompt != "" {
		return chat.RunOneShot(ctx, opts, prompt)
	}

	notices := make(chan string, 8)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watchReminders(watchCtx, func(text string) {
		select {
		case notices <- text:
		default:
		}
	})
	opts.Notices = notices

	return chat.RunInteractive(ctx, opts)
}

func runSinglePrompt(ctx context.Context, a *app, fallback module.Fallback, prompt string, out io.Writer) error {
	session, err := agentruntime.StartLocalSession(ctx, a.cfg, a.log, a.modules.Registry, fallback, observeEvent)
	if err != nil {
		return err
	}
	defer session.Close()

	reply, err := session.Ask(ctx, prompt)
	if err != nil {
		return err
	}

	printAssistantMessage(out, reply.Text)
	return nil
}

// runPlain wires the console terminal straight into an orchestrator.
func runPlain(ctx context.Context, a *app, fallback module.Fallback, in io.Reader, out io.Writer) error {
	terminal := console.New(in, out)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watchReminders(watchCtx, terminal.Notice)

	return runDirect(ctx, a.cfg, a.modules.Registry, fallback, terminal, terminal, cliRoute("plain"))
}

func runVoice(ctx context.Context, a *app, fallback module.Fallback) error {
	terminal := console.New(os.Stdin, os.Stdout)

	listener, err := speech.NewListener(a.cfg.Voice, speech.WithLogger(a.log), speech.WithNotice(terminal.Notice))
	if err != nil {
		return err
	}
	speaker, err := speech.NewSpeaker(a.cfg.Voice, terminal, speech.WithLogger(a.log))
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watchReminders(watchCtx, func(text string) {
		_ = speaker.Deliver(watchCtx, types.Reply{Text: text, ModuleID: "reminders", Status: types.StatusSuccess})
	})

	return runDirect(ctx, a.cfg, a.modules.Registry, fallback, listener, speaker, cliRoute("voice"))
}

func cliRoute(name string) agentruntime.Route {
	return agentruntime.Route{Channel: "cli", ChatID: name, SessionKey: "local:" + name}
}

func runDirect(ctx context.Context, cfg *config.Config, registry *module.Registry, fallback module.Fallback, src agent.InputSource, sink agent.OutputSink, route agentruntime.Route) error {
	events := bus.NewMessageBus()
	defer events.Close()

	if observeEvent {
		go agentruntime.ObserveEvents(ctx, events, nil)
	}

	orch, err := agent.New(agent.Options{
		Settings:   agent.SettingsFromConfig(cfg.Orchestrator),
		Registry:   registry,
		Fallback:   fallback,
		Events:     events,
		Channel:    route.Channel,
		SessionKey: route.SessionKey,
	})
	if err != nil {
		return err
	}

	return orch.Run(ctx, src, sink)
}

func printAssistantMessage(out io.Writer, message string) {
	lines := assistantLines(message)
	for _, line := range lines {
		fmt.Fprintf(out, "◉ %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Fprintln(out)
	}
}

func assistantLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}
