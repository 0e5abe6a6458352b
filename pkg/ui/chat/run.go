package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"specter/pkg/agent/types"
)

type PromptFunc func(ctx context.Context, prompt string) (types.Reply, error)

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	UserName         string
	Provider         string
	Model            string
	Modules          int
	ModulesAvailable int
}

type Options struct {
	Prompt PromptFunc
	// Cancel aborts the in-flight request; optional.
	Cancel func() bool
	Info   RuntimeInfo
	// Notices are shown as they arrive, e.g. due reminders.
	Notices <-chan string
}

func RunInteractive(ctx context.Context, opts Options) error {
	program := tea.NewProgram(newModel(ctx, opts, modeInteractive, ""), tea.WithAltScreen(), tea.WithMouseCellMotion())
	go forwardNotices(ctx, program, opts.Notices)

	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner(opts.Info.UserName))
	return nil
}

func RunOneShot(ctx context.Context, opts Options, prompt string) error {
	program := tea.NewProgram(newModel(ctx, opts, modeOneShot, prompt))
	_, err := program.Run()
	return err
}

func forwardNotices(ctx context.Context, program *tea.Program, notices <-chan string) {
	if notices == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-notices:
			if !ok {
				return
			}
			program.Send(noticeMsg(text))
		}
	}
}

func renderGoodbyeBanner(userName string) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	if userName == "" {
		return style.Render("Goodbye!")
	}
	return style.Render(fmt.Sprintf("Goodbye, %s!", userName))
}
