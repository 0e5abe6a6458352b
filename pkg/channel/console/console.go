// Package console reads utterances line by line from a terminal and prints
// replies with lipgloss styling.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"specter/pkg/agent"
	"specter/pkg/agent/types"
)

// ExitWords end the session when typed on their own.
var ExitWords = []string{"exit", "quit", "bye", "goodbye", ":q"}

// IsExit reports whether text is an exit word.
func IsExit(text string) bool {
	return slices.Contains(ExitWords, strings.ToLower(strings.TrimSpace(text)))
}

type styles struct {
	prompt lipgloss.Style
	name   lipgloss.Style
	module lipgloss.Style
	text   lipgloss.Style
	failed lipgloss.Style
	busy   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		prompt: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		name:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("44")),
		module: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		text:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		failed: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		busy:   lipgloss.NewStyle().Foreground(lipgloss.Color("222")).Italic(true),
	}
}

// Terminal is an input source and an output sink over one reader/writer
// pair. The prompt is printed before every read.
type Terminal struct {
	out    io.Writer
	styles styles

	lines chan string
	errs  chan error
	start sync.Once
	in    io.Reader

	writeMu sync.Mutex
}

func New(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:     in,
		out:    out,
		styles: defaultStyles(),
		lines:  make(chan string),
		errs:   make(chan error, 1),
	}
}

// scan runs for the life of the reader; a blocked terminal read cannot be
// interrupted, so NextUtterance abandons it on ctx instead.
func (t *Terminal) scan() {
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		t.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		t.errs <- err
		return
	}
	t.errs <- io.EOF
}

func (t *Terminal) NextUtterance(ctx context.Context) (types.Utterance, error) {
	t.start.Do(func() { go t.scan() })

	for {
		t.printf("%s ", t.styles.prompt.Render("You ›"))

		select {
		case <-ctx.Done():
			return types.Utterance{}, ctx.Err()
		case err := <-t.errs:
			t.printf("\n")
			return types.Utterance{}, err
		case line := <-t.lines:
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if IsExit(text) {
				return types.Utterance{}, agent.ErrSourceClosed
			}
			return types.NewUtterance(text, types.SourceTyped), nil
		}
	}
}

func (t *Terminal) NotifyBusy(_ context.Context, utt types.Utterance) {
	t.printf("%s\n", t.styles.busy.Render(fmt.Sprintf("Still working on the last request; dropped %q.", utt.Text)))
}

// Notice prints an out-of-band line such as a due reminder.
func (t *Terminal) Notice(text string) {
	t.printf("\n%s\n", t.styles.busy.Render(text))
}

func (t *Terminal) Deliver(_ context.Context, reply types.Reply) error {
	header := t.styles.name.Render("Specter")
	if reply.ModuleID != "" {
		header += " " + t.styles.module.Render("["+reply.ModuleID+"]")
	}

	body := t.styles.text
	if reply.Status != types.StatusSuccess && reply.Status != "" {
		body = t.styles.failed
	}

	return t.printf("%s\n%s\n\n", header, body.Render(reply.Text))
}

func (t *Terminal) printf(format string, args ...any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_, err := fmt.Fprintf(t.out, format, args...)
	return err
}

var (
	_ agent.InputSource = (*Terminal)(nil)
	_ agent.OutputSink  = (*Terminal)(nil)
)
