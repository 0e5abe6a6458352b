package cmd

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"specter/pkg/agent/types"
	"specter/pkg/channel/console"
	"specter/pkg/config"
	"specter/pkg/module"
	"specter/pkg/modules"
	"specter/pkg/modules/reminders"
)

type echoModule struct{ available bool }

func (echoModule) ID() string          { return "echo" }
func (echoModule) DisplayName() string { return "Echo" }
func (m echoModule) Available() bool   { return m.available }

func (echoModule) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	if !strings.HasPrefix(utt.Normalized(), "echo ") {
		return types.Match{}
	}
	return types.Match{Confidence: 0.9}
}

func (echoModule) Execute(_ context.Context, match types.Match, _ types.Snapshot) types.Result {
	return types.Succeeded(strings.TrimPrefix(match.Utterance.Text, "echo "))
}

func newEchoRegistry(t *testing.T, available bool) *module.Registry {
	t.Helper()

	registry := module.NewRegistry(nil)
	if err := registry.Register(echoModule{available: available}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	return registry
}

func TestAssistantLines(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOut []string
	}{
		{name: "single line", input: "hello", wantOut: []string{"hello"}},
		{name: "multi line", input: "one\ntwo", wantOut: []string{"one", "two"}},
		{name: "trim outer whitespace", input: "  one\ntwo  ", wantOut: []string{"one", "two"}},
		{name: "empty input", input: "   ", wantOut: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assistantLines(tt.input)
			if !reflect.DeepEqual(got, tt.wantOut) {
				t.Fatalf("assistantLines(%q) = %#v, want %#v", tt.input, got, tt.wantOut)
			}
		})
	}
}

func TestResolvePrompt(t *testing.T) {
	original := promptText
	t.Cleanup(func() {
		promptText = original
	})

	promptText = " from-flag "
	if got := resolvePrompt([]string{"from", "args"}); got != "from-flag" {
		t.Fatalf("resolvePrompt with flag = %q, want %q", got, "from-flag")
	}

	promptText = ""
	if got := resolvePrompt([]string{"hello", "world"}); got != "hello world" {
		t.Fatalf("resolvePrompt with args = %q, want %q", got, "hello world")
	}

	if got := resolvePrompt(nil); got != "" {
		t.Fatalf("resolvePrompt without input = %q, want empty", got)
	}
}

func TestPrintAssistantMessage(t *testing.T) {
	var out bytes.Buffer
	printAssistantMessage(&out, "first\nsecond")
	if got := out.String(); got != "◉ first\n◉ second\n\n" {
		t.Fatalf("printAssistantMessage output = %q", got)
	}

	out.Reset()
	printAssistantMessage(&out, "   ")
	if out.Len() != 0 {
		t.Fatalf("expected no output for empty message, got %q", out.String())
	}
}

func TestRunDirectAnswersUntilExitWord(t *testing.T) {
	var out bytes.Buffer
	terminal := console.New(strings.NewReader("echo hello there\n\nbye\necho never\n"), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runDirect(ctx, config.Default(), newEchoRegistry(t, true), nil, terminal, terminal, cliRoute("plain"))
	if err != nil {
		t.Fatalf("runDirect error: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "hello there") {
		t.Fatalf("output missing echo reply: %q", output)
	}
	if strings.Contains(output, "never") {
		t.Fatalf("input after the exit word was handled: %q", output)
	}
}

func TestCLIRoute(t *testing.T) {
	route := cliRoute("voice")
	if route.Channel != "cli" || route.ChatID != "voice" || route.SessionKey != "local:voice" {
		t.Fatalf("cliRoute = %+v", route)
	}
}

func TestAvailableModules(t *testing.T) {
	registry := newEchoRegistry(t, false)
	total, available := availableModules(&modules.Set{Registry: registry})
	if total != 1 || available != 0 {
		t.Fatalf("availableModules = %d/%d, want 0/1", available, total)
	}

	registry = newEchoRegistry(t, true)
	if _, available = availableModules(&modules.Set{Registry: registry}); available != 1 {
		t.Fatalf("available = %d, want 1", available)
	}
}

func TestReminderNoticeAndDisplayPath(t *testing.T) {
	if got := reminderNotice(reminders.Reminder{Message: "stretch"}); got != "Reminder: stretch" {
		t.Fatalf("reminderNotice = %q", got)
	}
	if got := displayPath(""); got != "(built-in defaults)" {
		t.Fatalf("displayPath empty = %q", got)
	}
	if got := displayPath("/etc/specter.json"); got != "/etc/specter.json" {
		t.Fatalf("displayPath = %q", got)
	}
}
