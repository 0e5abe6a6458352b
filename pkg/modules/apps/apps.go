// Package apps launches allow-listed desktop applications and opens web
// pages through the configured opener.
package apps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"specter/pkg/agent/types"
	"specter/pkg/config"
	"specter/pkg/modules/match"
)

const ID = "apps"

var (
	urlRe = regexp.MustCompile(`(?i)\b(https?://\S+|www\.\S+|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|org|net|io|dev|edu|gov|app|ai|co|uk|de)(?:/\S*)?)`)

	searchRe = regexp.MustCompile(`(?i)^(?:please\s+)?(?:search\s+(?:the\s+)?(?:web|internet|online)\s+for|google|look\s+up|search\s+for)\s+(.+?)(?:\s+(?:online|on\s+the\s+web|on\s+the\s+internet|on\s+google))?\s*[?.!]*$`)
)

var launchVerbs = []string{"open", "launch", "start", "run", "execute", "fire up", "bring up"}

var nameStopWords = []string{
	"open", "launch", "start", "run", "execute", "fire", "bring", "up", "the", "a", "an", "app",
	"application", "program", "please", "can", "you", "for", "me", "my",
}

// Launcher starts a detached process.
type Launcher interface {
	Start(argv []string) error
}

// ExecLauncher starts processes with os/exec and reaps them in the
// background.
type ExecLauncher struct{}

func (ExecLauncher) Start(argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()

	return nil
}

type Module struct {
	launchers map[string][]string
	names     []string
	opener    []string
	searchURL string
	launcher  Launcher
	log       *slog.Logger
}

// New builds the module. A nil launcher uses ExecLauncher.
func New(cfg config.AppsConfig, launcher Launcher) *Module {
	if launcher == nil {
		launcher = ExecLauncher{}
	}

	launchers := make(map[string][]string, len(cfg.Launchers))
	names := make([]string, 0, len(cfg.Launchers))
	for name, argv := range cfg.Launchers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || len(argv) == 0 {
			continue
		}
		launchers[name] = argv
		names = append(names, name)
	}
	// Longest names first so "visual studio code" wins over "code".
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	return &Module{
		launchers: launchers,
		names:     names,
		opener:    cfg.Opener,
		searchURL: cfg.SearchURL,
		launcher:  launcher,
		log:       slog.Default().With("component", "modules.apps"),
	}
}

func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "Applications" }

func (m *Module) Available() bool {
	return len(m.launchers) > 0 || len(m.opener) > 0
}

func (m *Module) Help() []string {
	lines := []string{"open <app name>", "what apps can you open"}
	if len(m.opener) > 0 {
		lines = append(lines, "open example.com", "search the web for <query>")
	}
	return lines
}

func (m *Module) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	text := utt.Normalized()

	if match.HasAny(text, "what apps", "which apps", "list apps", "list applications", "what applications") {
		return m.matched(utt, 0.85, map[string]string{"action": "list"})
	}

	if sub := searchRe.FindStringSubmatch(utt.Text); sub != nil && isWebSearch(text) {
		return m.matched(utt, 0.85, map[string]string{"action": "search", "query": strings.TrimSpace(sub[1])})
	}

	if !match.HasAny(text, launchVerbs...) && !match.HasAny(text, "go to", "visit", "browse to") {
		return types.Match{}
	}

	if sub := urlRe.FindStringSubmatch(utt.Text); sub != nil {
		return m.matched(utt, 0.9, map[string]string{"action": "url", "url": strings.TrimRight(sub[1], ".,!?")})
	}

	for _, name := range m.names {
		if match.HasPhrase(text, name) {
			return m.matched(utt, 0.9, map[string]string{"action": "launch", "name": name})
		}
	}

	name := match.StripWords(text, nameStopWords...)
	if name == "" {
		return types.Match{}
	}
	confidence := 0.45
	if leadingVerb(text, "launch", "start", "run", "execute", "fire up") {
		confidence = 0.6
	}

	return m.matched(utt, confidence, map[string]string{"action": "launch", "name": name})
}

func (m *Module) matched(utt types.Utterance, confidence float64, slots map[string]string) types.Match {
	return types.Match{ModuleID: ID, Confidence: confidence, Utterance: utt, Slots: slots}
}

func leadingVerb(text string, verbs ...string) bool {
	for _, prefix := range []string{"please ", "can you ", "could you "} {
		text = strings.TrimPrefix(text, prefix)
	}
	for _, verb := range verbs {
		if strings.HasPrefix(text, verb+" ") {
			return true
		}
	}
	return false
}

// isWebSearch keeps "search for files" with the files module unless the
// web is named.
func isWebSearch(text string) bool {
	if match.HasAny(text, "google", "look up", "web", "internet", "online") {
		return true
	}
	return !match.HasAny(text, "file", "files", "folder", "folders")
}

func (m *Module) Execute(_ context.Context, mt types.Match, _ types.Snapshot) types.Result {
	switch mt.Slot("action") {
	case "list":
		return m.list()
	case "search":
		return m.search(mt.Slot("query"))
	case "url":
		return m.open(mt.Slot("url"))
	default:
		return m.launch(mt.Slot("name"))
	}
}

func (m *Module) launch(name string) types.Result {
	argv, ok := m.launchers[name]
	if !ok {
		err := fmt.Errorf("unknown application %q", name)
		if suggestions := m.suggest(name); len(suggestions) > 0 {
			return types.Failed(err, fmt.Sprintf("I don't know an app called '%s'. Did you mean: %s?", name, strings.Join(suggestions, ", ")))
		}
		return types.Failed(err, fmt.Sprintf("I don't know an app called '%s'.", name))
	}

	if err := m.launcher.Start(argv); err != nil {
		m.log.Error("launch failed", "app", name, "command", argv[0], "error", err)
		return types.Failed(err, fmt.Sprintf("I couldn't start %s.", match.Title(name)))
	}
	m.log.Info("application launched", "app", name, "command", argv[0])

	return types.Result{Status: types.StatusSuccess, Payload: fmt.Sprintf("Launching %s.", match.Title(name)), Data: map[string]string{"app": name}}
}

func (m *Module) open(target string) types.Result {
	if len(m.opener) == 0 {
		return types.Failed(errors.New("no opener configured"), "I don't have a browser set up to open links.")
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return types.Failed(err, "That doesn't look like a web address.")
	}

	argv := append(append([]string(nil), m.opener...), target)
	if err := m.launcher.Start(argv); err != nil {
		m.log.Error("open url failed", "url", target, "error", err)
		return types.Failed(err, "I couldn't open the browser.")
	}

	u, _ := url.Parse(target)
	return types.Result{Status: types.StatusSuccess, Payload: fmt.Sprintf("Opening %s.", u.Host), Data: map[string]string{"url": target}}
}

func (m *Module) search(query string) types.Result {
	if query == "" {
		return types.Failed(errors.New("empty query"), "What should I search for?")
	}
	if len(m.opener) == 0 {
		return types.Failed(errors.New("no opener configured"), "I don't have a browser set up for web searches.")
	}

	target := m.searchURL + url.QueryEscape(query)
	argv := append(append([]string(nil), m.opener...), target)
	if err := m.launcher.Start(argv); err != nil {
		m.log.Error("web search failed", "query", query, "error", err)
		return types.Failed(err, "I couldn't open the browser.")
	}

	return types.Result{Status: types.StatusSuccess, Payload: fmt.Sprintf("Searching the web for %s.", query), Data: map[string]string{"url": target}}
}

func (m *Module) list() types.Result {
	if len(m.launchers) == 0 {
		return types.Succeeded("No applications are set up yet.")
	}

	names := append([]string(nil), m.names...)
	sort.Strings(names)
	return types.Succeeded(fmt.Sprintf("I can open: %s.", strings.Join(names, ", ")))
}

// suggest returns up to three configured names sharing a word or prefix
// with name.
func (m *Module) suggest(name string) []string {
	words := match.Tokens(name)
	suggestions := make([]string, 0, 3)
	for _, candidate := range m.names {
		if len(suggestions) == 3 {
			break
		}
		if similar(candidate, words) {
			suggestions = append(suggestions, candidate)
		}
	}
	sort.Strings(suggestions)
	return suggestions
}

func similar(candidate string, words []string) bool {
	for _, cw := range match.Tokens(candidate) {
		for _, w := range words {
			if len(w) < 3 || len(cw) < 3 {
				continue
			}
			if strings.HasPrefix(cw, w) || strings.HasPrefix(w, cw) {
				return true
			}
		}
	}
	return false
}
