// Package music plays tracks from the local music library through an
// external player. At most one playback runs at a time.
package music

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"specter/pkg/agent/types"
	"specter/pkg/config"
	"specter/pkg/modules/match"
	fstools "specter/pkg/tools/fs"
	"specter/pkg/workspace"
)

const ID = "music"

var audioExtensions = []string{".mp3", ".flac", ".ogg", ".wav", ".m4a", ".aac", ".opus"}

var queryStopWords = []string{
	"play", "music", "song", "songs", "some", "the", "a", "me", "please", "track", "put", "on",
	"can", "you", "start", "playing", "something", "my", "by",
}

type playback struct {
	title  string
	path   string
	proc   Process
	paused bool
}

type Module struct {
	player  []string
	library *fstools.Service
	start   Starter
	log     *slog.Logger

	mu      sync.Mutex
	current *playback
}

// New builds the module. A nil starter runs the player with StartExec.
func New(cfg config.MusicConfig, start Starter) *Module {
	if start == nil {
		start = StartExec
	}

	m := &Module{
		player: cfg.Player,
		start:  start,
		log:    slog.Default().With("component", "modules.music"),
	}
	if strings.TrimSpace(cfg.Library) != "" {
		guard, err := workspace.NewGuard(cfg.Library)
		if err != nil {
			m.log.Warn("music library unavailable", "library", cfg.Library, "error", err)
		} else {
			m.library = fstools.NewService(guard)
		}
	}

	return m
}

func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "Music" }

func (m *Module) Available() bool {
	return len(m.player) > 0 && m.library != nil
}

func (m *Module) Help() []string {
	return []string{"play <song or artist>", "play some music", "pause / resume / stop the music", "what's playing"}
}

func (m *Module) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	text := utt.Normalized()
	playing := m.playing()

	action, confidence := "", 0.0
	switch {
	case match.HasAny(text, "stop the music", "stop music", "stop playing", "stop the song", "turn off the music"):
		action, confidence = "stop", 0.9
	case match.HasAny(text, "pause the music", "pause music", "pause the song"):
		action, confidence = "pause", 0.9
	case match.HasAny(text, "resume the music", "resume music", "unpause", "continue playing"):
		action, confidence = "resume", 0.9
	case match.HasAny(text, "what's playing", "what is playing", "which song is this", "what song is this"):
		action, confidence = "status", 0.85
	case playing && (text == "stop" || text == "pause" || text == "resume"):
		action, confidence = text, 0.8
	case strings.HasPrefix(text, "play ") || match.HasAny(text, "play music", "play some music", "put on some music"):
		action, confidence = "play", 0.85
	default:
		return types.Match{}
	}

	slots := map[string]string{"action": action}
	if action == "play" {
		slots["query"] = match.StripWords(text, queryStopWords...)
	}

	return types.Match{ModuleID: ID, Confidence: confidence, Utterance: utt, Slots: slots}
}

func (m *Module) Execute(ctx context.Context, mt types.Match, _ types.Snapshot) types.Result {
	switch mt.Slot("action") {
	case "play":
		return m.play(ctx, mt.Slot("query"))
	case "pause":
		return m.pause()
	case "resume":
		return m.resume()
	case "stop":
		return m.stop()
	default:
		return m.status()
	}
}

func (m *Module) play(ctx context.Context, query string) types.Result {
	if !m.Available() {
		return types.Failed(errors.New("music player not configured"), "Music playback isn't set up.")
	}

	track, err := m.find(ctx, query)
	if err != nil {
		return types.Failed(err, workspace.Message(err))
	}
	if track == "" {
		if query == "" {
			return types.Failed(errors.New("empty library"), "Your music library is empty.")
		}
		return types.Failed(fmt.Errorf("no track matches %q", query), fmt.Sprintf("I couldn't find '%s' in your music library.", query))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.stopLocked()
	}

	argv := append(append([]string(nil), m.player...), track)
	proc, err := m.start(argv)
	if err != nil {
		m.log.Error("player start failed", "command", argv[0], "error", err)
		return types.Failed(err, "I couldn't start the music player.")
	}

	title := trackTitle(track)
	current := &playback{title: title, path: track, proc: proc}
	m.current = current
	go m.reap(current)
	m.log.Info("playback started", "track", track)

	return types.Result{Status: types.StatusSuccess, Payload: fmt.Sprintf("Playing %s.", title), Data: map[string]string{"track": track}}
}

func (m *Module) pause() types.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return types.Succeeded("Nothing is playing.")
	}
	if m.current.paused {
		return types.Succeeded("The music is already paused.")
	}
	if err := m.current.proc.Pause(); err != nil {
		return types.Failed(err, "I couldn't pause the music.")
	}
	m.current.paused = true

	return types.Succeeded("Music paused.")
}

func (m *Module) resume() types.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.paused {
		return types.Succeeded("Nothing is paused.")
	}
	if err := m.current.proc.Resume(); err != nil {
		return types.Failed(err, "I couldn't resume the music.")
	}
	m.current.paused = false

	return types.Succeeded(fmt.Sprintf("Resuming %s.", m.current.title))
}

func (m *Module) stop() types.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return types.Succeeded("Nothing is playing.")
	}
	m.stopLocked()

	return types.Succeeded("Music stopped.")
}

func (m *Module) status() types.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.current == nil:
		return types.Succeeded("Nothing is playing.")
	case m.current.paused:
		return types.Succeeded(fmt.Sprintf("%s is paused.", m.current.title))
	default:
		return types.Succeeded(fmt.Sprintf("Playing %s.", m.current.title))
	}
}

// Close stops any running playback.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.stopLocked()
	}
	return nil
}

func (m *Module) stopLocked() {
	if err := m.current.proc.Stop(); err != nil {
		m.log.Warn("player stop failed", "track", m.current.path, "error", err)
	}
	m.current = nil
}

// reap clears the playback once the player exits on its own.
func (m *Module) reap(p *playback) {
	<-p.proc.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == p {
		m.current = nil
	}
}

func (m *Module) playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// find returns the library track whose name contains every query word.
// An empty query picks the most recently added track.
func (m *Module) find(ctx context.Context, query string) (string, error) {
	result, err := m.library.Find(ctx, fstools.FindQuery{Extensions: audioExtensions, Limit: fstools.MaxWalkEntries})
	if err != nil {
		return "", err
	}

	words := match.Tokens(query)
	for _, f := range result.Matches {
		name := strings.Join(match.Tokens(f.Rel), " ")
		if containsAll(name, words) {
			return f.Path, nil
		}
	}

	return "", nil
}

func containsAll(name string, words []string) bool {
	for _, word := range words {
		if !strings.Contains(name, word) {
			return false
		}
	}
	return true
}

func trackTitle(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
