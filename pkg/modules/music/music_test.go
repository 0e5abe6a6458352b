package music

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"specter/pkg/agent/types"
	"specter/pkg/config"
)

type fakeProcess struct {
	mu      sync.Mutex
	argv    []string
	paused  bool
	stopped bool
	done    chan struct{}
	once    sync.Once
}

func (p *fakeProcess) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *fakeProcess) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) exit() { p.once.Do(func() { close(p.done) }) }

type fakeStarter struct {
	mu      sync.Mutex
	started []*fakeProcess
}

func (s *fakeStarter) start(argv []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakeProcess{argv: argv, done: make(chan struct{})}
	s.started = append(s.started, p)
	return p, nil
}

func newTestModule(t *testing.T) (*Module, *fakeStarter, string) {
	t.Helper()

	library := t.TempDir()
	for _, rel := range []string{"Miles Davis/So What.mp3", "Daft Punk/One More Time.flac", "notes.txt"} {
		path := filepath.Join(library, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	starter := &fakeStarter{}
	m := New(config.MusicConfig{Player: []string{"mpv", "--no-video"}, Library: library}, starter.start)
	t.Cleanup(func() { _ = m.Close() })

	return m, starter, library
}

func run(t *testing.T, m *Module, text string) types.Result {
	t.Helper()

	mt := m.Match(types.NewUtterance(text, types.SourceTyped), types.Snapshot{})
	require.Equal(t, ID, mt.ModuleID, text)
	return m.Execute(context.Background(), mt, types.Snapshot{})
}

func TestPlayPauseResumeStop(t *testing.T) {
	m, starter, library := newTestModule(t)

	result := run(t, m, "play one more time by daft punk")
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "Playing One More Time.", result.Payload)
	require.Len(t, starter.started, 1)
	require.Equal(t, []string{"mpv", "--no-video", filepath.Join(mustEval(t, library), "Daft Punk", "One More Time.flac")}, starter.started[0].argv)

	require.Equal(t, "Music paused.", run(t, m, "pause the music").Payload)
	require.True(t, starter.started[0].paused)
	require.Equal(t, "One More Time is paused.", run(t, m, "what's playing").Payload)
	require.Equal(t, "Resuming One More Time.", run(t, m, "resume").Payload)

	require.Equal(t, "Music stopped.", run(t, m, "stop the music").Payload)
	require.True(t, starter.started[0].stopped)
	require.Equal(t, "Nothing is playing.", run(t, m, "stop the music").Payload)
}

func TestPlayReplacesCurrentTrack(t *testing.T) {
	m, starter, _ := newTestModule(t)

	run(t, m, "play so what")
	run(t, m, "play one more time")

	require.Len(t, starter.started, 2)
	require.True(t, starter.started[0].stopped)
	require.False(t, starter.started[1].stopped)
}

func TestPlayerExitClearsPlayback(t *testing.T) {
	m, starter, _ := newTestModule(t)

	run(t, m, "play so what")
	starter.started[0].exit()

	require.Eventually(t, func() bool { return !m.playing() }, time.Second, 10*time.Millisecond)
}

func TestPlayUnknownTrack(t *testing.T) {
	m, starter, _ := newTestModule(t)

	result := run(t, m, "play bohemian rhapsody")
	require.Equal(t, types.StatusFailure, result.Status)
	require.Equal(t, "I couldn't find 'bohemian rhapsody' in your music library.", result.Payload)
	require.Empty(t, starter.started)
}

func TestMatch(t *testing.T) {
	m, _, _ := newTestModule(t)

	require.Zero(t, m.Match(types.NewUtterance("stop", types.SourceTyped), types.Snapshot{}).Confidence)
	require.Equal(t, "jazz", m.Match(types.NewUtterance("play some jazz", types.SourceTyped), types.Snapshot{}).Slot("query"))
	require.Equal(t, "", m.Match(types.NewUtterance("play some music", types.SourceTyped), types.Snapshot{}).Slot("query"))
}

func TestUnavailableWithoutPlayer(t *testing.T) {
	m := New(config.MusicConfig{Library: t.TempDir()}, nil)
	require.False(t, m.Available())
}

func mustEval(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}
