package agent

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"specter/pkg/agent/types"
	"specter/pkg/module"
)

type fakeModule struct {
	id         string
	keyword    string
	confidence float64
	execute    func(ctx context.Context, match types.Match) types.Result
	calls      atomic.Int32
}

func (m *fakeModule) ID() string          { return m.id }
func (m *fakeModule) DisplayName() string { return strings.ToUpper(m.id[:1]) + m.id[1:] }
func (m *fakeModule) Available() bool     { return true }
func (m *fakeModule) Help() []string      { return []string{m.keyword + ": ask about " + m.id} }

func (m *fakeModule) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	if m.keyword != "" && !strings.Contains(utt.Normalized(), m.keyword) {
		return types.Match{}
	}

	return types.Match{Confidence: m.confidence}
}

func (m *fakeModule) Execute(ctx context.Context, match types.Match, _ types.Snapshot) types.Result {
	m.calls.Add(1)
	if m.execute != nil {
		return m.execute(ctx, match)
	}

	return types.Succeeded(m.id + " says hi")
}

func blockingExecute(release <-chan struct{}) func(context.Context, types.Match) types.Result {
	return func(ctx context.Context, match types.Match) types.Result {
		select {
		case <-release:
			return types.Succeeded("done: " + match.Utterance.Text)
		case <-ctx.Done():
			return types.Result{Status: types.StatusCancelled, Err: ctx.Err()}
		}
	}
}

type fakeFallback struct {
	calls atomic.Int32
	last  atomic.Value
}

func (f *fakeFallback) Complete(_ context.Context, snap types.Snapshot, utt types.Utterance) types.Result {
	f.calls.Add(1)
	f.last.Store(snap)
	return types.Succeeded("fallback: " + utt.Text)
}

type fakeSource struct {
	inputs chan string

	mu   sync.Mutex
	busy []types.Utterance
}

func newFakeSource() *fakeSource {
	return &fakeSource{inputs: make(chan string)}
}

func (s *fakeSource) NextUtterance(ctx context.Context) (types.Utterance, error) {
	select {
	case <-ctx.Done():
		return types.Utterance{}, ctx.Err()
	case text, ok := <-s.inputs:
		if !ok {
			return types.Utterance{}, io.EOF
		}
		return types.NewUtterance(text, types.SourceTyped), nil
	}
}

func (s *fakeSource) NotifyBusy(_ context.Context, utt types.Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = append(s.busy, utt)
}

func (s *fakeSource) busyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.busy)
}

func (s *fakeSource) busyTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.busy))
	for _, utt := range s.busy {
		out = append(out, utt.Text)
	}
	return out
}

func (s *fakeSource) send(t *testing.T, text string) {
	t.Helper()
	select {
	case s.inputs <- text:
	case <-time.After(2 * time.Second):
		t.Fatalf("input %q was not read", text)
	}
}

type recordingSink struct {
	replies chan types.Reply
}

func newRecordingSink() *recordingSink {
	return &recordingSink{replies: make(chan types.Reply, 32)}
}

func (s *recordingSink) Deliver(_ context.Context, reply types.Reply) error {
	s.replies <- reply
	return nil
}

func (s *recordingSink) next(t *testing.T) types.Reply {
	t.Helper()
	select {
	case reply := <-s.replies:
		return reply
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reply")
		return types.Reply{}
	}
}

func (s *recordingSink) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case reply := <-s.replies:
		t.Fatalf("unexpected reply %+v", reply)
	case <-time.After(wait):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestRegistry(t *testing.T, modules ...module.Module) *module.Registry {
	t.Helper()
	registry := module.NewRegistry(nil)
	for _, m := range modules {
		if err := registry.Register(m); err != nil {
			t.Fatalf("Register(%s) error: %v", m.ID(), err)
		}
	}
	return registry
}

type session struct {
	orch   *Orchestrator
	source *fakeSource
	sink   *recordingSink
	cancel context.CancelFunc
	done   chan error
	waited bool
}

func startSession(t *testing.T, opts Options) *session {
	t.Helper()

	orch, err := New(opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		orch:   orch,
		source: newFakeSource(),
		sink:   newRecordingSink(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() {
		s.done <- orch.Run(ctx, s.source, s.sink)
	}()
	t.Cleanup(func() {
		cancel()
		if s.waited {
			return
		}
		select {
		case <-s.done:
		case <-time.After(3 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})

	return s
}

func (s *session) ask(t *testing.T, text string) types.Reply {
	t.Helper()
	s.source.send(t, text)
	return s.sink.next(t)
}

// wait blocks until Run returns and reports its error.
func (s *session) wait(t *testing.T) error {
	t.Helper()
	s.waited = true
	select {
	case err := <-s.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("orchestrator did not stop")
		return nil
	}
}
