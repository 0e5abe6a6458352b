package runtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"specter/pkg/agent"
	"specter/pkg/agent/types"
	"specter/pkg/bus"
	"specter/pkg/config"
	"specter/pkg/module"
)

type echoModule struct {
	id      string
	keyword string
	execute func(ctx context.Context, match types.Match) types.Result
}

func (m *echoModule) ID() string          { return m.id }
func (m *echoModule) DisplayName() string { return m.id }
func (m *echoModule) Available() bool     { return true }

func (m *echoModule) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	if !strings.Contains(utt.Normalized(), m.keyword) {
		return types.Match{}
	}
	return types.Match{ModuleID: m.id, Confidence: 0.9, Utterance: utt}
}

func (m *echoModule) Execute(ctx context.Context, match types.Match, _ types.Snapshot) types.Result {
	if m.execute != nil {
		return m.execute(ctx, match)
	}
	return types.Succeeded(m.id + ": " + match.Utterance.Text)
}

func newRegistry(t *testing.T, modules ...module.Module) *module.Registry {
	t.Helper()
	registry := module.NewRegistry(nil)
	for _, m := range modules {
		require.NoError(t, registry.Register(m))
	}
	return registry
}

func TestLocalSessionRoutesThroughBus(t *testing.T) {
	registry := newRegistry(t, &echoModule{id: "weather", keyword: "weather"})
	fallback := module.FallbackFunc(func(context.Context, types.Snapshot, types.Utterance) types.Result {
		return types.Succeeded("chatting")
	})

	session, err := StartLocalSession(context.Background(), config.Default(), nil, registry, fallback, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	reply, err := session.Ask(context.Background(), "what's the weather?")
	require.NoError(t, err)
	require.Equal(t, "weather", reply.ModuleID)
	require.Equal(t, types.StatusSuccess, reply.Status)
	require.Equal(t, "weather: what's the weather?", reply.Text)
	require.EqualValues(t, 1, reply.TurnID)

	reply, err = session.Ask(context.Background(), "tell me a joke")
	require.NoError(t, err)
	require.Empty(t, reply.ModuleID)
	require.Equal(t, "chatting", reply.Text)

	require.Equal(t, 2, session.Orchestrator().Snapshot().Len())
}

func TestSessionReturnsBusyWhileDispatching(t *testing.T) {
	release := make(chan struct{})
	slow := &echoModule{id: "slow", keyword: "slow", execute: func(ctx context.Context, _ types.Match) types.Result {
		select {
		case <-release:
			return types.Succeeded("finished")
		case <-ctx.Done():
			return types.Result{Status: types.StatusCancelled}
		}
	}}

	settings := agent.DefaultSettings()
	settings.QueueDepth = 0
	session, err := StartSession(context.Background(), SessionOptions{
		Route:    Route{Channel: "test", ChatID: "1", SessionKey: "test:1"},
		Settings: settings,
		Registry: newRegistry(t, slow),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	firstDone := make(chan types.Reply, 1)
	go func() {
		reply, _ := session.Prompt(context.Background(), "do the slow thing", types.SourceTyped)
		firstDone <- reply
	}()

	require.Eventually(t, func() bool {
		return session.Orchestrator().State() == agent.StateDispatching
	}, 2*time.Second, 5*time.Millisecond)

	reply, err := session.Prompt(context.Background(), "another slow one", types.SourceTyped)
	require.ErrorIs(t, err, agent.ErrBusy)
	require.Equal(t, busyText, reply.Text)
	require.Zero(t, session.Orchestrator().Snapshot().Len())

	close(release)
	select {
	case reply := <-firstDone:
		require.Equal(t, "finished", reply.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("first prompt never completed")
	}
}

func TestSessionCloseCancelsInFlightPrompt(t *testing.T) {
	started := make(chan struct{})
	stuck := &echoModule{id: "stuck", keyword: "stuck", execute: func(ctx context.Context, _ types.Match) types.Result {
		close(started)
		<-ctx.Done()
		return types.Result{Status: types.StatusCancelled, Err: ctx.Err()}
	}}

	session, err := StartSession(context.Background(), SessionOptions{
		Route:    Route{Channel: "test", SessionKey: "test:close"},
		Registry: newRegistry(t, stuck),
	})
	require.NoError(t, err)

	replies := make(chan types.Reply, 1)
	go func() {
		reply, _ := session.Prompt(context.Background(), "stuck please", types.SourceVoice)
		replies <- reply
	}()

	<-started
	require.NoError(t, session.Close())

	select {
	case reply := <-replies:
		require.Equal(t, types.StatusCancelled, reply.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt was not answered on close")
	}

	_, err = session.Prompt(context.Background(), "stuck again", types.SourceTyped)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestLocalSessionCancel(t *testing.T) {
	started := make(chan struct{})
	stuck := &echoModule{id: "stuck", keyword: "stuck", execute: func(ctx context.Context, _ types.Match) types.Result {
		close(started)
		<-ctx.Done()
		return types.Result{Status: types.StatusCancelled, Err: context.Cause(ctx)}
	}}

	session, err := StartLocalSession(context.Background(), config.Default(), nil, newRegistry(t, stuck), nil, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	replies := make(chan types.Reply, 1)
	go func() {
		reply, _ := session.Ask(context.Background(), "stuck")
		replies <- reply
	}()

	<-started
	require.True(t, session.Cancel())

	select {
	case reply := <-replies:
		require.Equal(t, types.StatusCancelled, reply.Status)
		require.Equal(t, "Okay, I stopped that request.", reply.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled prompt was not answered")
	}
}

func TestStartLocalSessionRequiresRegistry(t *testing.T) {
	_, err := StartLocalSession(context.Background(), config.Default(), nil, nil, nil, false)
	require.Error(t, err)
}

func TestReplyOutboundRoundTrip(t *testing.T) {
	route := Route{Channel: "telegram", ChatID: "42", SessionKey: "telegram:42"}
	reply := types.Reply{
		TurnID:      7,
		UtteranceID: "utt-1",
		Text:        "Sorry, that took too long. Please try again.",
		ModuleID:    "weather",
		Status:      types.StatusTimeout,
		Data:        map[string]string{"city": "Paris"},
	}

	outbound := OutboundFromReply(route, reply)
	require.Equal(t, "telegram", outbound.Channel)
	require.Equal(t, "42", outbound.ChatID)
	require.Equal(t, "timeout", outbound.Error)
	require.False(t, IsBusy(outbound))
	require.Equal(t, reply, ReplyFromOutbound(outbound))
}

func TestBusSourceEndsWhenBusCloses(t *testing.T) {
	messageBus := bus.NewMessageBus()
	source := NewBusSource(messageBus, Route{Channel: "test"})

	require.True(t, messageBus.PublishInbound(context.Background(), bus.InboundMessage{
		Content:  "  hello  ",
		Metadata: map[string]string{bus.MetaUtteranceID: "abc", bus.MetaSource: "voice"},
	}))

	utt, err := source.NextUtterance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", utt.ID)
	require.Equal(t, "hello", utt.Text)
	require.Equal(t, types.SourceVoice, utt.Source)

	messageBus.Close()
	_, err = source.NextUtterance(context.Background())
	require.ErrorIs(t, err, agent.ErrSourceClosed)
}

func TestResolveFallbackOffline(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.UserName = "Sam"

	fallback, client, err := ResolveFallback(cfg, nil)
	require.NoError(t, err)
	require.Nil(t, client)

	result := fallback.Complete(context.Background(), types.Snapshot{}, types.NewUtterance("hello there", types.SourceTyped))
	require.Equal(t, "Hello Sam! How can I help you today?", result.Payload)
}

func TestResolveFallbackRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Provider = "carrier-pigeon"

	_, _, err := ResolveFallback(cfg, nil)
	require.Error(t, err)
}

func TestLogEventLevels(t *testing.T) {
	recorder := &recordingHandler{}
	log := slog.New(recorder)

	tests := []struct {
		event bus.EventType
		want  slog.Level
	}{
		{event: bus.EventUtteranceAccepted, want: slog.LevelInfo},
		{event: bus.EventRouted, want: slog.LevelDebug},
		{event: bus.EventDispatchCompleted, want: slog.LevelInfo},
		{event: bus.EventInputRejected, want: slog.LevelWarn},
		{event: bus.EventDispatchTimedOut, want: slog.LevelError},
		{event: bus.EventDispatchLeaked, want: slog.LevelError},
	}

	for _, tt := range tests {
		logEvent(log, bus.Event{Type: tt.event, RequestID: "1", Error: "boom"})
		if got := recorder.LastLevel(); got != tt.want {
			t.Fatalf("%s level = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestObserveEventsStopsWithBus(t *testing.T) {
	messageBus := bus.NewMessageBus()
	recorder := &recordingHandler{}

	done := make(chan struct{})
	go func() {
		ObserveEvents(context.Background(), messageBus, slog.New(recorder))
		close(done)
	}()

	require.Eventually(t, func() bool {
		messageBus.PublishEvent(context.Background(), bus.Event{Type: bus.EventSessionReset})
		return recorder.Len() > 0
	}, 2*time.Second, 5*time.Millisecond)

	messageBus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not stop")
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(_ string) slog.Handler { return h }

func (h *recordingHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *recordingHandler) LastLevel() slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return 0
	}
	return h.records[len(h.records)-1].Level
}
