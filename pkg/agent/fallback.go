package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"specter/pkg/agent/profile"
	"specter/pkg/agent/types"
	providertypes "specter/pkg/provider/types"
)

// DefaultHistoryTurns bounds how many snapshot turns are replayed to the LLM.
const DefaultHistoryTurns = 10

// Completer is the narrow LLM surface the fallback needs.
type Completer interface {
	Complete(ctx context.Context, req providertypes.Request) (providertypes.PromptResult, error)
}

type LLMFallbackOptions struct {
	Model        string
	Persona      string
	UserName     string
	HistoryTurns int
	Now          func() time.Time
	Logger       *slog.Logger
}

// LLMFallback answers unmatched utterances with a chat completion over the
// recent conversation.
type LLMFallback struct {
	client  Completer
	opts    LLMFallbackOptions
	offline *OfflineFallback
	log     *slog.Logger
}

func NewLLMFallback(client Completer, opts LLMFallbackOptions) *LLMFallback {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &LLMFallback{
		client:  client,
		opts:    opts,
		offline: NewOfflineFallback(WithUserName(opts.UserName)),
		log:     log.With("component", "agent.fallback"),
	}
}

func (f *LLMFallback) Complete(ctx context.Context, snap types.Snapshot, utt types.Utterance) types.Result {
	system, err := profile.ResolveSystemProfile(f.opts.Persona, f.opts.UserName, f.opts.Now())
	if err != nil {
		f.log.Warn("System profile unavailable", "persona", f.opts.Persona, "error", err)
	}

	req := providertypes.Request{
		SystemPrompt: system,
		History:      historyFromSnapshot(snap, f.opts.HistoryTurns),
		Prompt:       utt.Text,
		Model:        f.opts.Model,
	}.Normalize()

	startedAt := time.Now()
	result, err := f.client.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Result{Status: types.StatusCancelled, Err: err}
		}
		f.log.Warn("Completion failed, using offline reply", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		offline := f.offline.Complete(ctx, snap, utt)
		offline.Data = map[string]string{"degraded": "true"}
		return offline
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return types.Failed(errors.New("completion returned no text"), "")
	}

	out := types.Succeeded(text)
	out.Data = completionData(result.Metadata)
	return out
}

// historyFromSnapshot replays successful turns as user/assistant pairs.
func historyFromSnapshot(snap types.Snapshot, limit int) []providertypes.Message {
	turns := snap.Recent(limit)
	out := make([]providertypes.Message, 0, len(turns)*2)
	for _, turn := range turns {
		if turn.Failed() || turn.ModuleID == SessionModuleID {
			continue
		}
		out = append(out,
			providertypes.Message{Role: providertypes.RoleUser, Content: turn.Utterance.Text},
			providertypes.Message{Role: providertypes.RoleAssistant, Content: turn.Response},
		)
	}

	return out
}

func completionData(meta providertypes.PromptMetadata) map[string]string {
	data := map[string]string{}
	if meta.Provider != "" {
		data["provider"] = meta.Provider
	}
	if meta.Model != "" {
		data["model"] = meta.Model
	}
	if len(data) == 0 {
		return nil
	}

	return data
}

type offlineReply struct {
	key   string
	reply string
}

// OfflineFallback gives canned small-talk replies when no LLM is configured.
type OfflineFallback struct {
	replies []offlineReply
}

type OfflineOption func(*OfflineFallback)

// WithUserName personalizes the greeting.
func WithUserName(name string) OfflineOption {
	return func(f *OfflineFallback) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		f.replies[0].reply = "Hello " + name + "! How can I help you today?"
	}
}

func NewOfflineFallback(opts ...OfflineOption) *OfflineFallback {
	f := &OfflineFallback{replies: []offlineReply{
		{key: "hello", reply: "Hello! How can I help you today?"},
		{key: "how are you", reply: "I'm doing well, thank you for asking! How are you?"},
		{key: "what can you do", reply: "I can check the weather and news, manage reminders and files, open apps, report system status and control music. Say \"help\" for examples."},
		{key: "who are you", reply: "I'm Specter, your desktop assistant."},
		{key: "thank", reply: "You're welcome! I'm always happy to help."},
		{key: "good morning", reply: "Good morning! What's on the agenda today?"},
		{key: "good night", reply: "Good night! Sleep well."},
	}}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *OfflineFallback) Complete(_ context.Context, _ types.Snapshot, utt types.Utterance) types.Result {
	text := utt.Normalized()
	for _, r := range f.replies {
		if containsWord(text, r.key) {
			return types.Succeeded(r.reply)
		}
	}

	return types.Succeeded("I heard you, but no language model is configured, so I can only help with my built-in skills. Say \"help\" to see them.")
}

// containsWord reports whether phrase starts on a word boundary in text.
func containsWord(text string, phrase string) bool {
	padded := " " + strings.Join(strings.FieldsFunc(text, isSeparator), " ") + " "
	return strings.Contains(padded, " "+phrase)
}

func isSeparator(r rune) bool {
	return !(r == '\'' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
}
