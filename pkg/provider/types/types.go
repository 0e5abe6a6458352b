package types

import "strings"

// Role names used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior exchange line handed to a completion backend.
type Message struct {
	Role    string
	Content string
}

// Request is a single stateless completion call. History is oldest first and
// excludes Prompt.
type Request struct {
	SystemPrompt string
	History      []Message
	Prompt       string
	Model        string
}

// Normalize trims fields and drops empty history entries.
func (r Request) Normalize() Request {
	r.SystemPrompt = strings.TrimSpace(r.SystemPrompt)
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.Model = strings.TrimSpace(r.Model)

	history := make([]Message, 0, len(r.History))
	for _, msg := range r.History {
		msg.Role = strings.TrimSpace(msg.Role)
		msg.Content = strings.TrimSpace(msg.Content)
		if msg.Role == "" || msg.Content == "" {
			continue
		}
		history = append(history, msg)
	}
	r.History = history

	return r
}

// PromptResult is the normalized provider response payload.
type PromptResult struct {
	Text     string
	Metadata PromptMetadata
}

// PromptMetadata carries provider/model identity and optional usage accounting.
type PromptMetadata struct {
	Provider string
	Model    string
	Usage    *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
	CacheReadTokens int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheReadTokens == 0
}
