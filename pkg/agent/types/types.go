package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies how an utterance reached the agent.
type Source string

const (
	SourceTyped Source = "typed"
	SourceVoice Source = "voice"
)

// Utterance is one unit of user input. It is passed by value and never
// mutated once the orchestrator has stamped its turn id.
type Utterance struct {
	ID     string
	Text   string
	Source Source
	At     time.Time
	TurnID uint64
}

// NewUtterance builds an utterance with a fresh request id and timestamp.
func NewUtterance(text string, source Source) Utterance {
	if source == "" {
		source = SourceTyped
	}

	return Utterance{
		ID:     uuid.New().String(),
		Text:   strings.TrimSpace(text),
		Source: source,
		At:     time.Now().UTC(),
	}
}

// Normalized returns the lower-cased, trimmed utterance text.
func (u Utterance) Normalized() string {
	return strings.ToLower(strings.TrimSpace(u.Text))
}

// Match is a module's claim on an utterance.
type Match struct {
	ModuleID   string
	Confidence float64
	Slots      map[string]string
	Utterance  Utterance
}

// Slot returns a slot value or "" when unset.
func (m Match) Slot(name string) string {
	if m.Slots == nil {
		return ""
	}

	return m.Slots[name]
}

// Status is the terminal state of one dispatch.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Result is produced by a module executor or the fallback path and consumed
// once by the orchestrator.
type Result struct {
	Status  Status
	Payload string
	Data    map[string]string
	Err     error
}

// Succeeded returns a success result carrying payload.
func Succeeded(payload string) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

// Failed returns a failure result. payload may be empty.
func Failed(err error, payload string) Result {
	return Result{Status: StatusFailure, Payload: payload, Err: err}
}

// Turn is one archived exchange in the conversation window.
type Turn struct {
	ID        uint64
	Utterance Utterance
	Response  string
	ModuleID  string
	Status    Status
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Failed reports whether the turn ended in anything but success.
func (t Turn) Failed() bool {
	return t.Status != StatusSuccess
}

// Snapshot is a read-only copy of the conversation window, oldest first.
type Snapshot struct {
	Turns []Turn
}

// Len returns the number of turns in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Turns)
}

// Last returns the most recent turn.
func (s Snapshot) Last() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}

	return s.Turns[len(s.Turns)-1], true
}

// Recent returns up to n of the newest turns, oldest first.
func (s Snapshot) Recent(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if n >= len(s.Turns) {
		return s.Turns
	}

	return s.Turns[len(s.Turns)-n:]
}

// Reply is what the orchestrator hands to an output sink.
type Reply struct {
	TurnID      uint64
	UtteranceID string
	Text        string
	ModuleID    string
	Status      Status
	Data        map[string]string
}
