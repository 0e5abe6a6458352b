// Package reminders stores timed reminders in SQLite and surfaces them once
// they are due.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"specter/pkg/agent/types"
	"specter/pkg/modules/match"
)

const ID = "reminders"

var deleteRe = regexp.MustCompile(`(?i)\b(?:delete|cancel|remove)\s+reminder\s+(?:number\s+|#)?(\d+)\b`)

var rules = []match.Rule{
	{Phrases: []string{"remind me", "set a reminder", "set reminder", "create a reminder"}, Weight: 0.95},
	{Phrases: []string{"list reminders", "my reminders", "show reminders", "list my reminders"}, Weight: 0.9},
	{Phrases: []string{"reminder", "reminders"}, Weight: 0.7},
}

type Module struct {
	store *Store
	now   func() time.Time
	log   *slog.Logger
}

// New wraps store. A nil store yields an unavailable module.
func New(store *Store, now func() time.Time) *Module {
	if now == nil {
		now = time.Now
	}

	return &Module{store: store, now: now, log: slog.Default().With("component", "modules.reminders")}
}

func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "Reminders" }
func (m *Module) Available() bool     { return m.store != nil }

func (m *Module) Help() []string {
	return []string{
		"remind me to <task> in 30 minutes / tomorrow / tonight / at 5pm",
		"list reminders",
		"delete reminder <number>",
	}
}

func (m *Module) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

func (m *Module) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	text := utt.Normalized()

	if sub := deleteRe.FindStringSubmatch(text); sub != nil {
		return types.Match{ModuleID: ID, Confidence: 0.9, Utterance: utt, Slots: map[string]string{"action": "delete", "id": sub[1]}}
	}

	confidence := match.Score(text, rules...)
	if confidence == 0 {
		return types.Match{}
	}

	action := "list"
	if match.HasAny(text, "remind me", "set a reminder", "set reminder", "create a reminder") {
		action = "add"
	}

	return types.Match{ModuleID: ID, Confidence: confidence, Utterance: utt, Slots: map[string]string{"action": action}}
}

func (m *Module) Execute(ctx context.Context, mt types.Match, _ types.Snapshot) types.Result {
	if m.store == nil {
		return types.Failed(errors.New("reminders store is not open"), "Reminders are not available right now.")
	}

	switch mt.Slot("action") {
	case "add":
		return m.add(ctx, mt.Utterance.Text)
	case "delete":
		return m.remove(ctx, mt.Slot("id"))
	default:
		return m.list(ctx)
	}
}

func (m *Module) add(ctx context.Context, text string) types.Result {
	now := m.now()
	message, due, explicit := Parse(text, now)
	if message == "" {
		return types.Failed(errors.New("empty reminder"), "What should I remind you about?")
	}

	reminder, err := m.store.Add(ctx, message, due, now)
	if err != nil {
		return types.Failed(err, "")
	}
	m.log.Info("Reminder added", "id", reminder.ID, "due_at", reminder.DueAt, "explicit_time", explicit)

	return types.Result{
		Status:  types.StatusSuccess,
		Payload: fmt.Sprintf("Okay, I'll remind you to %s %s.", message, When(reminder.DueAt, now)),
		Data: map[string]string{
			"id":     strconv.FormatInt(reminder.ID, 10),
			"due_at": reminder.DueAt.Format(time.RFC3339),
		},
	}
}

func (m *Module) list(ctx context.Context) types.Result {
	pending, err := m.store.Pending(ctx)
	if err != nil {
		return types.Failed(err, "")
	}
	if len(pending) == 0 {
		return types.Result{Status: types.StatusSuccess, Payload: "You have no reminders.", Data: map[string]string{"count": "0"}}
	}

	now := m.now()
	var b strings.Builder
	b.WriteString("Your reminders:")
	for _, r := range pending {
		fmt.Fprintf(&b, "\n#%d %s (%s)", r.ID, r.Message, When(r.DueAt, now))
	}

	return types.Result{
		Status:  types.StatusSuccess,
		Payload: b.String(),
		Data:    map[string]string{"count": strconv.Itoa(len(pending))},
	}
}

func (m *Module) remove(ctx context.Context, rawID string) types.Result {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return types.Failed(err, "Which reminder? Say \"delete reminder 2\".")
	}

	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		return types.Failed(err, "")
	}
	if !deleted {
		return types.Failed(fmt.Errorf("reminder %d not found", id), fmt.Sprintf("I couldn't find reminder #%d.", id))
	}

	return types.Succeeded(fmt.Sprintf("Deleted reminder #%d.", id))
}

// Due returns reminders whose time has come and marks them delivered, so
// each one is surfaced once.
func (m *Module) Due(ctx context.Context, now time.Time) ([]Reminder, error) {
	if m.store == nil {
		return nil, nil
	}

	due, err := m.store.Due(ctx, now)
	if err != nil || len(due) == 0 {
		return nil, err
	}

	ids := make([]int64, 0, len(due))
	for _, r := range due {
		ids = append(ids, r.ID)
	}
	if err := m.store.MarkDelivered(ctx, ids...); err != nil {
		return nil, err
	}

	return due, nil
}

// Watch polls for due reminders every interval and hands each to notify
// until ctx is done.
func (m *Module) Watch(ctx context.Context, interval time.Duration, notify func(Reminder)) {
	if m.store == nil || notify == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := m.Due(ctx, m.now())
			if err != nil {
				if ctx.Err() == nil {
					m.log.Warn("Checking due reminders failed", "error", err)
				}
				continue
			}
			for _, r := range due {
				notify(r)
			}
		}
	}
}

// When renders a due time relative to now: "at 15:04", "tomorrow at 09:00"
// or "on Mon Jan 2 at 15:04".
func When(due, now time.Time) string {
	due = due.In(now.Location())
	clock := due.Format("15:04")

	y1, m1, d1 := now.Date()
	y2, m2, d2 := due.Date()
	switch {
	case y1 == y2 && m1 == m2 && d1 == d2:
		return "at " + clock
	case now.AddDate(0, 0, 1).Format(time.DateOnly) == due.Format(time.DateOnly):
		return "tomorrow at " + clock
	default:
		return "on " + due.Format("Mon Jan 2") + " at " + clock
	}
}
