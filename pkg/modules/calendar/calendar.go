// Package calendar keeps a local event calendar in SQLite: scheduling,
// listing a day or week and cancelling events.
package calendar

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
	"specter/pkg/modules/reminders"
)

const ID = "calendar"

var cancelRe = regexp.MustCompile(`(?i)\b(?:delete|cancel|remove)\s+(?:event|meeting|appointment)\s+(?:number\s+|#)?(\d+)\b`)

var (
	scheduleVerbs = []string{"schedule", "book"}
	addVerbs      = []string{"add", "create", "plan", "set up", "put"}
	eventNouns    = []string{"meeting", "meetings", "appointment", "event", "call", "calendar", "lunch", "dinner"}
	listPhrases   = []string{"calendar", "my schedule", "agenda", "events", "appointments", "meetings"}
	notCalendar   = []string{"remind me", "reminder", "reminders", "current events", "news"}
)

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

	return &Module{store: store, now: now, log: slog.Default().With("component", "modules.calendar")}
}

func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "Calendar" }
func (m *Module) Available() bool     { return m.store != nil }

func (m *Module) Help() []string {
	return []string{
		"schedule a meeting with <who> tomorrow at 3pm for 30 minutes",
		"what's on my calendar today / tomorrow / this week",
		"cancel event <number>",
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

	if sub := cancelRe.FindStringSubmatch(text); sub != nil {
		return types.Match{ModuleID: ID, Confidence: 0.9, Utterance: utt, Slots: map[string]string{"action": "cancel", "id": sub[1]}}
	}
	if match.HasAny(text, notCalendar...) {
		return types.Match{}
	}

	if leadingVerb(text, scheduleVerbs...) || (leadingVerb(text, addVerbs...) && match.HasAny(text, eventNouns...)) {
		return types.Match{ModuleID: ID, Confidence: 0.9, Utterance: utt, Slots: map[string]string{"action": "add"}}
	}

	if match.HasAny(text, listPhrases...) {
		return types.Match{ModuleID: ID, Confidence: 0.85, Utterance: utt, Slots: map[string]string{"action": "list", "range": rangeOf(text)}}
	}

	return types.Match{}
}

func (m *Module) Execute(ctx context.Context, mt types.Match, _ types.Snapshot) types.Result {
	if m.store == nil {
		return types.Failed(errors.New("calendar store is not open"), "The calendar is not available right now.")
	}

	switch mt.Slot("action") {
	case "add":
		return m.add(ctx, mt.Utterance.Text)
	case "cancel":
		return m.cancel(ctx, mt.Slot("id"))
	default:
		return m.list(ctx, mt.Slot("range"))
	}
}

func (m *Module) add(ctx context.Context, text string) types.Result {
	now := m.now()
	draft := Parse(text, now)

	event, err := m.store.Add(ctx, draft.Title, draft.Start, draft.Duration, now)
	if err != nil {
		return types.Failed(err, "")
	}
	m.log.Info("Event scheduled", "id", event.ID, "start_at", event.StartAt, "explicit_time", draft.Explicit)

	payload := fmt.Sprintf("Scheduled %s %s for %s.", event.Title, reminders.When(event.StartAt, now), length(event.Duration))
	if !draft.Explicit {
		payload += " No time was given, so I put it an hour from now."
	}

	return types.Result{
		Status:  types.StatusSuccess,
		Payload: payload,
		Data: map[string]string{
			"id":               strconv.FormatInt(event.ID, 10),
			"start_at":         event.StartAt.Format(time.RFC3339),
			"duration_minutes": strconv.Itoa(int(event.Duration / time.Minute)),
		},
	}
}

func (m *Module) list(ctx context.Context, rng string) types.Result {
	now := m.now()
	label, from, to := window(rng, now)

	events, err := m.store.Between(ctx, from, to)
	if err != nil {
		return types.Failed(err, "")
	}
	data := map[string]string{"count": strconv.Itoa(len(events)), "range": rng}
	if len(events) == 0 {
		return types.Result{Status: types.StatusSuccess, Payload: fmt.Sprintf("Nothing on your calendar %s.", label), Data: data}
	}

	layout := "15:04"
	if to.Sub(from) > 24*time.Hour {
		layout = "Mon Jan 2 15:04"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your calendar %s:", label)
	for _, e := range events {
		fmt.Fprintf(&b, "\n#%d %s %s (%s)", e.ID, e.StartAt.In(now.Location()).Format(layout), e.Title, length(e.Duration))
	}

	return types.Result{Status: types.StatusSuccess, Payload: b.String(), Data: data}
}

func (m *Module) cancel(ctx context.Context, rawID string) types.Result {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return types.Failed(err, "Which event? Say \"cancel event 2\".")
	}

	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		return types.Failed(err, "")
	}
	if !deleted {
		return types.Failed(fmt.Errorf("event %d not found", id), fmt.Sprintf("I couldn't find event #%d.", id))
	}

	return types.Succeeded(fmt.Sprintf("Cancelled event #%d.", id))
}

func rangeOf(text string) string {
	switch {
	case match.HasPhrase(text, "next week"):
		return "next_week"
	case match.HasAny(text, "week", "this week"):
		return "week"
	case match.HasPhrase(text, "tomorrow"):
		return "tomorrow"
	default:
		return "today"
	}
}

// window maps a range slot to a label and a [from, to) interval.
func window(rng string, now time.Time) (string, time.Time, time.Time) {
	today := startOfDay(now)
	switch rng {
	case "tomorrow":
		return "tomorrow", today.AddDate(0, 0, 1), today.AddDate(0, 0, 2)
	case "week":
		return "this week", today, today.AddDate(0, 0, 7)
	case "next_week":
		return "next week", today.AddDate(0, 0, 7), today.AddDate(0, 0, 14)
	default:
		return "today", today, today.AddDate(0, 0, 1)
	}
}

func length(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d > time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
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
