package reminders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"specter/pkg/agent/types"
)

var fixedNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		text     string
		message  string
		due      time.Time
		explicit bool
	}{
		{text: "remind me to call mom in 30 minutes", message: "call mom", due: fixedNow.Add(30 * time.Minute), explicit: true},
		{text: "Remind me to stretch in an hour", message: "stretch", due: fixedNow.Add(time.Hour), explicit: true},
		{text: "remind me to water plants in 2 hours", message: "water plants", due: fixedNow.Add(2 * time.Hour), explicit: true},
		{text: "remind me in half an hour to check the oven", message: "check the oven", due: fixedNow.Add(30 * time.Minute), explicit: true},
		{text: "remind me about the dentist tomorrow", message: "the dentist", due: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), explicit: true},
		{text: "remind me to buy milk tomorrow at 5pm", message: "buy milk", due: time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC), explicit: true},
		{text: "remind me to take out the trash tonight", message: "take out the trash", due: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC), explicit: true},
		{text: "remind me to stand up at 9", message: "stand up", due: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), explicit: true},
		{text: "remind me to go to the store", message: "go to the store", due: fixedNow.Add(time.Hour), explicit: false},
		{text: "set a reminder for the meeting at 15:30", message: "the meeting", due: time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC), explicit: true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			message, due, explicit := Parse(tt.text, fixedNow)
			require.Equal(t, tt.message, message)
			require.True(t, tt.due.Equal(due), "due = %v, want %v", due, tt.due)
			require.Equal(t, tt.explicit, explicit)
		})
	}
}

func TestWhen(t *testing.T) {
	require.Equal(t, "at 15:30", When(fixedNow.Add(90*time.Minute), fixedNow))
	require.Equal(t, "tomorrow at 09:00", When(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), fixedNow))
	require.Equal(t, "on Fri Mar 6 at 09:00", When(time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), fixedNow))
}

func newTestModule(t *testing.T) (*Module, *time.Time) {
	t.Helper()

	store, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "data", "reminders.db"))
	require.NoError(t, err)

	now := fixedNow
	m := New(store, func() time.Time { return now })
	t.Cleanup(func() { _ = m.Close() })

	return m, &now
}

func run(t *testing.T, m *Module, text string) types.Result {
	t.Helper()

	mt := m.Match(types.NewUtterance(text, types.SourceTyped), types.Snapshot{})
	require.Equal(t, ID, mt.ModuleID, text)
	return m.Execute(context.Background(), mt, types.Snapshot{})
}

func TestMatchActions(t *testing.T) {
	m := New(nil, nil)

	tests := []struct {
		text   string
		action string
	}{
		{text: "remind me to call mom", action: "add"},
		{text: "set a reminder for 5pm", action: "add"},
		{text: "list reminders", action: "list"},
		{text: "what are my reminders?", action: "list"},
		{text: "delete reminder 3", action: "delete"},
		{text: "cancel reminder #12", action: "delete"},
	}

	for _, tt := range tests {
		got := m.Match(types.NewUtterance(tt.text, types.SourceTyped), types.Snapshot{})
		require.Equal(t, tt.action, got.Slot("action"), tt.text)
	}

	require.Zero(t, m.Match(types.NewUtterance("play some music", types.SourceTyped), types.Snapshot{}).Confidence)
	require.False(t, m.Available())
}

func TestAddListDelete(t *testing.T) {
	m, _ := newTestModule(t)

	result := run(t, m, "list reminders")
	require.Equal(t, "You have no reminders.", result.Payload)

	result = run(t, m, "remind me to call mom in 30 minutes")
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "Okay, I'll remind you to call mom at 14:30.", result.Payload)
	require.Equal(t, "1", result.Data["id"])

	result = run(t, m, "remind me to buy milk tomorrow")
	require.Equal(t, "Okay, I'll remind you to buy milk tomorrow at 09:00.", result.Payload)

	result = run(t, m, "list reminders")
	require.Equal(t, "Your reminders:\n#1 call mom (at 14:30)\n#2 buy milk (tomorrow at 09:00)", result.Payload)
	require.Equal(t, "2", result.Data["count"])

	result = run(t, m, "delete reminder 1")
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "Deleted reminder #1.", result.Payload)

	result = run(t, m, "delete reminder 1")
	require.Equal(t, types.StatusFailure, result.Status)
	require.Equal(t, "I couldn't find reminder #1.", result.Payload)
}

func TestAddRequiresMessage(t *testing.T) {
	m, _ := newTestModule(t)

	result := run(t, m, "remind me in 10 minutes")
	require.Equal(t, types.StatusFailure, result.Status)
	require.Equal(t, "What should I remind you about?", result.Payload)
}

func TestDueMarksDelivered(t *testing.T) {
	m, now := newTestModule(t)

	run(t, m, "remind me to stretch in 5 minutes")
	run(t, m, "remind me to sleep tonight")

	due, err := m.Due(context.Background(), *now)
	require.NoError(t, err)
	require.Empty(t, due)

	*now = fixedNow.Add(10 * time.Minute)
	due, err = m.Due(context.Background(), *now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "stretch", due[0].Message)

	due, err = m.Due(context.Background(), *now)
	require.NoError(t, err)
	require.Empty(t, due)

	result := run(t, m, "list reminders")
	require.Equal(t, "1", result.Data["count"])
}

func TestWatchNotifiesDueReminders(t *testing.T) {
	m, _ := newTestModule(t)
	_, err := m.store.Add(context.Background(), "past due", fixedNow.Add(-time.Minute), fixedNow)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan Reminder, 1)
	go m.Watch(ctx, 5*time.Millisecond, func(r Reminder) { notified <- r })

	select {
	case r := <-notified:
		require.Equal(t, "past due", r.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not deliver the due reminder")
	}
}
