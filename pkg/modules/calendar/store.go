package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// The table lives in the reminders database by default.
const schema = `
CREATE TABLE IF NOT EXISTS calendar_event (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	uid          TEXT    NOT NULL UNIQUE,
	title        TEXT    NOT NULL,
	start_ts     INTEGER NOT NULL,
	duration_min INTEGER NOT NULL,
	created_ts   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calendar_event_start ON calendar_event (start_ts);
`

type Event struct {
	ID        int64
	UID       string
	Title     string
	StartAt   time.Time
	Duration  time.Duration
	CreatedAt time.Time
}

// Store persists calendar events in a SQLite database.
type Store struct {
	db *sql.DB
}

func OpenStore(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("calendar db path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create calendar db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open calendar db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply calendar schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(ctx context.Context, title string, start time.Time, duration time.Duration, now time.Time) (Event, error) {
	e := Event{
		UID:       uuid.NewString(),
		Title:     title,
		StartAt:   start.Truncate(time.Second),
		Duration:  duration.Truncate(time.Minute),
		CreatedAt: now.Truncate(time.Second),
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO calendar_event (uid, title, start_ts, duration_min, created_ts) VALUES (?, ?, ?, ?, ?)",
		e.UID, e.Title, e.StartAt.Unix(), int64(e.Duration/time.Minute), e.CreatedAt.Unix())
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return Event{}, fmt.Errorf("read event id: %w", err)
	}

	return e, nil
}

// Between lists events starting in [from, to), earliest first.
func (s *Store) Between(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, uid, title, start_ts, duration_min, created_ts FROM calendar_event WHERE start_ts >= ? AND start_ts < ? ORDER BY start_ts, id",
		from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	list := make([]Event, 0)
	for rows.Next() {
		var (
			e                        Event
			startTS, mins, createdTS int64
		)
		if err := rows.Scan(&e.ID, &e.UID, &e.Title, &startTS, &mins, &createdTS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StartAt = time.Unix(startTS, 0)
		e.Duration = time.Duration(mins) * time.Minute
		e.CreatedAt = time.Unix(createdTS, 0)
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return list, nil
}

// Delete removes an event and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM calendar_event WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete event %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete event %d: %w", id, err)
	}

	return affected > 0, nil
}
