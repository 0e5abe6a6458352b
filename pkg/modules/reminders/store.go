package reminders

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

const schema = `
CREATE TABLE IF NOT EXISTS reminder (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	uid        TEXT    NOT NULL UNIQUE,
	message    TEXT    NOT NULL,
	due_ts     INTEGER NOT NULL,
	created_ts INTEGER NOT NULL,
	delivered  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reminder_due ON reminder (delivered, due_ts);
`

type Reminder struct {
	ID        int64
	UID       string
	Message   string
	DueAt     time.Time
	CreatedAt time.Time
	Delivered bool
}

// Store persists reminders in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path and applies the
// schema.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("reminders db path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create reminders db directory: %w", err)
		}
	}

	// Each pragma needs the _pragma= prefix with the modernc driver.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open reminders db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply reminders schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(ctx context.Context, message string, due time.Time, now time.Time) (Reminder, error) {
	r := Reminder{
		UID:       uuid.NewString(),
		Message:   message,
		DueAt:     due.Truncate(time.Second),
		CreatedAt: now.Truncate(time.Second),
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO reminder (uid, message, due_ts, created_ts) VALUES (?, ?, ?, ?)",
		r.UID, r.Message, r.DueAt.Unix(), r.CreatedAt.Unix())
	if err != nil {
		return Reminder{}, fmt.Errorf("insert reminder: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return Reminder{}, fmt.Errorf("read reminder id: %w", err)
	}

	return r, nil
}

// Pending lists undelivered reminders, soonest first.
func (s *Store) Pending(ctx context.Context) ([]Reminder, error) {
	return s.query(ctx, "SELECT id, uid, message, due_ts, created_ts, delivered FROM reminder WHERE delivered = 0 ORDER BY due_ts, id")
}

// Due lists undelivered reminders whose time has come.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Reminder, error) {
	return s.query(ctx,
		"SELECT id, uid, message, due_ts, created_ts, delivered FROM reminder WHERE delivered = 0 AND due_ts <= ? ORDER BY due_ts, id",
		now.Unix())
}

func (s *Store) MarkDelivered(ctx context.Context, ids ...int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "UPDATE reminder SET delivered = 1 WHERE id = ?", id); err != nil {
			return fmt.Errorf("mark reminder %d delivered: %w", id, err)
		}
	}

	return tx.Commit()
}

// Delete removes a reminder and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reminder WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete reminder %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reminder %d: %w", id, err)
	}

	return affected > 0, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	list := make([]Reminder, 0)
	for rows.Next() {
		var (
			r                Reminder
			dueTS, createdTS int64
			delivered        int
		)
		if err := rows.Scan(&r.ID, &r.UID, &r.Message, &dueTS, &createdTS, &delivered); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.DueAt = time.Unix(dueTS, 0)
		r.CreatedAt = time.Unix(createdTS, 0)
		r.Delivered = delivered != 0
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}

	return list, nil
}
