package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pkt.systems/kernelx/schema"
)

// Store keeps events in a sqlite database.
type Store struct {
	db *sql.DB
}

var _ Sink = (*Store)(nil)

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod telemetry db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends ev.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO repl_events(at, session_id, language, status)
VALUES (?, ?, ?, ?)
`, ts(ev.At), string(ev.SessionID), ev.Language, ev.Status)
	if err != nil {
		return fmt.Errorf("insert repl event: %w", err)
	}
	return nil
}

// List returns up to limit events, newest first. A non-positive limit
// returns every event.
func (s *Store) List(ctx context.Context, limit int) ([]Event, error) {
	return s.query(ctx, `SELECT id, at, session_id, language, status FROM repl_events ORDER BY id DESC LIMIT ?`, sqlLimit(limit))
}

// ListSession returns up to limit events for one session, newest first.
func (s *Store) ListSession(ctx context.Context, sessionID schema.SessionID, limit int) ([]Event, error) {
	return s.query(ctx, `SELECT id, at, session_id, language, status FROM repl_events WHERE session_id = ? ORDER BY id DESC LIMIT ?`, string(sessionID), sqlLimit(limit))
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list repl events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev        Event
			at        string
			sessionID string
		)
		if err := rows.Scan(&ev.ID, &at, &sessionID, &ev.Language, &ev.Status); err != nil {
			return nil, fmt.Errorf("scan repl event: %w", err)
		}
		parsed, err := parseTS(at)
		if err != nil {
			return nil, fmt.Errorf("parse repl event time: %w", err)
		}
		ev.At = parsed
		ev.SessionID = schema.SessionID(sessionID)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
