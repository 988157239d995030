// Package audit persists a journal of every resolved intent so that
// operator actions on the timeline can be reviewed and exported.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"fleetgrid/internal/intent"
)

// Entry is one journal row: an intent and how it resolved.
type Entry struct {
	ID        int64
	IntentID  string
	Kind      intent.Kind
	EventID   int64
	Revision  uint64
	Success   bool
	Detail    string
	CreatedAt time.Time
}

// Store wraps the sqlite connection holding the intent journal.
type Store struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewStore opens (or creates) the journal database at path.
func NewStore(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{DB: db, logger: logger}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Audit database initialized")
	return s, nil
}

func (s *Store) createTables() error {
	_, err := s.Exec(`CREATE TABLE IF NOT EXISTS intent_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		intent_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		event_id INTEGER NOT NULL DEFAULT 0,
		revision INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		detail TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	_, err = s.Exec(`CREATE INDEX IF NOT EXISTS idx_journal_event ON intent_journal(event_id)`)
	return err
}

// Record appends an outcome to the journal.
func (s *Store) Record(ctx context.Context, out intent.Outcome) error {
	detail := ""
	if out.Err != nil {
		detail = out.Err.Error()
	} else if out.HasConflict {
		detail = "conflict detected"
	}

	_, err := s.ExecContext(ctx,
		`INSERT INTO intent_journal (intent_id, kind, event_id, revision, success, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		out.Intent.ID, string(out.Intent.Kind), out.Intent.EventID, out.Intent.Revision,
		out.Err == nil && !out.HasConflict, detail)
	if err != nil {
		return fmt.Errorf("record intent: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, intent_id, kind, event_id, revision, success, detail, created_at
		 FROM intent_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByEvent returns all journal entries touching one event, oldest first.
func (s *Store) ByEvent(ctx context.Context, eventID int64) ([]Entry, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT id, intent_id, kind, event_id, revision, success, detail, created_at
		 FROM intent_journal WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.IntentID, &kind, &e.EventID, &e.Revision, &e.Success, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = intent.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
