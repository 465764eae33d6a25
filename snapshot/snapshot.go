// Package snapshot keeps the last successfully parsed agent lists in SQLite
// so the service can fall back to real data when the upstream is down.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentlist/agents"

	_ "github.com/mattn/go-sqlite3"
)

// Snapshot is one stored agent list.
type Snapshot struct {
	ID      int64
	Source  string
	TakenAt time.Time
	Items   []agents.Record
}

// Store is a SQLite-backed snapshot store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	taken_at TIMESTAMP NOT NULL,
	total INTEGER NOT NULL,
	items TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
`

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores records taken from source. Empty lists are not worth keeping
// and are ignored.
func (s *Store) Save(ctx context.Context, source string, records []agents.Record) error {
	if len(records) == 0 {
		return nil
	}

	items, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (source, taken_at, total, items) VALUES (?, ?, ?, ?)`,
		source, time.Now().UTC(), len(records), string(items))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot. ok is false when none exist.
func (s *Store) Latest(ctx context.Context) (snap Snapshot, ok bool, err error) {
	var items string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, taken_at, items FROM snapshots ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&snap.ID, &snap.Source, &snap.TakenAt, &items); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("loading snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(items), &snap.Items); err != nil {
		return Snapshot{}, false, fmt.Errorf("decoding snapshot %d: %w", snap.ID, err)
	}
	return snap, true, nil
}

// Prune deletes all but the newest keep snapshots and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
