package checkpoint

import (
	"database/sql"
	"fmt"
	"time"

	"es2os/internal/timeutil"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the progress timestamp in a single-row SQLite
// table. Useful when the checkpoint lives on shared storage where plain
// file overwrites are less trustworthy.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed checkpoint store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	// Single writer, single value: one connection is enough
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS progress (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		ts TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Load returns the persisted timestamp
func (s *SQLiteStore) Load() (time.Time, bool, error) {
	row := s.db.QueryRow(`SELECT ts FROM progress WHERE id = 1`)

	var ts string
	err := row.Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	t, err := timeutil.Parse(ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt checkpoint row: %w", err)
	}
	return t, true, nil
}

// Save overwrites the persisted timestamp
func (s *SQLiteStore) Save(t time.Time) error {
	query := `
	INSERT INTO progress (id, ts, updated_at)
	VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		ts = excluded.ts,
		updated_at = excluded.updated_at
	`

	if _, err := s.db.Exec(query, timeutil.Format(t), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Clear removes the persisted timestamp; absent rows are not an error
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM progress WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
