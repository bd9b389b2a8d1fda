package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// maxSubjectLen bounds the subject column; long uploads are truncated.
const maxSubjectLen = 200

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the journal is written from several goroutines.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject TEXT,
			outcome TEXT NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// GetConfig returns the stored value, or "" when the key is unset.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM configuration WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) ListConfig() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM configuration ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Journal Implementation

// RecordAction stores a journal row, filling in ID and CreatedAt if unset.
func (s *SQLiteStore) RecordAction(a *Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.Subject = truncate(a.Subject, maxSubjectLen)

	query := `INSERT INTO actions (id, kind, subject, outcome, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(query, a.ID, a.Kind, a.Subject, string(a.Outcome), a.Error, a.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// ListActions returns the most recent actions first.
func (s *SQLiteStore) ListActions(limit int) ([]*Action, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, subject, outcome, error, created_at FROM actions ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		var (
			a       Action
			outcome string
			subject sql.NullString
			errText sql.NullString
			created int64
		)
		if err := rows.Scan(&a.ID, &a.Kind, &subject, &outcome, &errText, &created); err != nil {
			return nil, err
		}
		a.Subject = subject.String
		a.Error = errText.String
		a.Outcome = Outcome(outcome)
		a.CreatedAt = time.Unix(0, created)
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
