// Package history provides SQLite-backed storage of past invocations, so
// a developer can review what was sent to the agent and how it behaved.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"agentdev/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id            TEXT PRIMARY KEY,
	agent         TEXT NOT NULL,
	prompt        TEXT NOT NULL,
	response_size INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_started_at ON invocations(started_at);
`

// Invocation is one recorded invocation.
type Invocation struct {
	ID           string
	Agent        string
	Prompt       string
	ResponseSize int
	Status       string
	Duration     time.Duration
	StartedAt    time.Time
}

// Status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Store wraps the invocation database. Not safe for concurrent writers
// beyond what SQLite's single-writer model allows; the connection pool is
// capped accordingly.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, logger: logx.NewLogger("history")}, nil
}

// Record persists one invocation. A missing ID is generated.
func (s *Store) Record(inv Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO invocations (id, agent, prompt, response_size, status, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Agent, inv.Prompt, inv.ResponseSize, inv.Status,
		inv.Duration.Milliseconds(), inv.StartedAt)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	s.logger.Debug("recorded invocation %s (agent=%s, status=%s)", inv.ID, inv.Agent, inv.Status)
	return nil
}

// Recent returns the most recent invocations, newest first.
func (s *Store) Recent(limit int) ([]Invocation, error) {
	rows, err := s.db.Query(`
		SELECT id, agent, prompt, response_size, status, duration_ms, started_at
		FROM invocations ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var durationMs int64
		if err := rows.Scan(&inv.ID, &inv.Agent, &inv.Prompt, &inv.ResponseSize,
			&inv.Status, &durationMs, &inv.StartedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		inv.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
