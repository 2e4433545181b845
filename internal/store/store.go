// Package store provides the durable relational store backing DevSwarm:
// agents, tasks (with assignees), messages, activity log, per-agent cost
// aggregates, and the singleton office_state version counter. It owns
// all persistent data exclusively; no other component holds a pointer
// into the store's state. All public methods are safe for concurrent
// use — SQLite serializes writes, and each version bump is its own
// atomic transaction issued right after the entity write that earns it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // CGO driver, kept importable alongside the pure-Go one
	_ "modernc.org/sqlite"          // primary driver: pure Go, no CGO required
)

// ErrNotFound is returned by typed getters when no row matches. Bulk
// reads (List*) never return it; an absent id is simply omitted.
var ErrNotFound = errors.New("store: not found")

// Store is the durable relational store for DevSwarm's domain entities.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at dsn and runs
// migrations. dsn is passed straight to database/sql. With the pooled
// connections below, a ":memory:" dsn gives each connection its own
// empty database, so tests use a file under t.TempDir() instead.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; a bounded pool avoids
	// "database is locked" errors under concurrent handlers.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS office_state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		state_json TEXT NOT NULL DEFAULT '{}',
		version    INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO office_state (id, state_json, version) VALUES (1, '{}', 0);

	CREATE TABLE IF NOT EXISTS agents (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT '',
		room          TEXT NOT NULL DEFAULT 'Desks',
		status        TEXT NOT NULL DEFAULT 'Idle',
		current_task  TEXT NOT NULL DEFAULT '',
		thought_chain TEXT NOT NULL DEFAULT '',
		tech_stack    TEXT NOT NULL DEFAULT '[]',
		avatar_color  TEXT NOT NULL DEFAULT '#888888',
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'Backlog',
		priority    INTEGER NOT NULL DEFAULT 0,
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS task_assignments (
		task_id  TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		PRIMARY KEY (task_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		from_agent   TEXT NOT NULL DEFAULT '',
		to_agent     TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'chat',
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at DESC);

	CREATE TABLE IF NOT EXISTS activity_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id   TEXT NOT NULL DEFAULT '',
		action     TEXT NOT NULL,
		details    TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_created_at ON activity_log(created_at DESC);

	CREATE TABLE IF NOT EXISTS agent_costs (
		agent_id      TEXT PRIMARY KEY,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd      REAL NOT NULL DEFAULT 0
	);

	-- task_queue_entries + task_queue_cursors together stand in for a
	-- stream with consumer groups (see internal/taskqueue): an
	-- append-only log plus one durable read cursor per group.
	CREATE TABLE IF NOT EXISTS task_queue_entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		payload    TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_queue_cursors (
		group_name TEXT PRIMARY KEY,
		last_id    INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() string {
	return uuid.NewString()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var ss []string
	if s == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return []string{}
	}
	return ss
}
