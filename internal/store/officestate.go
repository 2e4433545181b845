package store

import (
	"context"
	"fmt"

	"github.com/devswarm/devswarm/internal/model"
)

// DefaultSnapshotMessagesLimit is the number of recent messages
// included in a full-state read when the caller does not override it.
const DefaultSnapshotMessagesLimit = 20

// CurrentVersion returns the office_state version without reading any
// other entity.
func (s *Store) CurrentVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM office_state WHERE id = 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("current version: %w", err)
	}
	return v, nil
}

// BumpVersion atomically increments office_state.version and returns
// the new value. Idempotence is not guaranteed: callers invoke this
// exactly once per mutation, immediately after the entity write that
// earns the bump. The increment and read-back run in a transaction of
// their own, separate from the entity write.
func (s *Store) BumpVersion(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bump version: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE office_state SET version = version + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("bump version: update: %w", err)
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM office_state WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("bump version: read back: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bump version: commit: %w", err)
	}
	return v, nil
}

// FullState is the coherent full-state payload assembled by
// GetFullState: every entity reflects at least the mutations that
// bumped the version up to Version.
type FullState struct {
	Agents   []*model.Agent
	Messages []*model.Message
	Tasks    []*model.Task
	Version  int64
}

// GetFullState reads agents, the most recent messagesLimit messages,
// all tasks with their assignees, and the current version as a single
// logical read. A messagesLimit of 0 uses DefaultSnapshotMessagesLimit.
//
// The version is read first; because every write that advances a
// client-visible attribute bumps the version immediately after its own
// entity write, and SQLite serializes writers,
// the entities read after the version here are guaranteed at least as
// fresh as the returned version.
func (s *Store) GetFullState(ctx context.Context, messagesLimit int) (*FullState, error) {
	if messagesLimit <= 0 {
		messagesLimit = DefaultSnapshotMessagesLimit
	}

	version, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get full state: %w", err)
	}
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("get full state: agents: %w", err)
	}
	messages, err := s.ListMessages(ctx, messagesLimit, "")
	if err != nil {
		return nil, fmt.Errorf("get full state: messages: %w", err)
	}
	tasks, err := s.ListTasks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("get full state: tasks: %w", err)
	}

	return &FullState{Agents: agents, Messages: messages, Tasks: tasks, Version: version}, nil
}
