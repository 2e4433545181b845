package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devswarm/devswarm/internal/model"
)

// CreateTask inserts a new task with its assignee set and returns the
// generated id. Title must already be validated non-empty by the
// caller (see internal/httpapi).
func (s *Store) CreateTask(ctx context.Context, t *model.Task) (string, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = model.TaskBacklog
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("create task: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.Priority, t.CreatedBy, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return "", fmt.Errorf("create task: insert: %w", err)
	}

	if err := insertAssignments(ctx, tx, t.ID, t.AssignedAgents); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("create task: commit: %w", err)
	}
	return t.ID, nil
}

func insertAssignments(ctx context.Context, tx *sql.Tx, taskID string, agentIDs []string) error {
	seen := make(map[string]struct{}, len(agentIDs))
	for _, agentID := range agentIDs {
		if agentID == "" {
			continue
		}
		if _, dup := seen[agentID]; dup {
			continue
		}
		seen[agentID] = struct{}{}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_assignments (task_id, agent_id) VALUES (?, ?)`, taskID, agentID); err != nil {
			return fmt.Errorf("assign agent %s to task %s: %w", agentID, taskID, err)
		}
	}
	return nil
}

// GetTask returns the task with id and its assignee set, or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, created_by, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	assignees, err := s.assigneesForTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t.AssignedAgents = assignees
	return t, nil
}

// ListTasks returns tasks, optionally filtered by assigned agent id.
// An empty agentID returns every task.
func (s *Store) ListTasks(ctx context.Context, agentID string) ([]*model.Task, error) {
	var rows *sql.Rows
	var err error
	if agentID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, title, description, status, priority, created_by, created_at, updated_at
			FROM tasks ORDER BY priority DESC, created_at ASC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT t.id, t.title, t.description, t.status, t.priority, t.created_by, t.created_at, t.updated_at
			FROM tasks t JOIN task_assignments a ON a.task_id = t.id
			WHERE a.agent_id = ? ORDER BY t.priority DESC, t.created_at ASC`, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range out {
		assignees, err := s.assigneesForTask(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		t.AssignedAgents = assignees
	}
	return out, nil
}

// ListTasksByAgentAndStatus returns an agent's tasks filtered to a
// single status, used by the dispatcher to find pending backlog work
// without loading every task.
func (s *Store) ListTasksByAgentAndStatus(ctx context.Context, agentID string, status model.TaskStatus) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.description, t.status, t.priority, t.created_by, t.created_at, t.updated_at
		FROM tasks t JOIN task_assignments a ON a.task_id = t.id
		WHERE a.agent_id = ? AND t.status = ?
		ORDER BY t.priority DESC, t.created_at ASC`, agentID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by agent/status: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.AssignedAgents = []string{agentID}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus persists a task status transition. Callers
// (internal/dispatcher, internal/httpapi) are responsible for
// validating that the transition is legal before calling this.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, id)
	if err != nil {
		return fmt.Errorf("update task status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task status %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) assigneesForTask(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id FROM task_assignments WHERE task_id = ? ORDER BY agent_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("assignees for task %s: %w", taskID, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, err
		}
		out = append(out, agentID)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var status, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.Priority, &t.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.AssignedAgents = []string{}
	return &t, nil
}
