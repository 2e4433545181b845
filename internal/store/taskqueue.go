package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QueueEntry is a single durable task_queue delivery: an opaque
// payload (see internal/taskqueue for its shape) plus the id used as
// the consumer group's watermark.
type QueueEntry struct {
	ID      int64
	Payload string
}

// Enqueue appends a new entry to the task queue and returns its id.
func (s *Store) Enqueue(ctx context.Context, payload string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_queue_entries (payload, created_at) VALUES (?, ?)`,
		payload, fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue: last insert id: %w", err)
	}
	return id, nil
}

// JoinGroup ensures a consumer group's cursor row exists, starting at
// watermark 0 (before the first entry) if newly created. Calling it
// for a group that already exists is a no-op — the analogue of
// swallowing a stream's benign "group exists" error.
func (s *Store) JoinGroup(ctx context.Context, group string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_queue_cursors (group_name, last_id) VALUES (?, 0)`, group)
	if err != nil {
		return fmt.Errorf("join group %s: %w", group, err)
	}
	return nil
}

// Next returns the oldest undelivered entry for group (id strictly
// greater than its cursor), or (nil, nil) if the queue is caught up.
func (s *Store) Next(ctx context.Context, group string) (*QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.payload
		FROM task_queue_entries e
		WHERE e.id > (SELECT last_id FROM task_queue_cursors WHERE group_name = ?)
		ORDER BY e.id ASC LIMIT 1`, group)

	var e QueueEntry
	if err := row.Scan(&e.ID, &e.Payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("next for group %s: %w", group, err)
	}
	return &e, nil
}

// Ack advances group's cursor to id, permanently marking every entry
// up to and including id as delivered for that group. There is no
// redelivery path: callers that want retry semantics must re-enqueue.
func (s *Store) Ack(ctx context.Context, group string, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_queue_cursors SET last_id = ? WHERE group_name = ? AND last_id < ?`, id, group, id)
	if err != nil {
		return fmt.Errorf("ack group %s id %d: %w", group, id, err)
	}
	return nil
}
