package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devswarm/devswarm/internal/model"
)

// LogActivity appends an audit entry. Append-only: there is no update
// or delete path.
func (s *Store) LogActivity(ctx context.Context, agentID, action string, details map[string]any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("log activity: marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_log (agent_id, action, details, created_at)
		VALUES (?, ?, ?, ?)`,
		agentID, action, string(detailsJSON), fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent activity entries, newest first,
// bounded by limit.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]*model.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, action, details, created_at
		FROM activity_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []*model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var details, createdAt string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Action, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if details != "" && details != "null" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}
