package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devswarm/devswarm/internal/model"
)

// CreateMessage appends a message and returns its generated id.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (string, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.MessageType == "" {
		m.MessageType = "chat"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_agent, to_agent, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromAgent, m.ToAgent, m.Content, m.MessageType, fmtTime(m.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	return m.ID, nil
}

// ListMessages returns the most recent messages, newest first, bounded
// by limit and optionally filtered to a single agent (either side of
// the conversation).
func (s *Store) ListMessages(ctx context.Context, limit int, agentID string) ([]*model.Message, error) {
	var rows *sql.Rows
	var err error
	if agentID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, from_agent, to_agent, content, message_type, created_at
			FROM messages ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, from_agent, to_agent, content, message_type, created_at
			FROM messages WHERE from_agent = ? OR to_agent = ?
			ORDER BY created_at DESC LIMIT ?`, agentID, agentID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var m model.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.FromAgent, &m.ToAgent, &m.Content, &m.MessageType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}
