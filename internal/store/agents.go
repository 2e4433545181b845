package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devswarm/devswarm/internal/model"
)

// GetAgent returns the agent with id, or ErrNotFound if absent.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, room, status, current_task, thought_chain, tech_stack, avatar_color, updated_at
		FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// ListAgents returns every agent, ordered by id for deterministic output.
func (s *Store) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role, room, status, current_task, thought_chain, tech_stack, avatar_color, updated_at
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SeedAgent inserts an agent if it does not already exist. Used once at
// process startup to populate the fixed agent roster; a no-op on
// subsequent restarts.
func (s *Store) SeedAgent(ctx context.Context, a *model.Agent) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO agents (id, name, role, room, status, current_task, thought_chain, tech_stack, avatar_color, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Role, string(a.Room), string(a.Status), a.CurrentTask, a.ThoughtChain,
		marshalStrings(a.TechStack), a.AvatarColor, fmtTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("seed agent %s: %w", a.ID, err)
	}
	return nil
}

// DefaultRoster is the fixed set of agents a fresh office is seeded
// with. Ids are stable across restarts per the spec's Agent lifetime
// ("seeded once"); SeedRoster is idempotent so re-running it against an
// already-seeded store is a no-op.
var DefaultRoster = []*model.Agent{
	{ID: "researcher", Name: "Rae", Role: "Researcher", Room: model.RoomLounge, Status: model.AgentIdle, AvatarColor: "#6ca0dc"},
	{ID: "builder", Name: "Bax", Role: "Builder", Room: model.RoomDesks, Status: model.AgentIdle, AvatarColor: "#e08e45"},
	{ID: "writer", Name: "Wren", Role: "Writer", Room: model.RoomDesks, Status: model.AgentIdle, AvatarColor: "#8e6ca0"},
	{ID: "reviewer", Name: "Remy", Role: "Reviewer", Room: model.RoomWarRoom, Status: model.AgentIdle, AvatarColor: "#45a088"},
	{ID: "architect", Name: "Ash", Role: "Architect", Room: model.RoomPrivateOffice, Status: model.AgentIdle, AvatarColor: "#c0564f"},
	{ID: "ops", Name: "Opal", Role: "Ops", Room: model.RoomServerRoom, Status: model.AgentIdle, AvatarColor: "#4f7dc0"},
}

// SeedRoster seeds DefaultRoster into the store. Each agent is inserted
// with INSERT OR IGNORE (via SeedAgent), so calling this on every
// startup is safe: an agent already mutated by HTTP patches, the
// dispatcher, or agent execution is left untouched.
func (s *Store) SeedRoster(ctx context.Context) error {
	for _, a := range DefaultRoster {
		seed := *a
		if err := s.SeedAgent(ctx, &seed); err != nil {
			return err
		}
	}
	return nil
}

// AgentPatch carries the partial-update fields accepted by
// PATCH /agents/{id}. A nil field is left unchanged.
type AgentPatch struct {
	Room         *string
	Status       *string
	CurrentTask  *string
	ThoughtChain *string
}

// PatchAgent applies a partial update to an agent and advances
// updated_at to at least now, preserving the monotonic-non-decreasing
// invariant even if the caller's clock is behind the stored value.
func (s *Store) PatchAgent(ctx context.Context, id string, p AgentPatch) (*model.Agent, error) {
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Room != nil {
		a.Room = model.Room(*p.Room)
	}
	if p.Status != nil {
		a.Status = model.AgentStatus(*p.Status)
	}
	if p.CurrentTask != nil {
		a.CurrentTask = *p.CurrentTask
	}
	if p.ThoughtChain != nil {
		a.ThoughtChain = *p.ThoughtChain
	}
	now := time.Now()
	if now.Before(a.UpdatedAt) {
		now = a.UpdatedAt
	}
	a.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		UPDATE agents SET room = ?, status = ?, current_task = ?, thought_chain = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Room), string(a.Status), a.CurrentTask, a.ThoughtChain, fmtTime(a.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("patch agent %s: %w", id, err)
	}
	return a, nil
}

// OverrideAll bulk-sets status and room for every agent, used by
// POST /state/override. Returns the ids of the agents updated.
func (s *Store) OverrideAll(ctx context.Context, status, room string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("override all: list ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("override all: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := fmtTime(time.Now())
	_, err = s.db.ExecContext(ctx, `UPDATE agents SET status = ?, room = ?, updated_at = ?`, status, room, now)
	if err != nil {
		return nil, fmt.Errorf("override all: update: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var a model.Agent
	var room, status, techStack, updatedAt string
	if err := row.Scan(&a.ID, &a.Name, &a.Role, &room, &status, &a.CurrentTask, &a.ThoughtChain, &techStack, &a.AvatarColor, &updatedAt); err != nil {
		return nil, err
	}
	a.Room = model.Room(room)
	a.Status = model.AgentStatus(status)
	a.TechStack = unmarshalStrings(techStack)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}
