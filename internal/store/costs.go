package store

import (
	"context"
	"fmt"

	"github.com/devswarm/devswarm/internal/model"
)

// RecordCost adds to an agent's running token/cost aggregate, creating
// the row if necessary.
func (s *Store) RecordCost(ctx context.Context, agentID string, inputTokens, outputTokens int64, costUSD float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_costs (agent_id, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cost_usd = cost_usd + excluded.cost_usd`,
		agentID, inputTokens, outputTokens, costUSD)
	if err != nil {
		return fmt.Errorf("record cost for %s: %w", agentID, err)
	}
	return nil
}

// ListCosts returns every agent's cost aggregate.
func (s *Store) ListCosts(ctx context.Context) ([]*model.AgentCost, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, input_tokens, output_tokens, cost_usd FROM agent_costs ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentCost
	for rows.Next() {
		var c model.AgentCost
		if err := rows.Scan(&c.AgentID, &c.InputTokens, &c.OutputTokens, &c.CostUSD); err != nil {
			return nil, fmt.Errorf("scan cost: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
