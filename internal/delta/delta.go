// Package delta publishes entity-level DELTA_UPDATE frames (C4) after a
// store mutation has already bumped office_state.version. It is the
// only writer to the event bus's two pub/sub channels; every mutating
// HTTP handler, the dispatcher, and the task queue worker route their
// post-write notifications through a single Publisher so the frame
// shape stays in one place.
package delta

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/devswarm/devswarm/internal/eventbus"
)

// TypeDeltaUpdate is the frame's "type" discriminator.
const TypeDeltaUpdate = "DELTA_UPDATE"

// Category enumerates the entity kinds a delta can describe.
type Category string

const (
	CategoryAgents   Category = "agents"
	CategoryTasks    Category = "tasks"
	CategoryMessages Category = "messages"
)

// Frame is the wire shape of a DELTA_UPDATE message.
type Frame struct {
	Type     string   `json:"type"`
	Category Category `json:"category"`
	ID       string   `json:"id"`
	Data     any      `json:"data"`
}

// Publisher writes delta frames to the event bus. A publish failure is
// logged, never returned to the mutation's caller: per the error
// handling design, a failed publish after a successful version bump
// must not fail the HTTP request — the bridge's heartbeat recovers any
// lost signal.
type Publisher struct {
	bus    eventbus.Bus
	logger *slog.Logger
}

// New creates a Publisher writing to bus. A nil logger is replaced
// with slog.Default.
func New(bus eventbus.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, logger: logger}
}

// Publish constructs a DELTA_UPDATE frame for (category, id, data),
// writes it to agent_events, then fires an empty wake-up signal on
// state_changed. Both publishes are best-effort: an error from either
// is logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, category Category, id string, data any) {
	frame := Frame{Type: TypeDeltaUpdate, Category: category, ID: id, Data: data}
	raw, err := json.Marshal(frame)
	if err != nil {
		p.logger.Error("delta: marshal frame", "category", category, "id", id, "error", err)
		return
	}

	if err := p.bus.Publish(ctx, eventbus.ChannelAgentEvents, raw); err != nil {
		p.logger.Warn("delta: publish agent_events failed, relying on heartbeat", "category", category, "id", id, "error", err)
	}
	if err := p.bus.Publish(ctx, eventbus.ChannelStateChanged, nil); err != nil {
		p.logger.Warn("delta: publish state_changed failed, relying on heartbeat", "error", err)
	}
}
