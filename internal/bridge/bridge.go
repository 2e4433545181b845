// Package bridge implements the state bridge / poller (C7): it
// reconciles push notifications from the event bus with a pull
// heartbeat and forwards both delta frames and full snapshots to the
// hub. It is the one component that decides when a snapshot is worth
// broadcasting (only when the version actually advanced).
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/devswarm/devswarm/internal/eventbus"
	"github.com/devswarm/devswarm/internal/hub"
	"github.com/devswarm/devswarm/internal/snapshot"
)

// DefaultHeartbeatInterval is used when configuration leaves it unset.
const DefaultHeartbeatInterval = 30 * time.Second

// Bridge owns the last-broadcast-version cursor and the subscription
// lifecycle. The zero value is not usable; construct with New.
type Bridge struct {
	assembler *snapshot.Assembler
	bus       eventbus.Bus
	hub       *hub.Hub
	interval  time.Duration
	logger    *slog.Logger

	lastVersion int64
}

// New creates a Bridge. interval <= 0 uses DefaultHeartbeatInterval. A
// nil logger is replaced with slog.Default.
func New(assembler *snapshot.Assembler, bus eventbus.Bus, h *hub.Hub, interval time.Duration, logger *slog.Logger) *Bridge {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{assembler: assembler, bus: bus, hub: h, interval: interval, logger: logger, lastVersion: -1}
}

// Run broadcasts an initial snapshot, then subscribes to the event bus
// and enters the dual-source loop; if subscription fails it falls back
// to the heartbeat-only loop. Run blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.broadcastSnapshotIfChanged(ctx)

	stateChanged, cancelState, err := b.bus.Subscribe(ctx, eventbus.ChannelStateChanged)
	if err != nil {
		b.logger.Warn("bridge: subscribe to state_changed failed, running heartbeat-only", "error", err)
		b.heartbeatOnlyLoop(ctx)
		return
	}
	agentEvents, cancelAgents, err := b.bus.Subscribe(ctx, eventbus.ChannelAgentEvents)
	if err != nil {
		cancelState()
		b.logger.Warn("bridge: subscribe to agent_events failed, running heartbeat-only", "error", err)
		b.heartbeatOnlyLoop(ctx)
		return
	}
	defer cancelState()
	defer cancelAgents()

	b.dualSourceLoop(ctx, stateChanged, agentEvents)
}

func (b *Bridge) dualSourceLoop(ctx context.Context, stateChanged, agentEvents <-chan []byte) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-stateChanged:
			if !ok {
				b.logger.Warn("bridge: state_changed subscription closed, falling back to heartbeat-only")
				b.heartbeatOnlyLoop(ctx)
				return
			}
			b.broadcastSnapshotIfChanged(ctx)
		case frame, ok := <-agentEvents:
			if !ok {
				b.logger.Warn("bridge: agent_events subscription closed, falling back to heartbeat-only")
				b.heartbeatOnlyLoop(ctx)
				return
			}
			b.hub.Broadcast(frame)
		case <-ticker.C:
			b.broadcastSnapshotIfChanged(ctx)
		}
	}
}

// heartbeatOnlyLoop runs when subscription is unavailable (or was lost).
// Every tick it also retries subscription; on success it hands off to
// the dual-source loop so deltas resume forwarding without a restart
// (testable property #9, RESOLVED OPEN QUESTION #1 in SPEC_FULL.md).
// The retry cadence is deliberately the same as the heartbeat — the
// spec leaves the interval implementation-defined.
func (b *Bridge) heartbeatOnlyLoop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcastSnapshotIfChanged(ctx)

			stateChanged, cancelState, err := b.bus.Subscribe(ctx, eventbus.ChannelStateChanged)
			if err != nil {
				continue
			}
			agentEvents, cancelAgents, err := b.bus.Subscribe(ctx, eventbus.ChannelAgentEvents)
			if err != nil {
				cancelState()
				continue
			}
			b.logger.Info("bridge: event bus subscription recovered, resuming delta forwarding")
			func() {
				defer cancelState()
				defer cancelAgents()
				b.dualSourceLoop(ctx, stateChanged, agentEvents)
			}()
			return
		}
	}
}

// broadcastSnapshotIfChanged re-reads the current version and only
// pays for a full snapshot assembly and broadcast when it advanced
// past lastVersion — the first call with lastVersion == -1 always
// broadcasts, satisfying the "emit one snapshot immediately on start"
// requirement.
func (b *Bridge) broadcastSnapshotIfChanged(ctx context.Context) {
	version, err := b.assembler.Version(ctx)
	if err != nil {
		b.logger.Error("bridge: read version failed", "error", err)
		return
	}
	if version == b.lastVersion {
		return
	}

	_, raw, err := b.assembler.Build(ctx)
	if err != nil {
		b.logger.Error("bridge: build snapshot failed", "error", err)
		return
	}
	b.hub.Broadcast(raw)
	b.lastVersion = version
}
