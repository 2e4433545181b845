// Package eventbus provides the two named pub/sub channels the state
// distribution core runs on: state_changed (an empty wake-up signal)
// and agent_events (ready-to-forward delta frames). It is deliberately
// narrower than a general message bus: DevSwarm needs exactly these two
// channels plus best-effort, non-blocking fan-out. A Bus is safe for
// concurrent use; publishing on a nil or unavailable Bus never errors
// loudly enough to roll back the caller's mutation (see internal/delta).
package eventbus

import "context"

// Channel names are these fixed topic strings; internal/config has no
// setting that overrides them.
const (
	ChannelStateChanged = "devswarm:state_changed"
	ChannelAgentEvents  = "devswarm:agent_events"
)

// Bus is the publish/subscribe surface used by the delta publisher and
// the state bridge. Implementations: MemBus (in-process, always
// available) and *MQTTBus (broker-backed, degrades to unavailable on
// connect failure per the degraded-path requirement).
type Bus interface {
	// Publish sends payload to channel. Non-blocking and best-effort:
	// slow subscribers miss messages rather than stall the publisher,
	// and a publish error is never fatal to the caller's mutation.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of raw payloads published to
	// channel since the call. The caller must call the returned
	// cancel func to release the subscription.
	Subscribe(ctx context.Context, channel string) (sub <-chan []byte, cancel func(), err error)

	// Available reports whether the bus is currently able to deliver
	// messages. A bridge that fails to subscribe falls back to the
	// heartbeat-only loop (see internal/bridge).
	Available() bool

	// Close releases the bus's resources.
	Close() error
}
