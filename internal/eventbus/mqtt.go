package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MQTTBus is a broker-backed Bus, used when event_bus_url is set. It
// wraps a single autopaho.ConnectionManager; state_changed and
// agent_events are plain MQTT topics with QoS 0 — at-most-once is
// acceptable because the heartbeat in internal/bridge recovers any
// message the broker or a subscriber drops.
type MQTTBus struct {
	logger *slog.Logger

	cm        *autopaho.ConnectionManager
	connected atomic.Bool

	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}

	cancel context.CancelFunc
}

// NewMQTTBus connects to the broker at brokerURL and returns a Bus. It
// waits up to 10 seconds (or until ctx ends) for the first connection;
// if none is up by then it logs a warning and returns the Bus anyway.
// autopaho keeps retrying in the background, and Available reflects
// live connection state.
func NewMQTTBus(ctx context.Context, brokerURL, clientID string, logger *slog.Logger) (*MQTTBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: parse broker url: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &MQTTBus{
		logger: logger,
		subs:   make(map[string]map[chan []byte]struct{}),
		cancel: cancel,
	}

	cfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{u},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.connected.Store(true)
			logger.Info("eventbus: connected to broker", "broker", brokerURL)
			subCtx, subCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer subCancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: ChannelStateChanged, QoS: 0},
					{Topic: ChannelAgentEvents, QoS: 0},
				},
			}); err != nil {
				logger.Warn("eventbus: subscribe failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			b.connected.Store(false)
			logger.Warn("eventbus: connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	cm, err := autopaho.NewConnection(runCtx, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	b.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		b.deliver(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("eventbus: initial connection timed out, retrying in background", "error", err)
	}

	return b, nil
}

func (b *MQTTBus) deliver(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Publish implements Bus.
func (b *MQTTBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.cm == nil {
		return fmt.Errorf("eventbus: not connected")
	}
	_, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   channel,
		QoS:     0,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("eventbus: publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *MQTTBus) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subBufSize)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[channel]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

// Available reports the live broker connection state.
func (b *MQTTBus) Available() bool {
	return b.connected.Load()
}

// Close disconnects from the broker and releases subscriber channels.
func (b *MQTTBus) Close() error {
	b.cancel()

	b.mu.Lock()
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = make(map[string]map[chan []byte]struct{})
	b.mu.Unlock()

	if b.cm == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.cm.Disconnect(ctx)
}
