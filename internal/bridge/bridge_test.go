package bridge

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/eventbus"
	"github.com/devswarm/devswarm/internal/hub"
	"github.com/devswarm/devswarm/internal/model"
	"github.com/devswarm/devswarm/internal/snapshot"
	"github.com/devswarm/devswarm/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bridge_test.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitForFrame(t *testing.T, c *hub.Client, timeout time.Duration) map[string]any {
	t.Helper()
	select {
	case raw := <-c.Send():
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return frame
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a broadcast frame")
		return nil
	}
}

func TestBridgeEmitsInitialSnapshotOnStart(t *testing.T) {
	s := testStore(t)
	bus := eventbus.NewMemBus()
	defer bus.Close()
	h := hub.New(8, nil)
	client := h.Register("c1")

	assembler := snapshot.New(s, 0)
	b := New(assembler, bus, h, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	frame := waitForFrame(t, client, time.Second)
	if frame["type"] != "STATE_UPDATE" {
		t.Errorf("frame type = %v, want STATE_UPDATE", frame["type"])
	}
}

func TestBridgeForwardsAgentEventsVerbatim(t *testing.T) {
	s := testStore(t)
	bus := eventbus.NewMemBus()
	defer bus.Close()
	h := hub.New(8, nil)

	assembler := snapshot.New(s, 0)
	b := New(assembler, bus, h, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	// Drain the initial snapshot frame before registering the
	// assertion client, so we only observe the delta below.
	time.Sleep(20 * time.Millisecond)
	client := h.Register("c1")

	pub := delta.New(bus, nil)
	task := &model.Task{ID: "t1", Title: "Research multi-agent patterns"}
	pub.Publish(ctx, delta.CategoryTasks, "t1", task)

	frame := waitForFrame(t, client, time.Second)
	if frame["type"] != "DELTA_UPDATE" || frame["id"] != "t1" {
		t.Errorf("got frame %v, want type=DELTA_UPDATE id=t1", frame)
	}
}

func TestBridgeBroadcastsSnapshotOnlyWhenVersionAdvances(t *testing.T) {
	s := testStore(t)
	bus := eventbus.NewMemBus()
	defer bus.Close()
	h := hub.New(8, nil)

	assembler := snapshot.New(s, 0)
	b := New(assembler, bus, h, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	client := h.Register("c1")
	_ = waitForFrame(t, client, time.Second) // initial snapshot

	// No version change: the next few heartbeat ticks should not
	// enqueue additional frames.
	select {
	case raw := <-client.Send():
		t.Errorf("unexpected frame with no version change: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := s.BumpVersion(context.Background()); err != nil {
		t.Fatalf("BumpVersion() error: %v", err)
	}

	frame := waitForFrame(t, client, time.Second)
	if frame["type"] != "STATE_UPDATE" {
		t.Errorf("frame type = %v, want STATE_UPDATE", frame["type"])
	}
}
