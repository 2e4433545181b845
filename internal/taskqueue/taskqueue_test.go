package taskqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devswarm/devswarm/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "devswarm_test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// waitFor polls cond every tick until it returns true or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(1 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

type recordingOrchestrator struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]bool
}

func (r *recordingOrchestrator) Execute(ctx context.Context, goal, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, goal)
	if r.failing[goal] {
		return errors.New("orchestration unavailable")
	}
	return nil
}

func (r *recordingOrchestrator) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWorkerProcessesEnqueuedGoal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, `{"goal":"research competitors","target":"researcher"}`); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	orch := &recordingOrchestrator{}
	w := New(s, orch, "test-group", 2*time.Millisecond, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool { return orch.callCount() == 1 }, "orchestrator called once")

	entry, err := s.Next(ctx, "test-group")
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if entry != nil {
		t.Fatalf("Next() after processing = %+v, want nil (entry acked)", entry)
	}
}

func TestWorkerAcksEvenOnOrchestrationFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, `{"goal":"flaky goal"}`); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	orch := &recordingOrchestrator{failing: map[string]bool{"flaky goal": true}}
	w := New(s, orch, "test-group", 2*time.Millisecond, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool { return orch.callCount() == 1 }, "orchestrator attempted once")

	entry, err := s.Next(ctx, "test-group")
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if entry != nil {
		t.Fatalf("Next() after failed execution = %+v, want nil (no redelivery)", entry)
	}

	activity, err := s.ListActivity(ctx, 10)
	if err != nil {
		t.Fatalf("ListActivity() error: %v", err)
	}
	found := false
	for _, a := range activity {
		if a.Action == "orchestration_failed" {
			found = true
		}
	}
	if !found {
		t.Fatal("ListActivity() missing orchestration_failed entry after a failed goal")
	}
}

func TestWorkerDrainsMultipleEntriesPerTick(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Enqueue(ctx, `{"goal":"batch"}`); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	orch := &recordingOrchestrator{}
	w := New(s, orch, "test-group", 50*time.Millisecond, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool { return orch.callCount() == 5 }, "all five entries processed")
}

func TestWorkerStopWaitsForInFlightEntry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, `{"goal":"final goal"}`); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	orch := &recordingOrchestrator{}
	w := New(s, orch, "test-group", 1*time.Millisecond, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return orch.callCount() == 1 }, "goal processed before stop")
	w.Stop()
}
