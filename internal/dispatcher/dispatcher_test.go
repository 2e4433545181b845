package dispatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/eventbus"
	"github.com/devswarm/devswarm/internal/model"
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

type stubExecutor struct {
	mu      sync.Mutex
	calls   int
	failing bool
}

func (s *stubExecutor) ExecuteTask(ctx context.Context, agentID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing {
		return errors.New("execution failed")
	}
	return nil
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDispatcherDrainsBacklogTaskToDone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedAgent(ctx, &model.Agent{ID: "researcher", Name: "Researcher", Status: model.AgentIdle}); err != nil {
		t.Fatalf("SeedAgent() error: %v", err)
	}
	taskID, err := s.CreateTask(ctx, &model.Task{Title: "Research multi-agent patterns", AssignedAgents: []string{"researcher"}})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	exec := &stubExecutor{}
	pub := delta.New(eventbus.NewMemBus(), nil)
	d := New(s, exec, pub, 2*time.Millisecond, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool {
		task, err := s.GetTask(ctx, taskID)
		return err == nil && task.Status == model.TaskDone
	}, "task reaches Done")

	if exec.callCount() != 1 {
		t.Errorf("executor called %d times, want 1", exec.callCount())
	}
}

func TestDispatcherBlocksTaskOnExecutorFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedAgent(ctx, &model.Agent{ID: "builder", Name: "Builder", Status: model.AgentIdle}); err != nil {
		t.Fatalf("SeedAgent() error: %v", err)
	}
	taskID, err := s.CreateTask(ctx, &model.Task{Title: "Ship the release", AssignedAgents: []string{"builder"}})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	exec := &stubExecutor{failing: true}
	pub := delta.New(eventbus.NewMemBus(), nil)
	d := New(s, exec, pub, 2*time.Millisecond, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool {
		task, err := s.GetTask(ctx, taskID)
		return err == nil && task.Status == model.TaskBlocked
	}, "task reaches Blocked")

	activity, err := s.ListActivity(ctx, 10)
	if err != nil {
		t.Fatalf("ListActivity() error: %v", err)
	}
	found := false
	for _, a := range activity {
		if a.Action == "task_blocked" {
			found = true
		}
	}
	if !found {
		t.Fatal("ListActivity() missing task_blocked entry after executor failure")
	}
}

func TestDispatcherReturnsAgentToIdleAfterDrain(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedAgent(ctx, &model.Agent{ID: "researcher", Name: "Researcher", Status: model.AgentIdle}); err != nil {
		t.Fatalf("SeedAgent() error: %v", err)
	}
	taskID, err := s.CreateTask(ctx, &model.Task{Title: "Research multi-agent patterns", AssignedAgents: []string{"researcher"}})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	exec := &stubExecutor{}
	pub := delta.New(eventbus.NewMemBus(), nil)
	d := New(s, exec, pub, 2*time.Millisecond, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, func() bool {
		task, err := s.GetTask(ctx, taskID)
		return err == nil && task.Status == model.TaskDone
	}, "task reaches Done")

	waitFor(t, time.Second, func() bool {
		agent, err := s.GetAgent(ctx, "researcher")
		return err == nil && agent.Status == model.AgentIdle
	}, "agent returns to Idle once its backlog is drained")
}

func TestDispatcherSkipsNonIdleAgents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedAgent(ctx, &model.Agent{ID: "writer", Name: "Writer", Status: model.AgentWorking}); err != nil {
		t.Fatalf("SeedAgent() error: %v", err)
	}
	taskID, err := s.CreateTask(ctx, &model.Task{Title: "Draft report", AssignedAgents: []string{"writer"}})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	exec := &stubExecutor{}
	pub := delta.New(eventbus.NewMemBus(), nil)
	d := New(s, exec, pub, 2*time.Millisecond, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	d.Stop()

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if task.Status != model.TaskBacklog {
		t.Errorf("task status = %s, want Backlog (agent was not Idle)", task.Status)
	}
	if exec.callCount() != 0 {
		t.Errorf("executor called %d times, want 0", exec.callCount())
	}
}

func TestLockForReturnsSameMutexForSameAgent(t *testing.T) {
	d := New(testStore(t), &stubExecutor{}, delta.New(eventbus.NewMemBus(), nil), time.Second, nil)
	a := d.lockFor("researcher")
	b := d.lockFor("researcher")
	if a != b {
		t.Error("lockFor() returned distinct mutexes for the same agent id")
	}
}
