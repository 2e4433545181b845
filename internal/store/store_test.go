package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devswarm/devswarm/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "devswarm_test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBumpVersionMonotonic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		v, err := s.BumpVersion(ctx)
		if err != nil {
			t.Fatalf("BumpVersion() error: %v", err)
		}
		if v <= last {
			t.Fatalf("BumpVersion() = %d, want strictly greater than %d", v, last)
		}
		last = v
	}
}

func TestCreateAgentAndPatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := &model.Agent{ID: "researcher", Name: "Researcher", Room: model.RoomDesks, Status: model.AgentIdle}
	if err := s.SeedAgent(ctx, a); err != nil {
		t.Fatalf("SeedAgent() error: %v", err)
	}

	status := string(model.AgentWorking)
	room := string(model.RoomWarRoom)
	task := "Sprint planning"
	patched, err := s.PatchAgent(ctx, "researcher", AgentPatch{Status: &status, Room: &room, CurrentTask: &task})
	if err != nil {
		t.Fatalf("PatchAgent() error: %v", err)
	}
	if patched.Status != model.AgentWorking || patched.Room != model.RoomWarRoom || patched.CurrentTask != task {
		t.Fatalf("PatchAgent() = %+v, fields not applied", patched)
	}

	got, err := s.GetAgent(ctx, "researcher")
	if err != nil {
		t.Fatalf("GetAgent() error: %v", err)
	}
	if !got.UpdatedAt.Equal(patched.UpdatedAt) {
		t.Fatalf("GetAgent().UpdatedAt = %v, want %v", got.UpdatedAt, patched.UpdatedAt)
	}
}

func TestSeedRosterIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedRoster(ctx); err != nil {
		t.Fatalf("SeedRoster() error: %v", err)
	}
	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents() error: %v", err)
	}
	if len(agents) != len(DefaultRoster) {
		t.Fatalf("ListAgents() returned %d agents, want %d", len(agents), len(DefaultRoster))
	}

	status := string(model.AgentWorking)
	if _, err := s.PatchAgent(ctx, DefaultRoster[0].ID, AgentPatch{Status: &status}); err != nil {
		t.Fatalf("PatchAgent() error: %v", err)
	}

	if err := s.SeedRoster(ctx); err != nil {
		t.Fatalf("SeedRoster() second call error: %v", err)
	}
	again, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents() error: %v", err)
	}
	if len(again) != len(DefaultRoster) {
		t.Fatalf("ListAgents() after re-seed returned %d agents, want %d", len(again), len(DefaultRoster))
	}
	reseeded, err := s.GetAgent(ctx, DefaultRoster[0].ID)
	if err != nil {
		t.Fatalf("GetAgent() error: %v", err)
	}
	if reseeded.Status != model.AgentWorking {
		t.Errorf("GetAgent().Status = %s, want Working (re-seeding must not clobber a mutated agent)", reseeded.Status)
	}
}

func TestPatchAgentUpdatedAtNeverGoesBackwards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := &model.Agent{ID: "a1", Name: "A1"}
	if err := s.SeedAgent(ctx, a); err != nil {
		t.Fatalf("SeedAgent() error: %v", err)
	}
	first, err := s.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent() error: %v", err)
	}

	task := "do something"
	patched, err := s.PatchAgent(ctx, "a1", AgentPatch{CurrentTask: &task})
	if err != nil {
		t.Fatalf("PatchAgent() error: %v", err)
	}
	if patched.UpdatedAt.Before(first.UpdatedAt) {
		t.Fatalf("PatchAgent().UpdatedAt = %v, went backwards from %v", patched.UpdatedAt, first.UpdatedAt)
	}
}

func TestCreateTaskAssigneesAreASet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &model.Task{
		Title:          "Research multi-agent patterns",
		AssignedAgents: []string{"researcher", "researcher", "builder"},
	})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if len(got.AssignedAgents) != 2 {
		t.Fatalf("GetTask().AssignedAgents = %v, want 2 unique entries", got.AssignedAgents)
	}
}

func TestUpdateTaskStatusNotFound(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpdateTaskStatus(ctx, "does-not-exist", model.TaskInProgress); err != ErrNotFound {
		t.Fatalf("UpdateTaskStatus() error = %v, want ErrNotFound", err)
	}
}

func TestGetFullStateReflectsBumpedVersion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &model.Task{Title: "Write report"})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	v, err := s.BumpVersion(ctx)
	if err != nil {
		t.Fatalf("BumpVersion() error: %v", err)
	}

	full, err := s.GetFullState(ctx, 0)
	if err != nil {
		t.Fatalf("GetFullState() error: %v", err)
	}
	if full.Version < v {
		t.Fatalf("GetFullState().Version = %d, want >= %d", full.Version, v)
	}

	found := false
	for _, t2 := range full.Tasks {
		if t2.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetFullState().Tasks missing task %s", id)
	}
}

func TestTaskQueueDeliversOncePerGroup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, `{"goal":"research competitors"}`); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := s.JoinGroup(ctx, "workers"); err != nil {
		t.Fatalf("JoinGroup() error: %v", err)
	}
	if err := s.JoinGroup(ctx, "workers"); err != nil {
		t.Fatalf("JoinGroup() second call error: %v", err)
	}

	entry, err := s.Next(ctx, "workers")
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if entry == nil || entry.Payload != `{"goal":"research competitors"}` {
		t.Fatalf("Next() = %+v, want the enqueued payload", entry)
	}

	if err := s.Ack(ctx, "workers", entry.ID); err != nil {
		t.Fatalf("Ack() error: %v", err)
	}

	again, err := s.Next(ctx, "workers")
	if err != nil {
		t.Fatalf("Next() after ack error: %v", err)
	}
	if again != nil {
		t.Fatalf("Next() after ack = %+v, want nil (no redelivery)", again)
	}
}

func TestTaskQueueGroupsAreIndependent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, `{"goal":"draft report"}`)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := s.JoinGroup(ctx, "workers-a"); err != nil {
		t.Fatalf("JoinGroup(a) error: %v", err)
	}
	if err := s.JoinGroup(ctx, "workers-b"); err != nil {
		t.Fatalf("JoinGroup(b) error: %v", err)
	}

	entryA, err := s.Next(ctx, "workers-a")
	if err != nil || entryA == nil {
		t.Fatalf("Next(a) = %+v, %v", entryA, err)
	}
	if err := s.Ack(ctx, "workers-a", entryA.ID); err != nil {
		t.Fatalf("Ack(a) error: %v", err)
	}

	entryB, err := s.Next(ctx, "workers-b")
	if err != nil || entryB == nil || entryB.ID != id {
		t.Fatalf("Next(b) = %+v, %v, want the same undelivered entry %d", entryB, err, id)
	}
}

func TestListMessagesLimitAndFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.CreateMessage(ctx, &model.Message{FromAgent: "orchestrator", ToAgent: "researcher", Content: "hi"}); err != nil {
			t.Fatalf("CreateMessage() error: %v", err)
		}
	}
	msgs, err := s.ListMessages(ctx, 2, "")
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ListMessages() returned %d messages, want 2", len(msgs))
	}

	filtered, err := s.ListMessages(ctx, 50, "researcher")
	if err != nil {
		t.Fatalf("ListMessages(agentID) error: %v", err)
	}
	if len(filtered) != 3 {
		t.Fatalf("ListMessages(agentID) returned %d messages, want 3", len(filtered))
	}
}
