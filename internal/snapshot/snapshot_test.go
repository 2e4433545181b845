package snapshot

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/devswarm/devswarm/internal/model"
	"github.com/devswarm/devswarm/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "snapshot_test.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildOmitsEmptyCollections(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := New(s, 0)
	frame, raw, err := a.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if frame.Type != TypeStateUpdate {
		t.Errorf("Type = %q, want %q", frame.Type, TypeStateUpdate)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal raw frame: %v", err)
	}
	if _, ok := generic["messages"]; ok {
		t.Error("expected \"messages\" to be omitted when empty")
	}
	if _, ok := generic["tasks"]; ok {
		t.Error("expected \"tasks\" to be omitted when empty")
	}
}

func TestBuildIncludesTasksAndAgentsKeyedByID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SeedAgent(ctx, &model.Agent{ID: "researcher", Name: "Researcher"}); err != nil {
		t.Fatalf("SeedAgent() error: %v", err)
	}
	taskID, err := s.CreateTask(ctx, &model.Task{Title: "Draft proposal", AssignedAgents: []string{"researcher"}})
	if err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	if _, err := s.BumpVersion(ctx); err != nil {
		t.Fatalf("BumpVersion() error: %v", err)
	}

	a := New(s, 0)
	frame, _, err := a.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	agent, ok := frame.Agents["researcher"]
	if !ok || agent.ID != "researcher" {
		t.Fatalf("Agents map missing \"researcher\": %+v", frame.Agents)
	}

	found := false
	for _, task := range frame.Tasks {
		if task.ID == taskID {
			found = true
		}
	}
	if !found {
		t.Fatalf("Tasks missing created task %s", taskID)
	}

	if frame.Version <= 0 {
		t.Errorf("Version = %d, want > 0 after BumpVersion", frame.Version)
	}
}

func TestVersionMatchesStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want, err := s.BumpVersion(ctx)
	if err != nil {
		t.Fatalf("BumpVersion() error: %v", err)
	}

	a := New(s, 0)
	got, err := a.Version(ctx)
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if got != want {
		t.Errorf("Version() = %d, want %d", got, want)
	}
}
