package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/model"
	"github.com/devswarm/devswarm/internal/store"
)

// taskGoal is the payload enqueued onto the durable task queue (see
// internal/taskqueue's job type) for a newly created task that already
// names its assigned agents. The first assignee is the execution
// target; additional assignees get no queue entry of their own.
type taskGoal struct {
	Goal   string `json:"goal"`
	Target string `json:"target,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	tasks, err := s.store.ListTasks(r.Context(), agentID)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks, s.logger)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, s.logger, kindInvalidInput, "malformed JSON body")
		return
	}

	title, _ := fieldString(body, "title")
	if title == "" {
		writeError(w, s.logger, kindInvalidInput, "title is required")
		return
	}

	status := model.TaskBacklog
	if raw, ok := fieldString(body, "status"); ok && raw != "" {
		if !model.ValidTaskStatus(raw) {
			writeError(w, s.logger, kindInvalidInput, "invalid task status")
			return
		}
		status = model.TaskStatus(raw)
	}

	description, _ := fieldString(body, "description")
	createdBy, _ := fieldString(body, "createdBy", "created_by")
	priority, _ := fieldInt(body, "priority")
	assignees, _ := fieldStringSlice(body, "assignedAgents", "assigned_agents")

	task := &model.Task{
		Title:          title,
		Description:    description,
		Status:         status,
		Priority:       priority,
		CreatedBy:      createdBy,
		AssignedAgents: assignees,
	}
	id, err := s.store.CreateTask(r.Context(), task)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}

	full, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	if err := bumpAndPublish(r.Context(), s.store, s.delta, delta.CategoryTasks, id, full); err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	if err := s.store.LogActivity(r.Context(), createdBy, "task_created", map[string]any{"taskId": id, "title": title}); err != nil {
		s.logger.Error("log activity failed", "error", err)
	}

	// Backlog tasks with a named assignee get a goal queued for the
	// orchestration collaborator immediately, rather than waiting for
	// the idle-agent dispatcher's next poll to notice them.
	if status == model.TaskBacklog && len(assignees) > 0 {
		payload, err := json.Marshal(taskGoal{Goal: title, Target: assignees[0]})
		if err != nil {
			s.logger.Error("marshal task goal failed", "taskId", id, "error", err)
		} else if _, err := s.store.Enqueue(r.Context(), string(payload)); err != nil {
			s.logger.Error("enqueue task goal failed", "taskId", id, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id}, s.logger)
}

func (s *Server) handlePatchTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, s.logger, kindInvalidInput, "malformed JSON body")
		return
	}

	raw, ok := fieldString(body, "status")
	if !ok || !model.ValidTaskStatus(raw) {
		writeError(w, s.logger, kindInvalidInput, "status is required and must be a legal enum value")
		return
	}
	status := model.TaskStatus(raw)

	if err := s.store.UpdateTaskStatus(r.Context(), id, status); err == store.ErrNotFound {
		writeError(w, s.logger, kindNotFound, "task not found")
		return
	} else if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}

	full, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	if err := bumpAndPublish(r.Context(), s.store, s.delta, delta.CategoryTasks, id, full); err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	if err := s.store.LogActivity(r.Context(), "", "task_status_changed", map[string]any{"taskId": id, "status": string(status)}); err != nil {
		s.logger.Error("log activity failed", "error", err)
	}

	writeJSON(w, http.StatusOK, full, s.logger)
}
