package httpapi

import (
	"net/http"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/model"
	"github.com/devswarm/devswarm/internal/store"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agents, s.logger)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAgent(r.Context(), pathID(r))
	if err == store.ErrNotFound {
		writeError(w, s.logger, kindNotFound, "agent not found")
		return
	}
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a, s.logger)
}

func (s *Server) handlePatchAgent(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, s.logger, kindInvalidInput, "malformed JSON body")
		return
	}

	patch := store.AgentPatch{}
	if room, ok := fieldString(body, "currentRoom", "current_room", "room"); ok {
		if !model.ValidRoom(room) {
			writeError(w, s.logger, kindInvalidInput, "invalid room")
			return
		}
		patch.Room = &room
	}
	if status, ok := fieldString(body, "status"); ok {
		if !model.ValidAgentStatus(status) {
			writeError(w, s.logger, kindInvalidInput, "invalid agent status")
			return
		}
		patch.Status = &status
	}
	if task, ok := fieldString(body, "currentTask", "current_task"); ok {
		patch.CurrentTask = &task
	}
	if chain, ok := fieldString(body, "thoughtChain", "thought_chain"); ok {
		patch.ThoughtChain = &chain
	}

	a, err := s.store.PatchAgent(r.Context(), id, patch)
	if err == store.ErrNotFound {
		writeError(w, s.logger, kindNotFound, "agent not found")
		return
	}
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}

	if err := bumpAndPublish(r.Context(), s.store, s.delta, delta.CategoryAgents, id, a); err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	if err := s.store.LogActivity(r.Context(), id, "agent_patched", map[string]any{"fields": body}); err != nil {
		s.logger.Error("log activity failed", "error", err)
	}

	writeJSON(w, http.StatusOK, a, s.logger)
}
