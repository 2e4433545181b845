package httpapi

import (
	"net/http"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/model"
)

// handleStateOverride bulk-sets status and room for every agent when
// both fields are provided, then broadcasts every changed agent as a
// delta. An optional "message" field is recorded as a system
// broadcast message (e.g. an end-of-day note), matching the
// S3 scenario's clock-out payload shape.
func (s *Server) handleStateOverride(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, s.logger, kindInvalidInput, "malformed JSON body")
		return
	}

	status, hasStatus := fieldString(body, "globalStatus", "global_status")
	room, hasRoom := fieldString(body, "defaultRoom", "default_room")
	if !hasStatus || !hasRoom {
		writeError(w, s.logger, kindInvalidInput, "globalStatus and defaultRoom are both required")
		return
	}
	if !model.ValidAgentStatus(status) {
		writeError(w, s.logger, kindInvalidInput, "invalid agent status")
		return
	}
	if !model.ValidRoom(room) {
		writeError(w, s.logger, kindInvalidInput, "invalid room")
		return
	}

	ids, err := s.store.OverrideAll(r.Context(), status, room)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}

	if _, err := s.store.BumpVersion(r.Context()); err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	for _, id := range ids {
		a, err := s.store.GetAgent(r.Context(), id)
		if err != nil {
			s.logger.Error("override: reload agent failed", "agent", id, "error", err)
			continue
		}
		s.delta.Publish(r.Context(), delta.CategoryAgents, id, a)
	}

	if note, ok := fieldString(body, "message"); ok && note != "" {
		msg := &model.Message{FromAgent: "system", ToAgent: "", Content: note, MessageType: "broadcast"}
		if msgID, err := s.store.CreateMessage(r.Context(), msg); err == nil {
			s.delta.Publish(r.Context(), delta.CategoryMessages, msgID, msg)
		} else {
			s.logger.Error("override: create broadcast message failed", "error", err)
		}
	}

	if err := s.store.LogActivity(r.Context(), "", "state_overridden", map[string]any{
		"globalStatus": status,
		"defaultRoom":  room,
		"agentCount":   len(ids),
	}); err != nil {
		s.logger.Error("log activity failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": ids}, s.logger)
}
