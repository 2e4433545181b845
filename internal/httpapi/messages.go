package httpapi

import (
	"net/http"
	"strconv"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/model"
)

const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 200
	defaultActivityLimit = 100
	maxActivityLimit     = 500
)

// clampLimit parses raw as an int and clamps it to [1, max], falling
// back to def when raw is empty or unparsable.
func clampLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), defaultMessagesLimit, maxMessagesLimit)
	agentID := r.URL.Query().Get("agent_id")

	msgs, err := s.store.ListMessages(r.Context(), limit, agentID)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs, s.logger)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, s.logger, kindInvalidInput, "malformed JSON body")
		return
	}

	content, _ := fieldString(body, "content")
	if content == "" {
		writeError(w, s.logger, kindInvalidInput, "content is required")
		return
	}
	fromAgent, _ := fieldString(body, "fromAgent", "from_agent")
	toAgent, _ := fieldString(body, "toAgent", "to_agent")
	messageType, _ := fieldString(body, "messageType", "message_type")

	msg := &model.Message{
		FromAgent:   fromAgent,
		ToAgent:     toAgent,
		Content:     content,
		MessageType: messageType,
	}
	id, err := s.store.CreateMessage(r.Context(), msg)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	msg.ID = id

	if err := bumpAndPublish(r.Context(), s.store, s.delta, delta.CategoryMessages, id, msg); err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id}, s.logger)
}
