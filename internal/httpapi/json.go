package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON encodes v as JSON to w, logging any write error at debug
// level (typically a disconnected client, not actionable).
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// errorKind classifies a failed request per the error handling design;
// the string values also serve as the wire "kind" field.
type errorKind string

const (
	kindInvalidInput errorKind = "invalid_input"
	kindNotFound     errorKind = "not_found"
	kindUnauthorized errorKind = "unauthorized"
	kindStoreFailure errorKind = "store_failure"
)

var kindStatus = map[errorKind]int{
	kindInvalidInput: http.StatusBadRequest,
	kindNotFound:     http.StatusNotFound,
	kindUnauthorized: http.StatusUnauthorized,
	kindStoreFailure: http.StatusInternalServerError,
}

func writeError(w http.ResponseWriter, logger *slog.Logger, kind errorKind, message string) {
	status := kindStatus[kind]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"kind":    string(kind),
			"message": message,
		},
	}, logger)
}

// decodeBody reads a JSON object body into a generic map so handlers
// can tolerantly accept both camelCase and snake_case field names on
// ingress (see field below).
func decodeBody(r *http.Request) (map[string]any, error) {
	defer r.Body.Close()
	var m map[string]any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// field returns the first present value among keys, checked in order
// — callers pass a field's camelCase name followed by its snake_case
// equivalent.
func field(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func fieldString(m map[string]any, keys ...string) (string, bool) {
	v, ok := field(m, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func fieldInt(m map[string]any, keys ...string) (int, bool) {
	v, ok := field(m, keys...)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func fieldStringSlice(m map[string]any, keys ...string) ([]string, bool) {
	v, ok := field(m, keys...)
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, true
}
