package httpapi

import "net/http"

func (s *Server) handleListCosts(w http.ResponseWriter, r *http.Request) {
	costs, err := s.store.ListCosts(r.Context())
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, costs, s.logger)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), defaultActivityLimit, maxActivityLimit)
	entries, err := s.store.ListActivity(r.Context(), limit)
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries, s.logger)
}
