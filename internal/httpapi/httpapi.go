// Package httpapi is the enumerated, frozen HTTP surface (C10): CRUD
// routes over the store, the snapshot/WebSocket upgrade route, and a
// reverse-proxy to the external orchestration collaborator. Mutating
// handlers follow the same shape as the teacher's API server — parse,
// validate, mutate, bump version, publish delta, respond, most of them
// also logging activity. The bump-and-publish step is shared through
// bumpAndPublish; the other steps are written out in each handler.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/hub"
	"github.com/devswarm/devswarm/internal/snapshot"
	"github.com/devswarm/devswarm/internal/store"
	"github.com/devswarm/devswarm/internal/wsconn"
)

// Config is the subset of process configuration the HTTP surface
// needs. Kept narrow and duplicated from internal/config's Config
// rather than importing it directly, so this package does not need to
// know about unrelated fields (store DSN, event bus URL, ...).
type Config struct {
	BearerToken string
	CORSOrigins []string
	WSOptions   wsconn.Options
}

// Server wires the store and its collaborators (hub, bridge-fed
// snapshot assembler, delta publisher, orchestration proxy) behind a
// single http.Server.
type Server struct {
	cfg       Config
	store     *store.Store
	assembler *snapshot.Assembler
	delta     *delta.Publisher
	hub       *hub.Hub
	proxy     http.Handler
	logger    *slog.Logger
	server    *http.Server
}

// New builds a Server. proxy may be nil when no external orchestration
// base URL is configured; the proxy routes then answer 502.
func New(cfg Config, s *store.Store, assembler *snapshot.Assembler, publisher *delta.Publisher, h *hub.Hub, proxy http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     s,
		assembler: assembler,
		delta:     publisher,
		hub:       h,
		proxy:     proxy,
		logger:    logger,
	}
}

// Handler builds the routed, middleware-wrapped http.Handler. Exposed
// separately from Start so tests can exercise it with httptest
// without a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PATCH /api/agents/{id}", s.handlePatchAgent)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("PATCH /api/tasks/{id}/status", s.handlePatchTaskStatus)

	mux.HandleFunc("GET /api/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/messages", s.handleCreateMessage)

	mux.HandleFunc("GET /api/state", s.handleGetState)
	mux.HandleFunc("POST /api/state/override", s.handleStateOverride)

	mux.HandleFunc("GET /api/costs", s.handleListCosts)
	mux.HandleFunc("GET /api/activity", s.handleListActivity)

	mux.HandleFunc("POST /api/trigger", s.handleProxy)
	mux.HandleFunc("POST /api/simulate/", s.handleProxy)
	mux.HandleFunc("GET /api/mcp/tools", s.handleProxy)

	return s.withLogging(s.withCORS(s.withAuth(mux)))
}

// Start begins serving on addr (typically ":<listen_port>").
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the /ws route holds connections open indefinitely
	}
	s.logger.Info("starting HTTP server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// withAuth rejects protected routes missing a valid bearer token. The
// health endpoint is exempt per the spec's wire contract. An empty
// configured token disables auth entirely (local development).
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BearerToken == "" || r.URL.Path == "/health" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+s.cfg.BearerToken {
			writeError(w, s.logger, kindUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS permits the configured browser origin(s) per §6: methods
// {GET, POST, PATCH, DELETE, OPTIONS}, headers {Accept, Authorization,
// Content-Type}, credentials allowed, preflight cached 300s.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if _, ok := allowed[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "300")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"service":  "devswarmd",
			"database": err.Error(),
		}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"service":  "devswarmd",
		"database": "ok",
	}, s.logger)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wsconn.Serve(w, r, s.hub, s.cfg.WSOptions, s.logger)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	frame, _, err := s.assembler.Build(r.Context())
	if err != nil {
		writeError(w, s.logger, kindStoreFailure, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, frame, s.logger)
}

// handleProxy reverse-proxies a fixed set of routes to the external
// orchestration collaborator. When none is configured, every call is
// an upstream-unavailable 502, matching the behavior a configured but
// unreachable collaborator would produce.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{
				"kind":    "upstream_unavailable",
				"message": "no orchestration collaborator configured",
			},
		}, s.logger)
		return
	}
	s.proxy.ServeHTTP(w, r)
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("id"))
}

func bumpAndPublish(ctx context.Context, s *store.Store, d *delta.Publisher, category delta.Category, id string, data any) error {
	if _, err := s.BumpVersion(ctx); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	d.Publish(ctx, category, id, data)
	return nil
}
