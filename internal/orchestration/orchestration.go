// Package orchestration talks to the external orchestration
// collaborator: the opaque process that actually runs agent reasoning.
// DevSwarm's core only ever does three things with it — hand it a goal
// pulled off the task queue (Client.Execute), ask it to run one task
// for an agent the dispatcher is draining (Client.ExecuteTask), and
// reverse-proxy a small fixed set of browser-facing routes to it
// (NewProxy) — so this
// package stays a thin client plus a proxy, never a model of what the
// collaborator does internally.
package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

// ErrUpstreamUnavailable is returned by UnavailableClient for every
// call, and wraps the error Client itself returns when the collaborator
// does not answer.
var ErrUpstreamUnavailable = errors.New("orchestration: collaborator unavailable")

// Client invokes the external orchestration collaborator for a single
// goal pulled off the task queue. It implements taskqueue.Orchestrator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client targeting baseURL. A nil httpClient gets
// the package's default retrying client, since the orchestration
// process is frequently mid-restart when the dispatcher first reaches it.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = newRetryingClient(30*time.Second, 3, 500*time.Millisecond, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, logger: logger}
}

type goalRequest struct {
	Goal   string `json:"goal"`
	Target string `json:"target,omitempty"`
}

// Execute hands a goal to the orchestration collaborator and waits for
// it to acknowledge acceptance. It does not wait for the goal to
// finish running — completion is observed later as agent/task deltas
// the collaborator publishes on its own.
func (c *Client) Execute(ctx context.Context, goal, target string) error {
	body, err := json.Marshal(goalRequest{Goal: goal, Target: target})
	if err != nil {
		return fmt.Errorf("marshal goal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/goals", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build goal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer drainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("orchestration rejected goal: status %d: %s", resp.StatusCode, readErrorBody(resp.Body, 2048))
	}
	return nil
}

type taskExecutionRequest struct {
	TaskID string `json:"taskId"`
}

// ExecuteTask asks the orchestration collaborator to run a single task
// for agentID, used by the dispatcher when draining an idle agent's
// backlog. A non-nil error means the task should transition to
// Blocked rather than Review.
func (c *Client) ExecuteTask(ctx context.Context, agentID, taskID string) error {
	body, err := json.Marshal(taskExecutionRequest{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal task execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/"+url.PathEscape(agentID)+"/execute", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build task execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer drainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("orchestration rejected task execution: status %d: %s", resp.StatusCode, readErrorBody(resp.Body, 2048))
	}
	return nil
}

// UnavailableClient is the Executor/Orchestrator used in place of a real
// Client when no external_orchestration_base_url is configured. It
// answers every call with ErrUpstreamUnavailable instead of a nil
// pointer dereference, so the dispatcher moves each task it picks up to
// Blocked and the task queue worker logs an orchestration_failed
// activity, rather than panicking.
type UnavailableClient struct{}

// NewUnavailable builds an UnavailableClient.
func NewUnavailable() *UnavailableClient { return &UnavailableClient{} }

// Execute implements taskqueue.Orchestrator.
func (UnavailableClient) Execute(ctx context.Context, goal, target string) error {
	return ErrUpstreamUnavailable
}

// ExecuteTask implements dispatcher.Executor.
func (UnavailableClient) ExecuteTask(ctx context.Context, agentID, taskID string) error {
	return ErrUpstreamUnavailable
}

// NewProxy builds a reverse proxy forwarding requests to the external
// orchestration collaborator. It is wired only at /trigger,
// /simulate/*, and /mcp/tools — the fixed, frozen set of browser-facing
// routes the gateway exposes. Any Access-Control-* header the upstream
// sets is stripped so the browser sees only the gateway's own CORS
// policy.
func NewProxy(baseURL string, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse orchestration base url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)

	originalDirector := proxy.Director
	proxy.Director = func(r *http.Request) {
		originalDirector(r)
		r.Host = u.Host
	}

	proxy.ModifyResponse = func(resp *http.Response) error {
		for h := range resp.Header {
			if strings.HasPrefix(http.CanonicalHeaderKey(h), "Access-Control-") {
				resp.Header.Del(h)
			}
		}
		return nil
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if r.Context().Err() != nil {
			return
		}
		logger.Warn("orchestration proxy error", "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"kind":"upstream_unavailable","message":"orchestration collaborator did not answer"}}`))
	}

	return proxy, nil
}
