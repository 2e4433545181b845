package orchestration

// The retrying HTTP client below is tailored to exactly what Client
// needs to reach the external orchestration collaborator: the
// collaborator runs as a separate container behind a reverse proxy,
// and container-network DNS/routing can flap the same way right after
// a redeploy, intermittently answering "connection refused" or "no
// route to host." A shared transport with pooling plus a few retries
// on those specific transient errors (NewClient configures three,
// 500 ms apart) rides out that window.

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/devswarm/devswarm/internal/buildinfo"
)

const (
	dialTimeout           = 10 * time.Second
	keepAlive             = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 15 * time.Second
	idleConnTimeout       = 90 * time.Second
	maxIdleConns          = 20
	maxIdleConnsPerHost   = 5
)

// newRetryingClient builds the *http.Client used whenever NewClient is
// not handed one: pooled connections, a devswarmd User-Agent, and
// retryCount retries (spaced retryDelay apart) on transient
// connection-level errors.
func newRetryingClient(timeout time.Duration, retryCount int, retryDelay time.Duration, logger *slog.Logger) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}

	var rt http.RoundTripper = &userAgentTransport{base: transport, ua: buildinfo.UserAgent()}
	if retryCount > 0 {
		rt = &retryTransport{base: rt, count: retryCount, delay: retryDelay, logger: logger}
	}

	return &http.Client{Timeout: timeout, Transport: rt}
}

// userAgentTransport injects the devswarmd User-Agent on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// Clone to avoid mutating the caller's request, per RoundTripper contract.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// retryTransport retries a request up to count times, delay apart,
// when the prior attempt failed with a transient connection-level
// error. A request whose body cannot be rewound (no GetBody) is never
// retried, since replaying it would send a truncated body.
type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !isRetryableError(err) {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.count; attempt++ {
		if t.logger != nil {
			t.logger.Warn("retrying request after transient error",
				"method", req.Method, "url", req.URL.String(),
				"attempt", attempt, "maxRetries", t.count, "error", err)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			req.Body = body
		}

		resp, err = t.base.RoundTrip(req)
		if err == nil || !isRetryableError(err) {
			return resp, err
		}
	}

	return resp, err
}

// isRetryableError reports whether err is a transient connection-level
// failure worth retrying (upstream mid-restart, network blip) rather
// than a permanent one.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && transientErrno(errno) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.As(opErr.Err, &errno) && transientErrno(errno) {
		return true
	}

	return false
}

func transientErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.EHOSTUNREACH, // no route to host
		syscall.ENETUNREACH,  // network unreachable
		syscall.ECONNREFUSED, // connection refused (service restarting)
		syscall.ECONNRESET:   // connection reset
		return true
	}
	return false
}

// drainAndClose reads up to limit bytes from rc and closes it, so the
// underlying connection is returned to the pool.
func drainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// readErrorBody reads up to limit bytes from rc for an error message,
// then drains and closes the remainder.
func readErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	drainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
