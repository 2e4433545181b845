package orchestration

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
)

func TestIsRetryableErrorRecognizesTransientErrno(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"connection refused", &net.OpError{Err: syscall.ECONNREFUSED}, true},
		{"no route to host", &net.OpError{Err: syscall.EHOSTUNREACH}, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"permission denied is not transient", syscall.EACCES, false},
		{"plain error is not transient", errors.New("boom"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isRetryableError(c.err); got != c.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestRetryTransportDoesNotRetrySuccessfulRequest(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rt := &retryTransport{base: http.DefaultTransport, count: 2, delay: 0, logger: nil}
	client := &http.Client{Transport: rt}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a request that succeeds immediately", attempts)
	}
}

func TestUserAgentTransportSetsDefaultUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rt := &userAgentTransport{base: http.DefaultTransport, ua: "devswarmd-test/1.0"}
	client := &http.Client{Transport: rt}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()
	if got != "devswarmd-test/1.0" {
		t.Errorf("User-Agent = %q, want devswarmd-test/1.0", got)
	}
}

func TestUnavailableClientReturnsErrUpstreamUnavailable(t *testing.T) {
	c := NewUnavailable()
	if err := c.Execute(context.Background(), "goal", "target"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Execute() error = %v, want ErrUpstreamUnavailable", err)
	}
	if err := c.ExecuteTask(context.Background(), "agent", "task"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("ExecuteTask() error = %v, want ErrUpstreamUnavailable", err)
	}
}
