// Package wsconn implements the per-connection handler (C6): it
// upgrades an HTTP request to a WebSocket, registers a hub.Client, and
// runs the read pump (liveness only) and write pump (framing and
// ping/pong) that drain it. Grounded on the teacher's gorilla/websocket
// conventions, adapted from the client side to the server side.
package wsconn

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devswarm/devswarm/internal/hub"
)

// Defaults for the pump timing, overridable via Options.
const (
	DefaultReadLimit  = 8 * 1024
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultPingPeriod = DefaultPongWait * 9 / 10
)

// Options configures pump timing. Zero-valued fields fall back to the
// package defaults.
type Options struct {
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	// The dashboard is served from a distinct origin in development;
	// the bearer-token middleware (internal/httpapi) is the actual
	// access control, so origin checking is intentionally permissive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve upgrades r into a WebSocket connection, registers it with h,
// and blocks running the read and write pumps until the read pump
// ends on a read error or a closed connection. Call from the /ws HTTP handler in its
// own goroutine is not required — Serve itself blocks for the
// connection's lifetime.
func Serve(w http.ResponseWriter, r *http.Request, h *hub.Hub, opts Options, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("wsconn: upgrade failed", "error", err)
		return
	}

	client := h.Register(r.RemoteAddr)
	defer h.Unregister(client)

	done := make(chan struct{})
	go writePump(conn, client, opts, logger, done)
	readPump(conn, opts, logger)
	close(done)

	conn.Close()
}

// readPump exists solely to detect liveness: it never parses incoming
// frames as application data. Any read error — including the client
// going away — ends the connection.
func readPump(conn *websocket.Conn, opts Options, logger *slog.Logger) {
	conn.SetReadLimit(opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("wsconn: read pump closing on unexpected error", "error", err)
			}
			return
		}
	}
}

// writePump drains client's send queue, writing each frame as its own
// text message, and emits periodic pings. It returns when the send
// queue is closed (a hub eviction) or when Serve closes done after the
// read pump returns.
func writePump(conn *websocket.Conn, client *hub.Client, opts Options, logger *slog.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("wsconn: write pump error", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
