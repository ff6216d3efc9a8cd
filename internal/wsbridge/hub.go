// Package wsbridge exposes the editor's event stream to local WebSocket
// clients as JSON, so external tooling can observe the editor without
// speaking MessagePack-RPC itself.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/megalithic/shade-sub001/internal/logtee"
	"github.com/megalithic/shade-sub001/internal/rpc"
)

// writeDeadline bounds a single WebSocket write. A localhost client that
// cannot accept a frame within 5 seconds is treated as dead.
const writeDeadline = 5 * time.Second

// readDeadline allows ~3 missed pings (pingInterval=30s) before the
// connection is considered dead.
const readDeadline = 90 * time.Second

const pingInterval = 30 * time.Second

// maxReadMessageSize limits inbound messages. Clients only ever send small
// control frames; anything larger is malformed.
const maxReadMessageSize = 4 * 1024

// sendQueueSize is the per-client outbound buffer. A client that falls this
// far behind the event stream is disconnected rather than allowed to stall
// the publisher.
const sendQueueSize = 256

var wsUpgrader = websocket.Upgrader{
	// The listener binds loopback only; origin checks add nothing for
	// same-machine tooling.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// StatusFunc supplies the /status payload. May be nil.
type StatusFunc func() map[string]any

// HubOptions configures the bridge server.
type HubOptions struct {
	// Addr is the listen address. Empty means "127.0.0.1:0". The address
	// must resolve to loopback; config validation enforces that upstream.
	Addr string
}

// Hub fans the editor event stream out to any number of WebSocket clients.
// Clients are independent: each has its own bounded send queue and writer
// goroutine, and a slow client is dropped without affecting the others.
type Hub struct {
	opts HubOptions

	mu      sync.Mutex
	clients map[string]*client // keyed by client id

	listener net.Listener
	server   *http.Server
	url      string // set after Start

	statusFn StatusFunc

	closeOnce sync.Once
}

// client is one connected WebSocket consumer. All writes to conn happen on
// the writer goroutine, which serializes them as gorilla/websocket requires.
type client struct {
	id   string
	conn *websocket.Conn
	send chan Envelope
	done chan struct{}
	once sync.Once
	seq  uint64 // writer goroutine only
}

func NewHub(opts HubOptions) *Hub {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	return &Hub{
		opts:    opts,
		clients: make(map[string]*client),
	}
}

// SetStatusFunc installs the /status payload supplier. Call before Start.
func (h *Hub) SetStatusFunc(fn StatusFunc) {
	h.statusFn = fn
}

// Start begins listening and serving. The context flows into request
// handlers via BaseContext; the server itself stops via Stop.
func (h *Hub) Start(ctx context.Context) error {
	if h.server != nil {
		return fmt.Errorf("wsbridge: already started")
	}

	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("wsbridge: listen: %w", err)
	}
	h.listener = ln
	h.url = fmt.Sprintf("ws://%s/ws", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/status", h.handleStatus)

	h.server = &http.Server{
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("[bridge] server error", "error", serveErr)
		}
	}()

	slog.Info("[bridge] listening", "url", h.url)
	return nil
}

// Stop shuts the HTTP server down and disconnects every client. Idempotent.
func (h *Hub) Stop() error {
	var stopErr error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		clients := h.clients
		h.clients = nil
		h.mu.Unlock()

		for _, c := range clients {
			c.close()
		}

		if h.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.server.Shutdown(shutdownCtx); err != nil {
				stopErr = fmt.Errorf("wsbridge: shutdown: %w", err)
			}
		}
		slog.Info("[bridge] stopped")
	})
	return stopErr
}

// URL returns the WebSocket endpoint, or "" before Start.
func (h *Hub) URL() string {
	return h.url
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PublishEvent broadcasts an editor event to every connected client. Never
// blocks: clients whose queue is full are disconnected.
func (h *Hub) PublishEvent(ev rpc.Event) {
	h.broadcast(eventEnvelope(ev))
}

// PublishLog broadcasts a mirrored log record.
func (h *Hub) PublishLog(e logtee.Entry) {
	h.broadcast(logEnvelope(e))
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.Lock()
	var stale []*client
	for _, c := range h.clients {
		select {
		case c.send <- env:
		default:
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	for _, c := range stale {
		slog.Warn("[bridge] dropping client that stopped consuming", "client", c.id)
		c.close()
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if h.clients != nil {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[bridge] upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Envelope, sendQueueSize),
		done: make(chan struct{}),
	}

	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("[bridge] SetReadDeadline failed on new connection", "error", err)
		c.close()
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.mu.Lock()
	if h.clients == nil {
		// Stopped while this upgrade was in flight.
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	slog.Info("[bridge] client connected", "client", c.id, "remoteAddr", conn.RemoteAddr())
	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client frames and exists to observe disconnects and
// keep the read deadline advancing.
func (h *Hub) readPump(c *client) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[bridge] readPump recovered",
				"panic", rec, "stack", string(debug.Stack()))
		}
		h.removeClient(c)
		c.close()
		slog.Info("[bridge] client disconnected", "client", c.id)
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[bridge] read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

// writePump owns all writes to the connection: queued envelopes and
// keepalive pings.
func (h *Hub) writePump(c *client) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[bridge] writePump recovered",
				"panic", rec, "stack", string(debug.Stack()))
		}
		h.removeClient(c)
		c.close()
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			c.seq++
			env.Seq = c.seq
			payload, ok := marshalEnvelope(env)
			if !ok {
				continue
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				slog.Debug("[bridge] write failed", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				slog.Debug("[bridge] ping failed, connection likely dead", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (c *client) write(msgType int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(msgType, payload)
}

// close is idempotent; the writer and reader both call it on exit.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"clients": h.ClientCount(),
	}
	if h.statusFn != nil {
		for k, v := range h.statusFn() {
			status[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Debug("[bridge] status write failed", "error", err)
	}
}
