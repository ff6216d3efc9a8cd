// Package rpc maintains the bidirectional MessagePack-RPC channel to the
// editor process: one persistent local socket, a continuous read loop,
// id-correlated requests, and an observable stream of inbound events.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/megalithic/shade-sub001/internal/wire"
	"github.com/megalithic/shade-sub001/internal/workerutil"
)

const (
	defaultDialTimeout    = 3 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultWriteTimeout   = 15 * time.Second

	// readChunkSize is the per-Read buffer. Frames larger than this simply
	// accumulate across reads; the framer handles the split.
	readChunkSize = 32 * 1024
)

// Tracer observes protocol activity. Implementations must be safe for
// concurrent use; EventReceived is called from the read loop and must not
// block.
type Tracer interface {
	RequestDone(method string, elapsed time.Duration, err error)
	NotifySent(method string)
	EventReceived(kind string, method string)
}

// Options configures a connection. Zero-value fields take the package
// defaults.
type Options struct {
	DialTimeout time.Duration

	// RequestTimeout is applied to Request calls whose context carries no
	// deadline of its own.
	RequestTimeout time.Duration

	WriteTimeout time.Duration

	// Tracer, when non-nil, receives a record of every call. May be nil.
	Tracer Tracer
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// State is the connection lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats is a point-in-time snapshot of connection counters.
type Stats struct {
	RequestsSent      uint64
	NotificationsSent uint64
	ResponsesMatched  uint64
	ResponsesDropped  uint64
	EventsReceived    uint64
	FramesDropped     uint64
}

// Conn is one connection to the editor socket. Instances are independent;
// nothing is shared between them, so several connections to different
// sockets can coexist in one process.
//
// Lock ordering (never acquire in reverse): writeMu -> mu.
type Conn struct {
	opts Options

	// mu guards state, cause, sock identity, nextID, and pending. These
	// mutate together: id allocation and pending registration must be one
	// atomic step, and teardown must observe a consistent table.
	mu      sync.Mutex
	state   State
	cause   error
	sock    net.Conn
	nextID  uint32
	pending map[uint32]*pendingRequest

	// writeMu serializes encode+write so concurrent callers never
	// interleave partial frames on the wire.
	writeMu sync.Mutex

	hub *hub
	wg  sync.WaitGroup

	requestsSent      atomic.Uint64
	notificationsSent atomic.Uint64
	responsesMatched  atomic.Uint64
	responsesDropped  atomic.Uint64
	eventsReceived    atomic.Uint64
	framesDropped     atomic.Uint64
}

// pendingRequest tracks one outstanding request. done is buffered so the
// resolver never blocks; the entry is removed from the pending table before
// anyone sends on done, which is what makes resolution exactly-once.
type pendingRequest struct {
	method string
	done   chan callResult
}

type callResult struct {
	value wire.Value
	err   error
}

// Dial connects to the editor socket at path and starts the read loop.
func Dial(ctx context.Context, path string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	sock, err := dialEndpoint(ctx, path, opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", path, err)
	}
	slog.Debug("[rpc] connected", "path", path)
	return NewConn(sock, opts), nil
}

// NewConn wraps an already-established connection and starts the read loop.
// Ownership of sock transfers to the Conn.
func NewConn(sock net.Conn, opts Options) *Conn {
	c := &Conn{
		opts:    opts.withDefaults(),
		state:   StateConnected,
		sock:    sock,
		nextID:  1,
		pending: make(map[uint32]*pendingRequest),
		hub:     newHub(),
	}
	workerutil.Go(context.Background(), "rpc-read-loop", &c.wg, func(context.Context) {
		c.readLoop()
	}, workerutil.Options{
		MaxRetries: 1,
		OnFatal: func(string) {
			c.fail(errors.New("rpc: read loop panicked"))
		},
	})
	return c
}

// State reports the connection lifecycle position.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats snapshots the connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		RequestsSent:      c.requestsSent.Load(),
		NotificationsSent: c.notificationsSent.Load(),
		ResponsesMatched:  c.responsesMatched.Load(),
		ResponsesDropped:  c.responsesDropped.Load(),
		EventsReceived:    c.eventsReceived.Load(),
		FramesDropped:     c.framesDropped.Load(),
	}
}

// Events returns a new independent subscription to inbound notifications and
// unsolicited requests, delivered in arrival order from the point of
// subscription onward.
func (c *Conn) Events() *Subscription {
	return c.hub.subscribe()
}

// Request invokes method on the editor and blocks until the matching
// response arrives, ctx is done, or the connection fails. When ctx carries
// no deadline, Options.RequestTimeout applies. A cancelled or timed-out
// request leaves no pending entry behind; its late response, if any, is
// dropped.
func (c *Conn) Request(ctx context.Context, method string, params []wire.Value) (wire.Value, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	c.mu.Lock()
	if c.state != StateConnected {
		cause := c.cause
		c.mu.Unlock()
		if cause == nil {
			cause = ErrClosed
		}
		return nil, cause
	}
	id := c.nextID
	c.nextID++
	if c.nextID == 0 {
		// Wrapped; id 0 never goes on the wire.
		c.nextID = 1
	}
	p := &pendingRequest{method: method, done: make(chan callResult, 1)}
	c.pending[id] = p
	c.mu.Unlock()

	frame, err := wire.EncodeMessage(wire.Request{ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return nil, err
	}

	start := time.Now()
	if err := c.writeFrame(frame); err != nil {
		c.forget(id)
		err = fmt.Errorf("rpc: write %s: %w", method, err)
		c.traceRequest(method, start, err)
		return nil, err
	}
	c.requestsSent.Add(1)

	select {
	case r := <-p.done:
		c.traceRequest(method, start, r.err)
		return r.value, r.err
	case <-ctx.Done():
		c.forget(id)
		// The response may have landed between ctx firing and the
		// forget; prefer it over reporting a spurious timeout.
		select {
		case r := <-p.done:
			c.traceRequest(method, start, r.err)
			return r.value, r.err
		default:
		}
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s", ErrTimeout, method)
		}
		c.traceRequest(method, start, err)
		return nil, err
	}
}

// Notify sends a fire-and-forget notification. No response is awaited and no
// pending entry is created.
func (c *Conn) Notify(method string, params []wire.Value) error {
	frame, err := wire.EncodeMessage(wire.Notification{Method: method, Params: params})
	if err != nil {
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("rpc: write %s: %w", method, err)
	}
	c.notificationsSent.Add(1)
	if tr := c.opts.Tracer; tr != nil {
		tr.NotifySent(method)
	}
	return nil
}

// Close tears the connection down, resolves every still-pending request with
// ErrClosed, and waits for the read loop to exit. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.fail(ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *Conn) traceRequest(method string, start time.Time, err error) {
	if tr := c.opts.Tracer; tr != nil {
		tr.RequestDone(method, time.Since(start), err)
	}
}

func (c *Conn) forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	sock := c.sock
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return ErrClosed
	}

	if c.opts.WriteTimeout > 0 {
		if err := sock.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	_, err := sock.Write(frame)
	return err
}

// readLoop owns the inbound byte accumulator for the connection's lifetime.
// It is the only goroutine that reads the socket.
func (c *Conn) readLoop() {
	buf := make([]byte, readChunkSize)
	var acc []byte
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			msgs, rem, msgErrs, fatal := wire.DecodeAll(acc)
			for _, derr := range msgErrs {
				c.framesDropped.Add(1)
				slog.Warn("[rpc] dropping undecodable frame", "err", derr)
			}
			for _, m := range msgs {
				c.dispatch(m)
			}
			if fatal != nil {
				// Byte alignment with the remote is gone; nothing
				// after this point can be trusted.
				c.fail(fmt.Errorf("rpc: %w", fatal))
				return
			}
			acc = rem
		}
		if err != nil {
			switch {
			case errors.Is(err, net.ErrClosed):
				// Local teardown already ran fail.
				c.fail(ErrClosed)
			case errors.Is(err, io.EOF):
				c.fail(fmt.Errorf("%w: remote hung up", ErrClosed))
			default:
				c.fail(fmt.Errorf("rpc: read: %w", err))
			}
			return
		}
	}
}

func (c *Conn) dispatch(m wire.Message) {
	switch t := m.(type) {
	case wire.Response:
		c.mu.Lock()
		p := c.pending[t.ID]
		delete(c.pending, t.ID)
		c.mu.Unlock()
		if p == nil {
			// Late arrival after a timeout or cancel, or an id this
			// side never issued. Either way the caller is gone.
			c.responsesDropped.Add(1)
			slog.Warn("[rpc] dropping response with no pending request", "id", t.ID)
			return
		}
		c.responsesMatched.Add(1)
		if !wire.IsNil(t.Error) {
			p.done <- callResult{err: &RemoteError{Method: p.method, Payload: t.Error}}
		} else {
			p.done <- callResult{value: t.Result}
		}
	case wire.Notification:
		c.eventsReceived.Add(1)
		if tr := c.opts.Tracer; tr != nil {
			tr.EventReceived("notification", t.Method)
		}
		c.hub.publish(Event{Kind: EventNotification, Method: t.Method, Params: t.Params})
	case wire.Request:
		c.eventsReceived.Add(1)
		if tr := c.opts.Tracer; tr != nil {
			tr.EventReceived("request", t.Method)
		}
		c.hub.publish(Event{Kind: EventRequest, ID: t.ID, Method: t.Method, Params: t.Params})
	}
}

// fail moves the connection to StateClosed, closes the socket, resolves
// every pending request with cause, and closes the event hub. Idempotent;
// safe from any goroutine including the read loop.
func (c *Conn) fail(cause error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.cause = cause
	sock := c.sock
	pending := c.pending
	c.pending = make(map[uint32]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.done <- callResult{err: cause}
	}
	if len(pending) > 0 {
		slog.Debug("[rpc] resolved pending requests on close",
			"count", len(pending), "cause", cause)
	}
	if sock != nil {
		_ = sock.Close()
	}
	c.hub.close()
}
