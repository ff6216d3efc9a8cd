// Package tracelog records protocol activity to a local SQLite file for
// post-hoc inspection of what the client and editor said to each other.
package tracelog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// queueSize bounds the async insert queue. The trace is best-effort: when
// the writer cannot keep up, records are dropped rather than backpressuring
// the RPC path.
const queueSize = 1024

const schema = `
CREATE TABLE IF NOT EXISTS rpc_trace (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT NOT NULL,
	ts         TEXT NOT NULL,
	direction  TEXT NOT NULL,
	method     TEXT NOT NULL,
	elapsed_us INTEGER NOT NULL,
	error      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rpc_trace_session ON rpc_trace(session);
`

// record is one queued trace row.
type record struct {
	ts        time.Time
	direction string
	method    string
	elapsed   time.Duration
	errText   string
}

// Store writes trace rows asynchronously. It implements the connection's
// Tracer interface; the hook methods never block, which is required of
// anything called from the read loop.
type Store struct {
	db      *sql.DB
	session string

	queue chan record
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// Open creates or opens the trace database at path and starts the writer.
// Each Open gets a fresh session id, so rows from successive runs stay
// distinguishable in one file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracelog: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracelog: init schema: %w", err)
	}

	s := &Store{
		db:      db,
		session: uuid.NewString(),
		queue:   make(chan record, queueSize),
		done:    make(chan struct{}),
	}
	go s.writer()
	slog.Debug("[trace] opened", "path", path, "session", s.session)
	return s, nil
}

// Session returns the id tagging every row written by this Store.
func (s *Store) Session() string {
	return s.session
}

// Dropped reports how many records were discarded because the queue was
// full.
func (s *Store) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// RequestDone records a completed request round trip.
func (s *Store) RequestDone(method string, elapsed time.Duration, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	s.enqueue(record{
		ts:        time.Now(),
		direction: "request",
		method:    method,
		elapsed:   elapsed,
		errText:   errText,
	})
}

// NotifySent records an outbound notification.
func (s *Store) NotifySent(method string) {
	s.enqueue(record{ts: time.Now(), direction: "notify", method: method})
}

// EventReceived records an inbound notification or unsolicited request.
func (s *Store) EventReceived(kind string, method string) {
	s.enqueue(record{ts: time.Now(), direction: "recv-" + kind, method: method})
}

func (s *Store) enqueue(r record) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.queue <- r:
	default:
		s.dropped++
	}
	s.mu.Unlock()
}

// Close stops accepting records, drains what is already queued, and closes
// the database. Safe to call once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	s.mu.Unlock()

	close(s.queue)
	<-s.done

	if dropped > 0 {
		slog.Warn("[trace] records dropped under load", "count", dropped)
	}
	return s.db.Close()
}

// writer is the single goroutine inserting rows. It exits when the queue is
// closed and drained.
func (s *Store) writer() {
	defer close(s.done)
	for r := range s.queue {
		_, err := s.db.Exec(
			`INSERT INTO rpc_trace (session, ts, direction, method, elapsed_us, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.session,
			r.ts.UTC().Format(time.RFC3339Nano),
			r.direction,
			r.method,
			r.elapsed.Microseconds(),
			r.errText,
		)
		if err != nil {
			slog.Warn("[trace] insert failed", "method", r.method, "error", err)
		}
	}
}
