package rpc

import (
	"sync"

	"github.com/megalithic/shade-sub001/internal/wire"
)

// EventKind distinguishes the two inbound event shapes.
type EventKind int

const (
	// EventNotification is a fire-and-forget message from the editor.
	EventNotification EventKind = iota
	// EventRequest is an unsolicited request from the editor. Rare, but
	// the editor may ask things of its client; ID identifies the request
	// should the subscriber choose to answer it.
	EventRequest
)

func (k EventKind) String() string {
	switch k {
	case EventNotification:
		return "notification"
	case EventRequest:
		return "request"
	default:
		return "unknown"
	}
}

// Event is one inbound notification or unsolicited request, in wire arrival
// order.
type Event struct {
	Kind   EventKind
	ID     uint32 // set for EventRequest only
	Method string
	Params []wire.Value
}

// Subscription delivers events on C in arrival order. The queue between the
// read loop and the subscriber is unbounded, so a slow consumer can never
// stall frame dispatch or other subscribers.
type Subscription struct {
	mu     sync.Mutex
	queue  []Event
	closed bool // no more events will arrive (connection closed)

	wake chan struct{}
	out  chan Event
	done chan struct{}
	once sync.Once
}

func newSubscription() *Subscription {
	s := &Subscription{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

// C is the channel events arrive on. It closes once the connection has
// closed and every queued event has been delivered.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close detaches the subscriber. Undelivered events are discarded, and the
// queue stops accepting new ones. Safe to call repeatedly.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

// finish marks the subscription complete; queued events still drain.
func (s *Subscription) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves events from the queue to the delivery channel, one at a time,
// preserving order.
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.closed
			s.mu.Unlock()
			if finished {
				close(s.out)
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// hub fans inbound events out to subscribers. Publication order is the read
// loop's decode order, which matches wire arrival order.
type hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe() *Subscription {
	s := newSubscription()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.finish()
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.enqueue(ev)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = nil
	h.mu.Unlock()
	for _, s := range subs {
		s.finish()
	}
}
