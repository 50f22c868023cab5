// Package broker fans committed status events out to subscribers.
//
// Delivery is at-least-once on top of the durable event log: the store
// publishes only after commit, and a subscriber that falls behind is
// told to resync from the log rather than silently losing events.
package broker

import (
	"context"
	"sync"

	"github.com/roach88/specmut/internal/mutation"
)

// Notice is one delivery to a subscriber. When Resync is set the
// subscriber's buffer overflowed: buffered events were dropped and the
// subscriber must re-fetch from the event log before trusting pushes
// again. Event is zero in that case.
type Notice struct {
	Event  mutation.StatusEvent
	Resync bool
}

// Broker distributes status events to any number of subscribers.
// Publishing never blocks on a slow subscriber.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{subs: make(map[int]*Subscription)}
}

// Publish delivers an event to every subscriber. Intended as the
// store's event sink; safe to call from any goroutine.
func (b *Broker) Publish(ev mutation.StatusEvent) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(ev)
	}
}

// Subscribe registers a subscriber with the given buffer capacity.
// Capacity below 1 is raised to 1.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		broker: b,
		id:     b.nextID,
		cap:    buffer,
		signal: make(chan struct{}, 1),
		closed: b.closed,
	}
	b.nextID++
	if !b.closed {
		b.subs[sub.id] = sub
	}
	return sub
}

// Close shuts the broker down and closes every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (b *Broker) drop(id int) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's bounded delivery buffer.
type Subscription struct {
	broker *Broker
	id     int
	cap    int

	mu      sync.Mutex
	buf     []Notice
	overrun bool
	closed  bool

	// Buffered size 1 so repeated pushes coalesce into one wakeup.
	signal chan struct{}
}

// push appends an event, or on overflow drops the buffer and arms the
// resync marker. Once overrun, further events are discarded until the
// marker is consumed; the log replay will cover them.
func (s *Subscription) push(ev mutation.StatusEvent) {
	s.mu.Lock()
	if s.closed || s.overrun {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.cap {
		s.buf = s.buf[:0]
		s.overrun = true
	} else {
		s.buf = append(s.buf, Notice{Event: ev})
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a notice is available, the context is cancelled, or
// the subscription is closed. Returns (Notice{}, false) once closed and
// drained; returns ctx.Err() on cancellation.
func (s *Subscription) Next(ctx context.Context) (Notice, bool, error) {
	for {
		if n, ok := s.TryNext(); ok {
			return n, true, nil
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Notice{}, false, nil
		}

		select {
		case <-ctx.Done():
			return Notice{}, false, ctx.Err()
		case <-s.signal:
		}
	}
}

// TryNext returns the next notice without blocking.
func (s *Subscription) TryNext() (Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overrun {
		s.overrun = false
		return Notice{Resync: true}, true
	}
	if len(s.buf) == 0 {
		return Notice{}, false
	}

	n := s.buf[0]
	s.buf[0] = Notice{}
	if len(s.buf) == 1 {
		s.buf = s.buf[:0]
	} else {
		s.buf = s.buf[1:]
	}
	return n, true
}

// Close detaches the subscription from the broker and wakes any blocked
// Next caller. Idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.broker.drop(s.id)

	select {
	case s.signal <- struct{}{}:
	default:
	}
}
