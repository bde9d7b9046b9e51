// Package bus is the in-process event spine. Collaborators publish typed
// events and subscribe to the kinds they care about; each subscriber gets its
// own queue so a slow consumer never drops or reorders another's events.
package bus

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription delivers matching events on C in publish order. The queue is
// unbounded: delivery is at-least-once as long as the subscriber is alive,
// regardless of how slowly it reads.
type Subscription struct {
	bus   *Bus
	kinds map[Kind]struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	out  chan Event
	done chan struct{}
}

// Subscribe registers for the given kinds; with no kinds it receives
// everything.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	if b == nil {
		return nil
	}
	sub := &Subscription{
		bus:  b,
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	go sub.pump()
	return sub
}

// Publish stamps the event with an id and timestamp and fans it out.
func (b *Bus) Publish(ev Event) Event {
	if b == nil {
		return ev
	}
	if ev.ID == "" {
		ev.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.wants(ev.Kind) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.enqueue(ev)
	}
	return ev
}

func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close detaches the subscription. Queued but undelivered events are
// discarded and C is closed.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Subscription) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			close(s.out)
			return
		}
	}
}
