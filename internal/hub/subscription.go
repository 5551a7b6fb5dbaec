package hub

import (
	"sync"
	"sync/atomic"

	"github.com/cesargomez89/inkqueue/internal/domain"
)

// Subscription is one consumer's view of the event stream.
type Subscription struct {
	id    string
	hub   *Hub
	limit int

	mu      sync.Mutex
	pending []domain.Event
	closed  bool

	notify    chan struct{}
	out       chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Bool
}

func (s *Subscription) ID() string {
	return s.id
}

// Events yields the subscriber's events. It is closed after Close or when the
// hub drops the subscriber for falling behind.
func (s *Subscription) Events() <-chan domain.Event {
	return s.out
}

// Dropped reports whether the hub closed the subscription because its buffer
// overflowed.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
		s.hub.remove(s.id)
	})
}

// offer queues ev, replacing a pending progress update for the same record and
// status. It returns false when the buffer is full.
func (s *Subscription) offer(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	if !ev.Removed {
		key := ev.Key()
		for i := len(s.pending) - 1; i >= 0; i-- {
			p := s.pending[i]
			if p.Key() != key {
				continue
			}
			if !p.Removed && p.Status == ev.Status {
				s.pending[i] = ev
				return true
			}
			break
		}
	}

	if len(s.pending) >= s.limit {
		return false
	}
	s.pending = append(s.pending, ev)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
	}
}
