// Package hub fans job events out to live subscribers.
package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
)

// Hub delivers every published event to every current subscriber. Publish never
// blocks: each subscriber has its own bounded buffer drained by its own goroutine.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	bufferSize int
	logger     *logger.Logger
}

func New(bufferSize int, log *logger.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = constants.HubBufferSize
	}
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     log.WithComponent("hub"),
	}
}

// Subscribe registers a new subscriber. Events published after Subscribe
// returns are delivered in publish order, subject to coalescing.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		id:     uuid.New().String(),
		hub:    h,
		limit:  h.bufferSize,
		notify: make(chan struct{}, 1),
		out:    make(chan domain.Event),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()

	go s.pump()
	return s
}

// Publish hands ev to every subscriber. A subscriber whose buffer is full is
// dropped; its Events channel closes so the consumer can resnapshot.
func (h *Hub) Publish(ev domain.Event) {
	var overflowed []*Subscription

	h.mu.RLock()
	for _, s := range h.subs {
		if !s.offer(ev) {
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range overflowed {
		h.logger.Warn("Dropping slow subscriber", "subscriber", s.id, "buffer", h.bufferSize)
		s.dropped.Store(true)
		s.Close()
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}
