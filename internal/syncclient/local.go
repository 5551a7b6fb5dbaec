package syncclient

import (
	"context"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/hub"
	"github.com/cesargomez89/inkqueue/internal/store"
)

// LocalSource reads the queue and hub of the same process.
type LocalSource struct {
	Queue *store.Queue
	Hub   *hub.Hub
}

func NewLocalSource(q *store.Queue, h *hub.Hub) *LocalSource {
	return &LocalSource{Queue: q, Hub: h}
}

func (s *LocalSource) Snapshot(ctx context.Context) ([]*domain.JobRecord, error) {
	return s.Queue.ListAll(ctx, domain.Filter{Active: true})
}

func (s *LocalSource) Subscribe(ctx context.Context) (Stream, error) {
	return &localStream{sub: s.Hub.Subscribe()}, nil
}

type localStream struct {
	sub *hub.Subscription
}

func (l *localStream) Next(ctx context.Context) (domain.Event, error) {
	select {
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	case ev, ok := <-l.sub.Events():
		if !ok {
			return domain.Event{}, ErrStreamClosed
		}
		return ev, nil
	}
}

func (l *localStream) Close() error {
	l.sub.Close()
	return nil
}
