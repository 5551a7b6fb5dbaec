package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
)

// Observer receives every change committed by Queue. It is called while the
// record lock is held, so it must not block and must not call back into Queue.
type Observer func(domain.Event)

// MutateFunc edits a private copy of a record. Returning an error aborts the
// write.
type MutateFunc func(rec *domain.JobRecord) error

// Queue is the authoritative registry of job records. It routes each kind to
// its backend, serializes writers per (kind, id) and reports every committed
// change to the registered observers in commit order.
type Queue struct {
	backends map[domain.Kind]Backend
	locks    *keyedMutex

	mu        sync.RWMutex
	observers []Observer

	now func() time.Time
}

func NewQueue(backends ...Backend) *Queue {
	q := &Queue{
		backends: make(map[domain.Kind]Backend, len(backends)),
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, b := range backends {
		q.backends[b.Kind()] = b
	}
	return q
}

// OnChange registers fn to be told about every committed change.
func (q *Queue) OnChange(fn Observer) {
	q.mu.Lock()
	q.observers = append(q.observers, fn)
	q.mu.Unlock()
}

func (q *Queue) publish(ev domain.Event) {
	q.mu.RLock()
	observers := q.observers
	q.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (q *Queue) backend(kind domain.Kind) (Backend, error) {
	b, ok := q.backends[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q: %w", kind, domain.ErrInvalidInput)
	}
	return b, nil
}

func (q *Queue) Get(ctx context.Context, kind domain.Kind, id string) (*domain.JobRecord, error) {
	b, err := q.backend(kind)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, id)
}

// List returns the records of kind matching filter, oldest first.
func (q *Queue) List(ctx context.Context, kind domain.Kind, filter domain.Filter) ([]*domain.JobRecord, error) {
	b, err := q.backend(kind)
	if err != nil {
		return nil, err
	}
	return b.List(ctx, filter)
}

// ListAll returns the matching records of every kind, maintenance jobs first.
// Limit applies to the combined list.
func (q *Queue) ListAll(ctx context.Context, filter domain.Filter) ([]*domain.JobRecord, error) {
	out := make([]*domain.JobRecord, 0)
	for _, kind := range []domain.Kind{domain.KindMaintenanceJob, domain.KindDownloadItem} {
		if _, ok := q.backends[kind]; !ok {
			continue
		}
		recs, err := q.List(ctx, kind, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Create inserts a new record. An empty id is assigned by the backend.
func (q *Queue) Create(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, error) {
	b, err := q.backend(rec.Kind)
	if err != nil {
		return nil, err
	}

	next := rec.Clone()
	now := q.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.Version = 1
	next.Progress = domain.ClampProgress(next.Progress)
	if next.Status == "" {
		next.Status = domain.StatusQueued
	}

	var key domain.Key
	held := false
	err = b.Insert(ctx, next, func(id string) {
		key = domain.Key{Kind: next.Kind, ID: id}
		q.locks.Lock(key)
		held = true
	})
	if held {
		defer q.locks.Unlock(key)
	}
	if err != nil {
		return nil, err
	}

	q.publish(next.Event())
	return next.Clone(), nil
}

// Put inserts or replaces rec. expect is the status the caller last saw; an
// empty expect requires that no record exists yet.
func (q *Queue) Put(ctx context.Context, rec *domain.JobRecord, expect domain.Status) (*domain.JobRecord, error) {
	b, err := q.backend(rec.Kind)
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("put %s without id: %w", rec.Kind, domain.ErrInvalidInput)
	}

	key := domain.RecordKey(rec)
	q.locks.Lock(key)
	defer q.locks.Unlock(key)

	cur, err := b.Get(ctx, rec.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if expect != "" {
			return nil, domain.Conflict(rec.Kind, rec.ID, expect, "")
		}
	case err != nil:
		return nil, err
	case cur.Status != expect:
		return nil, domain.Conflict(rec.Kind, rec.ID, expect, cur.Status)
	}

	next := rec.Clone()
	now := q.now()
	next.UpdatedAt = now
	next.Progress = domain.ClampProgress(next.Progress)
	if cur != nil {
		next.CreatedAt = cur.CreatedAt
		next.Version = cur.Version + 1
	} else {
		next.CreatedAt = now
		next.Version = 1
	}

	if err := b.Save(ctx, next); err != nil {
		return nil, err
	}
	q.publish(next.Event())
	return next.Clone(), nil
}

// Update applies mutate to the current record under its lock and commits the
// result. Identity, creation time and version are owned by Queue.
func (q *Queue) Update(ctx context.Context, kind domain.Kind, id string, mutate MutateFunc) (*domain.JobRecord, error) {
	b, err := q.backend(kind)
	if err != nil {
		return nil, err
	}

	key := domain.Key{Kind: kind, ID: id}
	q.locks.Lock(key)
	defer q.locks.Unlock(key)

	cur, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Kind = cur.Kind
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = q.now()
	next.Progress = domain.ClampProgress(next.Progress)

	if err := b.Save(ctx, next); err != nil {
		return nil, err
	}
	q.publish(next.Event())
	return next.Clone(), nil
}

// Delete removes a record that has no owning worker.
func (q *Queue) Delete(ctx context.Context, kind domain.Kind, id string) error {
	b, err := q.backend(kind)
	if err != nil {
		return err
	}

	key := domain.Key{Kind: kind, ID: id}
	q.locks.Lock(key)
	defer q.locks.Unlock(key)

	cur, err := b.Get(ctx, id)
	if err != nil {
		return err
	}
	if !cur.Status.Deletable() {
		return &domain.TransitionError{Kind: kind, ID: id, Action: domain.ActionDelete, From: cur.Status}
	}
	if err := b.Remove(ctx, id); err != nil {
		return err
	}

	ev := cur.Event()
	ev.Version = cur.Version + 1
	ev.UpdatedAt = q.now()
	ev.Removed = true
	q.publish(ev)
	return nil
}

// Reconcile repairs records left in_progress by a previous process. Under
// RecoveryRequeue they go back to queued, otherwise they are failed.
func (q *Queue) Reconcile(ctx context.Context, policy string) (int, error) {
	fixed := 0
	for _, b := range q.backends {
		recs, err := b.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusInProgress}})
		if err != nil {
			return fixed, err
		}
		for _, rec := range recs {
			_, err := q.Update(ctx, rec.Kind, rec.ID, func(r *domain.JobRecord) error {
				if r.Status != domain.StatusInProgress {
					return errSkip
				}
				if policy == constants.RecoveryRequeue {
					r.Status = domain.StatusQueued
					r.Message = "Re-queued after restart"
					return nil
				}
				r.Status = domain.StatusFailed
				r.Message = "Interrupted by restart"
				now := q.now()
				r.FinishedAt = &now
				return nil
			})
			if errors.Is(err, errSkip) || errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return fixed, err
			}
			fixed++
		}
	}
	return fixed, nil
}

var errSkip = errors.New("skip")
