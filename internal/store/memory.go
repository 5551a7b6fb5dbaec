package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/cesargomez89/inkqueue/internal/domain"
)

// MemoryBackend keeps records of one kind in process memory. Used for
// maintenance jobs, whose state does not need to survive a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	kind    domain.Kind
	records map[string]*domain.JobRecord
	seq     int64
}

func NewMemoryBackend(kind domain.Kind) *MemoryBackend {
	return &MemoryBackend{
		kind:    kind,
		records: make(map[string]*domain.JobRecord),
	}
}

func (b *MemoryBackend) Kind() domain.Kind {
	return b.kind
}

func (b *MemoryBackend) Get(_ context.Context, id string) (*domain.JobRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[id]
	if !ok {
		return nil, domain.NotFound(b.kind, id)
	}
	return rec.Clone(), nil
}

func (b *MemoryBackend) List(_ context.Context, filter domain.Filter) ([]*domain.JobRecord, error) {
	b.mu.RLock()
	out := make([]*domain.JobRecord, 0, len(b.records))
	for _, rec := range b.records {
		if filter.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (b *MemoryBackend) Insert(_ context.Context, rec *domain.JobRecord, hold func(id string)) error {
	b.mu.Lock()
	if rec.ID == "" {
		b.seq++
		rec.ID = strconv.FormatInt(b.seq, 10)
	}
	if _, exists := b.records[rec.ID]; exists {
		b.mu.Unlock()
		return domain.Conflict(b.kind, rec.ID, "", "exists")
	}
	b.mu.Unlock()

	// hold may block on the record lock; never wait on it while holding b.mu
	if hold != nil {
		hold(rec.ID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.records[rec.ID]; exists {
		return domain.Conflict(b.kind, rec.ID, "", "exists")
	}
	b.records[rec.ID] = rec.Clone()
	return nil
}

func (b *MemoryBackend) Save(_ context.Context, rec *domain.JobRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.ID] = rec.Clone()
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[id]; !ok {
		return domain.NotFound(b.kind, id)
	}
	delete(b.records, id)
	return nil
}
