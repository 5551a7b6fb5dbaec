// Package syncclient keeps a local view of the job queue in step with the
// server: snapshot first, then apply pushed events, reattach on failure.
package syncclient

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
)

// ErrStreamClosed is returned by Stream.Next once the server side ended the
// stream, for example after dropping a slow subscriber.
var ErrStreamClosed = errors.New("event stream closed")

// Source is where the authoritative state lives.
type Source interface {
	// Snapshot returns every record that is not finished.
	Snapshot(ctx context.Context) ([]*domain.JobRecord, error)
	Subscribe(ctx context.Context) (Stream, error)
}

type Stream interface {
	Next(ctx context.Context) (domain.Event, error)
	Close() error
}

type Options struct {
	Logger *logger.Logger
	// Now is the clock used for the terminal grace period.
	Now            func() time.Time
	ReconnectDelay time.Duration
	TerminalGrace  time.Duration
}

type entry struct {
	finishedAt time.Time
	rec        *domain.JobRecord
}

// Controller owns the local view. Run drives it; the other methods are safe
// to call from any goroutine.
type Controller struct {
	src    Source
	opts   Options
	logger *logger.Logger

	mu       sync.RWMutex
	records  map[domain.Key]*entry
	attaches int
	snaps    int

	changed chan struct{}
}

func New(src Source, opts Options) *Controller {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = constants.SyncReconnectDelay
	}
	if opts.TerminalGrace <= 0 {
		opts.TerminalGrace = constants.SyncTerminalGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	return &Controller{
		src:     src,
		opts:    opts,
		logger:  opts.Logger.WithComponent("sync"),
		records: make(map[domain.Key]*entry),
		changed: make(chan struct{}, 1),
	}
}

// Run attaches and keeps reattaching after ReconnectDelay until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	for {
		err := c.attach(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Sync stream lost, reconnecting", "error", err, "delay", c.opts.ReconnectDelay)

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// attach subscribes before taking the snapshot so nothing published in
// between is lost. Events older than the snapshot are dropped by version.
func (c *Controller) attach(ctx context.Context) error {
	stream, err := c.src.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	c.mu.Lock()
	c.attaches++
	c.mu.Unlock()

	if err := c.resnapshot(ctx); err != nil {
		return err
	}

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if c.apply(ev) {
			continue
		}
		// unknown record: the local view has a gap
		if err := c.resnapshot(ctx); err != nil {
			return err
		}
	}
}

func (c *Controller) resnapshot(ctx context.Context) error {
	recs, err := c.src.Snapshot(ctx)
	if err != nil {
		return err
	}
	c.replace(recs)
	return nil
}

// replace installs a snapshot. Finished records still inside their grace
// period are kept so their final message stays visible.
func (c *Controller) replace(recs []*domain.JobRecord) {
	now := c.opts.Now()

	c.mu.Lock()
	next := make(map[domain.Key]*entry, len(recs))
	for _, r := range recs {
		key := domain.RecordKey(r)
		if old, ok := c.records[key]; ok && old.rec.Version > r.Version {
			next[key] = old
			continue
		}
		e := &entry{rec: r.Clone()}
		if r.Status.Terminal() {
			e.finishedAt = now
		}
		next[key] = e
	}
	for key, old := range c.records {
		if _, ok := next[key]; ok {
			continue
		}
		if !old.finishedAt.IsZero() && now.Sub(old.finishedAt) < c.opts.TerminalGrace {
			next[key] = old
		}
	}
	c.records = next
	c.snaps++
	c.mu.Unlock()

	c.notify()
}

// apply folds ev into the view. It returns false when ev names a record the
// view does not hold and is not a removal.
func (c *Controller) apply(ev domain.Event) bool {
	key := ev.Key()

	c.mu.Lock()
	cur, ok := c.records[key]
	switch {
	case ev.Removed:
		if ok {
			delete(c.records, key)
		}
	case !ok:
		c.mu.Unlock()
		return false
	case ev.Version <= cur.rec.Version:
		// stale
		c.mu.Unlock()
		return true
	default:
		r := cur.rec.Clone()
		r.Status = ev.Status
		r.Progress = ev.Progress
		r.Message = ev.Message
		r.Version = ev.Version
		r.UpdatedAt = ev.UpdatedAt
		e := &entry{rec: r}
		if ev.Status.Terminal() {
			e.finishedAt = c.opts.Now()
		}
		c.records[key] = e
	}
	c.mu.Unlock()

	c.notify()
	return true
}

func (c *Controller) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Changed signals after the view changed. Signals coalesce.
func (c *Controller) Changed() <-chan struct{} {
	return c.changed
}

// Visible returns the records to display: everything unfinished plus
// finished records inside their grace period, maintenance jobs first, then by
// creation time.
func (c *Controller) Visible() []*domain.JobRecord {
	now := c.opts.Now()

	c.mu.Lock()
	out := make([]*domain.JobRecord, 0, len(c.records))
	for key, e := range c.records {
		if !e.finishedAt.IsZero() && now.Sub(e.finishedAt) >= c.opts.TerminalGrace {
			delete(c.records, key)
			continue
		}
		out = append(out, e.rec.Clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind == domain.KindMaintenanceJob
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Get returns the local copy of one record, visible or not yet expired.
func (c *Controller) Get(kind domain.Kind, id string) (*domain.JobRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.records[domain.Key{Kind: kind, ID: id}]
	if !ok {
		return nil, false
	}
	return e.rec.Clone(), true
}

// Stats reports how many times the controller attached and snapshotted.
func (c *Controller) Stats() (attaches, snapshots int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attaches, c.snaps
}
