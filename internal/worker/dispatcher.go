package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cesargomez89/inkqueue/internal/domain"
)

var ErrUnknownJobType = errors.New("unknown job type")

// Unit is the opaque work behind a record. It reports progress through cp and
// should return promptly once cp.Checkpoint returns an error.
type Unit interface {
	Run(ctx context.Context, rec *domain.JobRecord, cp Checkpointer) error
}

// UnitFunc adapts a function to Unit.
type UnitFunc func(ctx context.Context, rec *domain.JobRecord, cp Checkpointer) error

func (f UnitFunc) Run(ctx context.Context, rec *domain.JobRecord, cp Checkpointer) error {
	return f(ctx, rec, cp)
}

// Job is a registered maintenance job.
type Job struct {
	Unit Unit   `json:"-"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Dispatcher maps records to the unit that runs them: download items by kind,
// maintenance jobs by id.
type Dispatcher struct {
	mu    sync.RWMutex
	units map[domain.Kind]Unit
	jobs  map[string]Job
	order []string
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		units: make(map[domain.Kind]Unit),
		jobs:  make(map[string]Job),
	}
}

func (d *Dispatcher) Register(kind domain.Kind, unit Unit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.units[kind] = unit
}

// RegisterJob adds a maintenance job under the id derived from its name.
func (d *Dispatcher) RegisterJob(name string, unit Unit) Job {
	job := Job{ID: domain.JobIDFromName(name), Name: name, Unit: unit}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.jobs[job.ID]; !exists {
		d.order = append(d.order, job.ID)
	}
	d.jobs[job.ID] = job
	return job
}

// Jobs lists registered maintenance jobs in registration order.
func (d *Dispatcher) Jobs() []Job {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Job, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.jobs[id])
	}
	return out
}

func (d *Dispatcher) Job(id string) (Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	job, ok := d.jobs[id]
	return job, ok
}

func (d *Dispatcher) unitFor(rec *domain.JobRecord) (Unit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if rec.Kind == domain.KindMaintenanceJob {
		if job, ok := d.jobs[rec.ID]; ok {
			return job.Unit, nil
		}
		return nil, fmt.Errorf("%w: maintenance job %q", ErrUnknownJobType, rec.ID)
	}
	if unit, ok := d.units[rec.Kind]; ok {
		return unit, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, rec.Kind)
}

func (d *Dispatcher) Dispatch(ctx context.Context, rec *domain.JobRecord, cp Checkpointer) error {
	unit, err := d.unitFor(rec)
	if err != nil {
		return err
	}
	return unit.Run(ctx, rec, cp)
}
