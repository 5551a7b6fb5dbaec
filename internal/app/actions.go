package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/store"
	"github.com/cesargomez89/inkqueue/internal/worker"
)

// Scheduler is the part of worker.Scheduler the router drives.
type Scheduler interface {
	Wake()
	SetPaused(paused bool)
}

// JobCatalog lists the registered maintenance jobs.
type JobCatalog interface {
	Jobs() []worker.Job
	Job(id string) (worker.Job, bool)
}

// FlagStore persists the global download pause across restarts.
type FlagStore interface {
	GetBool(key string) (bool, error)
	SetBool(key string, value bool) error
}

// StagingCleaner drops the on-disk leftovers of a deleted download item.
type StagingCleaner interface {
	Discard(id string) error
}

// IncrementalScanID is started after every successful download.
var IncrementalScanID = domain.JobIDFromName("Incremental Scan")

// ActionRouter validates user actions against the lifecycle and applies them.
// Actions return once the new state is recorded; work happens in the scheduler.
type ActionRouter struct {
	Queue     *store.Queue
	Scheduler Scheduler
	Catalog   JobCatalog
	Flags     FlagStore
	Logger    *logger.Logger
	// Staging is optional.
	Staging StagingCleaner

	bulkMu    sync.Mutex
	enqueueMu sync.Mutex
}

func NewActionRouter(queue *store.Queue, sched Scheduler, catalog JobCatalog, flags FlagStore, log *logger.Logger) *ActionRouter {
	if log == nil {
		log = logger.Default()
	}
	return &ActionRouter{
		Queue:     queue,
		Scheduler: sched,
		Catalog:   catalog,
		Flags:     flags,
		Logger:    log.WithComponent("actions"),
	}
}

// ChapterRef names one chapter to download.
type ChapterRef struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
}

// BulkResult reports how many records a bulk action changed.
type BulkResult struct {
	Action   domain.Action `json:"action"`
	Affected int           `json:"affected"`
}

// JobStatus joins a registered maintenance job with its record, if any.
type JobStatus struct {
	Record *domain.JobRecord `json:"record"`
	ID     string            `json:"id"`
	Name   string            `json:"name"`
}

// RestorePause reapplies a persisted pause_all to the scheduler.
func (a *ActionRouter) RestorePause() (bool, error) {
	if a.Flags == nil {
		return false, nil
	}
	paused, err := a.Flags.GetBool(store.SettingDownloadsPaused)
	if err != nil {
		return false, fmt.Errorf("read pause flag: %w", err)
	}
	a.Scheduler.SetPaused(paused)
	return paused, nil
}

// Apply runs a per-record action. Delete returns a nil record.
func (a *ActionRouter) Apply(ctx context.Context, kind domain.Kind, id string, action domain.Action) (*domain.JobRecord, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q: %w", kind, domain.ErrInvalidInput)
	}
	if action.Bulk() {
		return nil, fmt.Errorf("%s applies to the whole download queue: %w", action, domain.ErrInvalidInput)
	}

	var (
		rec *domain.JobRecord
		err error
	)
	switch action {
	case domain.ActionStart:
		rec, err = a.start(ctx, kind, id)
	case domain.ActionPause:
		rec, err = a.transition(ctx, kind, id, action, func(r *domain.JobRecord) {
			r.Status = domain.StatusPaused
			r.Message = "Paused by user"
		}, domain.StatusInProgress)
	case domain.ActionResume:
		rec, err = a.transition(ctx, kind, id, action, func(r *domain.JobRecord) {
			r.Status = domain.StatusQueued
			r.Message = "Resumed by user"
		}, domain.StatusPaused)
	case domain.ActionRetry:
		rec, err = a.transition(ctx, kind, id, action, retry, domain.StatusFailed)
	case domain.ActionDelete:
		if err = a.Queue.Delete(ctx, kind, id); err == nil {
			a.discard(kind, id)
		}
	default:
		return nil, fmt.Errorf("unknown action %q: %w", action, domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}

	a.Logger.WithJob(string(kind), id).Info("Action applied", "action", action)
	if rec != nil && rec.Status == domain.StatusQueued {
		a.Scheduler.Wake()
	}
	return rec, nil
}

func retry(r *domain.JobRecord) {
	r.Status = domain.StatusQueued
	r.Progress = 0
	r.RetryCount++
	r.Message = "Re-queued for retry by user"
	r.StartedAt = nil
	r.FinishedAt = nil
}

// transition applies change if the record is in one of from, checked under
// the record lock so concurrent actions see each other's result.
func (a *ActionRouter) transition(ctx context.Context, kind domain.Kind, id string, action domain.Action, change func(*domain.JobRecord), from ...domain.Status) (*domain.JobRecord, error) {
	return a.Queue.Update(ctx, kind, id, func(r *domain.JobRecord) error {
		for _, s := range from {
			if r.Status == s {
				change(r)
				return nil
			}
		}
		return &domain.TransitionError{Kind: kind, ID: id, Action: action, From: r.Status}
	})
}

func (a *ActionRouter) start(ctx context.Context, kind domain.Kind, id string) (*domain.JobRecord, error) {
	reset := func(r *domain.JobRecord) {
		r.Status = domain.StatusQueued
		r.Progress = 0
		r.Message = "Queued"
		r.StartedAt = nil
		r.FinishedAt = nil
	}

	if kind == domain.KindDownloadItem {
		return a.transition(ctx, kind, id, domain.ActionStart, reset, domain.StatusFailed)
	}

	job, ok := a.Catalog.Job(id)
	if !ok {
		return nil, fmt.Errorf("maintenance job %q: %w", id, domain.ErrNotFound)
	}

	// a completed maintenance job may be run again
	rec, err := a.transition(ctx, kind, id, domain.ActionStart, reset, domain.StatusFailed, domain.StatusCompleted)
	if !errors.Is(err, domain.ErrNotFound) {
		return rec, err
	}

	rec, err = a.Queue.Put(ctx, &domain.JobRecord{
		Kind:     kind,
		ID:       job.ID,
		Status:   domain.StatusQueued,
		Message:  "Queued",
		Metadata: domain.Metadata{domain.MetaName: job.Name},
	}, "")
	if errors.Is(err, domain.ErrConflict) {
		// lost a race with another start; report against the winner's state
		return a.transition(ctx, kind, id, domain.ActionStart, reset, domain.StatusFailed, domain.StatusCompleted)
	}
	return rec, err
}

// ApplyBulk runs an action over the whole download queue.
func (a *ActionRouter) ApplyBulk(ctx context.Context, action domain.Action) (BulkResult, error) {
	if !action.Bulk() {
		return BulkResult{}, fmt.Errorf("unknown bulk action %q: %w", action, domain.ErrInvalidInput)
	}

	a.bulkMu.Lock()
	defer a.bulkMu.Unlock()

	var (
		n   int
		err error
	)
	switch action {
	case domain.ActionPauseAll:
		n, err = a.pauseAll(ctx)
	case domain.ActionResumeAll:
		n, err = a.resumeAll(ctx)
	case domain.ActionEmptyQueue:
		n, err = a.deleteWhere(ctx, domain.StatusQueued, domain.StatusFailed)
	case domain.ActionDeleteCompleted:
		n, err = a.deleteWhere(ctx, domain.StatusCompleted)
	case domain.ActionRetryFailed:
		n, err = a.updateWhere(ctx, domain.ActionRetry, retry, domain.StatusFailed)
		if n > 0 {
			a.Scheduler.Wake()
		}
	}
	if err != nil {
		return BulkResult{Action: action, Affected: n}, err
	}

	a.Logger.Info("Bulk action applied", "action", action, "affected", n)
	return BulkResult{Action: action, Affected: n}, nil
}

func (a *ActionRouter) pauseAll(ctx context.Context) (int, error) {
	if a.Flags != nil {
		if err := a.Flags.SetBool(store.SettingDownloadsPaused, true); err != nil {
			return 0, fmt.Errorf("persist pause flag: %w", err)
		}
	}
	// no admission is in flight once this returns
	a.Scheduler.SetPaused(true)

	// queued items stay queued; the scheduler flag keeps them from starting
	return a.updateWhere(ctx, domain.ActionPause, func(r *domain.JobRecord) {
		r.Status = domain.StatusPaused
		r.Message = "Paused by user"
	}, domain.StatusInProgress)
}

func (a *ActionRouter) resumeAll(ctx context.Context) (int, error) {
	n, err := a.updateWhere(ctx, domain.ActionResume, func(r *domain.JobRecord) {
		r.Status = domain.StatusQueued
		r.Message = "Resumed by user"
	}, domain.StatusPaused)
	if err != nil {
		return n, err
	}

	if a.Flags != nil {
		if err := a.Flags.SetBool(store.SettingDownloadsPaused, false); err != nil {
			return n, fmt.Errorf("persist pause flag: %w", err)
		}
	}
	a.Scheduler.SetPaused(false)
	a.Scheduler.Wake()
	return n, nil
}

// updateWhere applies change to every download currently in one of from.
// Records that moved on since the listing are skipped.
func (a *ActionRouter) updateWhere(ctx context.Context, action domain.Action, change func(*domain.JobRecord), from ...domain.Status) (int, error) {
	recs, err := a.Queue.List(ctx, domain.KindDownloadItem, domain.Filter{Statuses: from})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		_, err := a.transition(ctx, domain.KindDownloadItem, rec.ID, action, change, from...)
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (a *ActionRouter) deleteWhere(ctx context.Context, statuses ...domain.Status) (int, error) {
	recs, err := a.Queue.List(ctx, domain.KindDownloadItem, domain.Filter{Statuses: statuses})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, rec := range recs {
		err := a.Queue.Delete(ctx, domain.KindDownloadItem, rec.ID)
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		a.discard(domain.KindDownloadItem, rec.ID)
		n++
	}
	return n, nil
}

func (a *ActionRouter) discard(kind domain.Kind, id string) {
	if a.Staging == nil || kind != domain.KindDownloadItem {
		return
	}
	if err := a.Staging.Discard(id); err != nil {
		a.Logger.WithJob(string(kind), id).Warn("Failed to discard staged pages", "error", err)
	}
}

// Enqueue creates download items for chapters of one series. Chapters already
// waiting or running for the same provider are skipped.
func (a *ActionRouter) Enqueue(ctx context.Context, seriesTitle, providerID string, chapters []ChapterRef) ([]*domain.JobRecord, error) {
	seriesTitle = strings.TrimSpace(seriesTitle)
	providerID = strings.TrimSpace(providerID)
	switch {
	case seriesTitle == "":
		return nil, fmt.Errorf("series_title is required: %w", domain.ErrInvalidInput)
	case providerID == "":
		return nil, fmt.Errorf("provider_id is required: %w", domain.ErrInvalidInput)
	case len(chapters) == 0:
		return nil, fmt.Errorf("no chapters provided to queue: %w", domain.ErrInvalidInput)
	}
	for _, ch := range chapters {
		if strings.TrimSpace(ch.Identifier) == "" {
			return nil, fmt.Errorf("chapter identifier is required: %w", domain.ErrInvalidInput)
		}
	}

	a.enqueueMu.Lock()
	defer a.enqueueMu.Unlock()

	active, err := a.Queue.List(ctx, domain.KindDownloadItem, domain.Filter{Active: true})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(active))
	for _, rec := range active {
		seen[chapterKey(rec.Metadata.Get(domain.MetaProviderID), rec.Metadata.Get(domain.MetaChapterIdentifier))] = true
	}

	var created []*domain.JobRecord
	for _, ch := range chapters {
		key := chapterKey(providerID, ch.Identifier)
		if seen[key] {
			continue
		}
		seen[key] = true

		rec, err := a.Queue.Create(ctx, &domain.JobRecord{
			Kind:    domain.KindDownloadItem,
			Status:  domain.StatusQueued,
			Message: "Queued",
			Metadata: domain.Metadata{
				domain.MetaSeriesTitle:       seriesTitle,
				domain.MetaChapterTitle:      ch.Title,
				domain.MetaChapterIdentifier: ch.Identifier,
				domain.MetaProviderID:        providerID,
			},
		})
		if err != nil {
			return created, err
		}
		created = append(created, rec)
	}

	if len(created) > 0 {
		a.Logger.Info("Chapters queued", "series", seriesTitle, "provider", providerID, "count", len(created), "skipped", len(chapters)-len(created))
		a.Scheduler.Wake()
	}
	return created, nil
}

func chapterKey(providerID, identifier string) string {
	return providerID + "\x00" + identifier
}

// AfterDownload starts an incremental library scan once a download completes.
// A scan already queued or running is left alone.
func (a *ActionRouter) AfterDownload(ctx context.Context, rec *domain.JobRecord) {
	if rec.Kind != domain.KindDownloadItem {
		return
	}
	if _, ok := a.Catalog.Job(IncrementalScanID); !ok {
		return
	}
	_, err := a.Apply(ctx, domain.KindMaintenanceJob, IncrementalScanID, domain.ActionStart)
	if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		a.Logger.Warn("Failed to trigger library scan", "download_id", rec.ID, "error", err)
	}
}

func (a *ActionRouter) Get(ctx context.Context, kind domain.Kind, id string) (*domain.JobRecord, error) {
	return a.Queue.Get(ctx, kind, id)
}

func (a *ActionRouter) List(ctx context.Context, kind domain.Kind, filter domain.Filter) ([]*domain.JobRecord, error) {
	return a.Queue.List(ctx, kind, filter)
}

// ListAll returns records of every kind, maintenance jobs first.
func (a *ActionRouter) ListAll(ctx context.Context, filter domain.Filter) ([]*domain.JobRecord, error) {
	return a.Queue.ListAll(ctx, filter)
}

// Active returns every non-terminal record of every kind. Clients use it as the
// recovery snapshot after a reconnect.
func (a *ActionRouter) Active(ctx context.Context) ([]*domain.JobRecord, error) {
	return a.Queue.ListAll(ctx, domain.Filter{Active: true})
}

// Jobs lists the registered maintenance jobs with their current record.
func (a *ActionRouter) Jobs(ctx context.Context) ([]JobStatus, error) {
	jobs := a.Catalog.Jobs()
	out := make([]JobStatus, 0, len(jobs))
	for _, job := range jobs {
		status := JobStatus{ID: job.ID, Name: job.Name}
		rec, err := a.Queue.Get(ctx, domain.KindMaintenanceJob, job.ID)
		switch {
		case err == nil:
			status.Record = rec
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}
