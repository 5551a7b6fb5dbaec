// Package worker runs queued records: admission per kind, checkpoints, stall
// detection and startup recovery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/store"
)

type Config struct {
	RecoveryPolicy      string
	DownloadConcurrency int
	PollInterval        time.Duration
	// StallTimeout fails a run with no checkpoint for this long; zero disables.
	StallTimeout time.Duration
}

// FinishedFunc is told about every run that completed successfully.
type FinishedFunc func(ctx context.Context, rec *domain.JobRecord)

type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	lastBeat time.Time
	stalled  bool
}

// Scheduler moves records from queued to in_progress and owns them until their
// worker goroutine exits.
type Scheduler struct {
	queue      *store.Queue
	dispatcher *Dispatcher
	cfg        Config
	logger     *logger.Logger

	wake chan struct{}

	// admitMu covers the pause check and the queued->in_progress write of one
	// admission, so SetPaused never races an admission in flight.
	admitMu sync.Mutex
	paused  bool

	mu               sync.Mutex
	running          map[domain.Key]*run
	downloadsRunning int
	stopping         bool
	onFinished       []FinishedFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func NewScheduler(queue *store.Queue, dispatcher *Dispatcher, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.DownloadConcurrency < 1 {
		cfg.DownloadConcurrency = constants.DefaultDownloadConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.RecoveryPolicy == "" {
		cfg.RecoveryPolicy = constants.DefaultRecoveryPolicy
	}
	if log == nil {
		log = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:      queue,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log.WithComponent("scheduler"),
		wake:       make(chan struct{}, 1),
		running:    make(map[domain.Key]*run),
		ctx:        ctx,
		cancel:     cancel,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OnFinished registers fn to run after each successful completion.
func (s *Scheduler) OnFinished(fn FinishedFunc) {
	s.mu.Lock()
	s.onFinished = append(s.onFinished, fn)
	s.mu.Unlock()
}

// Start repairs records interrupted by a previous process and begins admitting.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		"download_concurrency", s.cfg.DownloadConcurrency,
		"recovery_policy", s.cfg.RecoveryPolicy,
	)

	n, err := s.queue.Reconcile(ctx, s.cfg.RecoveryPolicy)
	if err != nil {
		return fmt.Errorf("reconcile interrupted records: %w", err)
	}
	if n > 0 {
		s.logger.Info("Recovered interrupted records", "count", n, "policy", s.cfg.RecoveryPolicy)
	}

	s.wg.Add(1)
	go s.loop()
	s.Wake()
	return nil
}

// Stop cancels running workers and waits for them. Their records stay
// in_progress and are repaired by the next Start.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Wake asks for an admission pass. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetPaused toggles the global download pause. When it returns no download
// admission is in flight.
func (s *Scheduler) SetPaused(paused bool) {
	s.admitMu.Lock()
	s.paused = paused
	s.admitMu.Unlock()

	if !paused {
		s.Wake()
	}
}

func (s *Scheduler) Paused() bool {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	return s.paused
}

// Running returns the keys of records that currently have a live worker.
func (s *Scheduler) Running() []domain.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]domain.Key, 0, len(s.running))
	for k := range s.running {
		keys = append(keys, k)
	}
	return keys
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkStalled()
			s.schedule()
		case <-s.wake:
			s.schedule()
		}
	}
}

func (s *Scheduler) schedule() {
	s.admitMaintenance()
	s.admitDownloads()
}

func (s *Scheduler) admitMaintenance() {
	queued, err := s.queue.List(s.ctx, domain.KindMaintenanceJob, domain.Filter{Statuses: []domain.Status{domain.StatusQueued}})
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error("Failed to list maintenance jobs", "error", err)
		}
		return
	}
	for _, rec := range queued {
		s.admit(rec)
	}
}

func (s *Scheduler) admitDownloads() {
	if s.freeDownloadSlots() <= 0 {
		return
	}

	queued, err := s.queue.List(s.ctx, domain.KindDownloadItem, domain.Filter{Statuses: []domain.Status{domain.StatusQueued}})
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error("Failed to list downloads", "error", err)
		}
		return
	}

	for _, rec := range queued {
		if s.freeDownloadSlots() <= 0 {
			return
		}
		s.admit(rec)
	}
}

func (s *Scheduler) freeDownloadSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.DownloadConcurrency - s.downloadsRunning
}

// admit claims rec and starts its worker. It reports whether a worker started.
func (s *Scheduler) admit(rec *domain.JobRecord) bool {
	key := domain.RecordKey(rec)
	isDownload := rec.Kind == domain.KindDownloadItem

	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	if isDownload && s.paused {
		return false
	}

	r, ok := s.claim(key, isDownload)
	if !ok {
		return false
	}

	started, err := s.queue.Update(s.ctx, rec.Kind, rec.ID, func(cur *domain.JobRecord) error {
		if cur.Status != domain.StatusQueued {
			return errStateChanged
		}
		now := s.now()
		cur.Status = domain.StatusInProgress
		cur.Message = "Starting"
		cur.StartedAt = &now
		cur.FinishedAt = nil
		return nil
	})
	if err != nil {
		r.cancel()
		s.release(key, isDownload)
		if !errors.Is(err, errStateChanged) && !errors.Is(err, domain.ErrNotFound) && s.ctx.Err() == nil {
			s.logger.Error("Failed to start record", "kind", rec.Kind, "id", rec.ID, "error", err)
		}
		return false
	}

	s.wg.Add(1)
	go s.execute(r, started)
	return true
}

var errStateChanged = errors.New("record status changed")

// claim takes ownership of key. It fails while a previous worker for the same
// record is still alive, when download slots are exhausted or when stopping.
func (s *Scheduler) claim(key domain.Key, isDownload bool) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return nil, false
	}
	if _, owned := s.running[key]; owned {
		return nil, false
	}
	if isDownload && s.downloadsRunning >= s.cfg.DownloadConcurrency {
		return nil, false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	r := &run{ctx: ctx, cancel: cancel, lastBeat: s.now()}
	s.running[key] = r
	if isDownload {
		s.downloadsRunning++
	}
	return r, true
}

func (s *Scheduler) release(key domain.Key, isDownload bool) {
	s.mu.Lock()
	delete(s.running, key)
	if isDownload {
		s.downloadsRunning--
	}
	s.mu.Unlock()
	s.Wake()
}

func (s *Scheduler) heartbeat(r *run) {
	s.mu.Lock()
	r.lastBeat = s.now()
	s.mu.Unlock()
}

func (s *Scheduler) execute(r *run, rec *domain.JobRecord) {
	defer s.wg.Done()

	key := domain.RecordKey(rec)
	isDownload := rec.Kind == domain.KindDownloadItem
	log := s.logger.WithJob(string(rec.Kind), rec.ID)
	log.Info("Running job")

	cp := &checkpoint{ctx: r.ctx, s: s, run: r, key: key}
	err := s.runUnit(r.ctx, rec, cp)

	final := s.finish(rec, cp, err, log)
	r.cancel()
	s.release(key, isDownload)

	if final != nil && final.Status == domain.StatusCompleted {
		s.mu.Lock()
		hooks := append([]FinishedFunc(nil), s.onFinished...)
		s.mu.Unlock()
		for _, fn := range hooks {
			fn(s.ctx, final)
		}
	}
}

func (s *Scheduler) runUnit(ctx context.Context, rec *domain.JobRecord, cp *checkpoint) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.dispatcher.Dispatch(ctx, rec, cp)
}

// finish records the outcome of a run that still owns its record. Runs that
// were paused, failed by the watchdog, or cut short by Stop write nothing.
func (s *Scheduler) finish(rec *domain.JobRecord, cp *checkpoint, runErr error, log *logger.Logger) *domain.JobRecord {
	if errors.Is(runErr, ErrPaused) {
		log.Info("Run stopped at checkpoint")
		return nil
	}

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		log.Info("Run interrupted by shutdown")
		return nil
	}

	final, err := s.queue.Update(s.ctx, rec.Kind, rec.ID, func(cur *domain.JobRecord) error {
		if cur.Status != domain.StatusInProgress {
			return errStateChanged
		}
		now := s.now()
		cur.FinishedAt = &now
		if runErr != nil {
			cur.Status = domain.StatusFailed
			cur.Message = truncate(runErr.Error(), constants.MaxStatusMessageLength)
			return nil
		}
		cur.Status = domain.StatusCompleted
		cur.Progress = 100
		cur.Message = cp.result
		if cur.Message == "" {
			cur.Message = "Completed"
		}
		return nil
	})
	switch {
	case errors.Is(err, errStateChanged), errors.Is(err, domain.ErrNotFound):
		log.Info("Outcome dropped, record changed while running", "error", runErr)
		return nil
	case err != nil:
		log.Error("Failed to record outcome", "error", err)
		return nil
	}

	if runErr != nil {
		log.Error("Job failed", "error", runErr)
	} else {
		log.Info("Job completed")
	}
	return final
}

// checkStalled fails runs that have not checkpointed within StallTimeout and
// cancels their context. Ownership is kept until the goroutine exits.
func (s *Scheduler) checkStalled() {
	if s.cfg.StallTimeout <= 0 {
		return
	}

	type stalled struct {
		key domain.Key
		run *run
	}
	var found []stalled

	now := s.now()
	s.mu.Lock()
	for key, r := range s.running {
		if !r.stalled && now.Sub(r.lastBeat) >= s.cfg.StallTimeout {
			r.stalled = true
			found = append(found, stalled{key: key, run: r})
		}
	}
	s.mu.Unlock()

	for _, st := range found {
		msg := fmt.Sprintf("stalled: no progress for %s", s.cfg.StallTimeout)
		_, err := s.queue.Update(s.ctx, st.key.Kind, st.key.ID, func(cur *domain.JobRecord) error {
			if cur.Status != domain.StatusInProgress {
				return errStateChanged
			}
			t := s.now()
			cur.Status = domain.StatusFailed
			cur.Message = msg
			cur.FinishedAt = &t
			return nil
		})
		if err != nil && !errors.Is(err, errStateChanged) && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("Failed to mark stalled run", "key", st.key.String(), "error", err)
		}
		s.logger.Warn("Run stalled, cancelling", "key", st.key.String(), "timeout", s.cfg.StallTimeout)
		st.run.cancel()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
