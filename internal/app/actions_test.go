package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/store"
	"github.com/cesargomez89/inkqueue/internal/worker"
)

type fakeScheduler struct {
	mu     sync.Mutex
	wakes  int
	paused bool
}

func (f *fakeScheduler) Wake() {
	f.mu.Lock()
	f.wakes++
	f.mu.Unlock()
}

func (f *fakeScheduler) SetPaused(p bool) {
	f.mu.Lock()
	f.paused = p
	f.mu.Unlock()
}

func (f *fakeScheduler) state() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakes, f.paused
}

type fakeFlags map[string]bool

func (f fakeFlags) GetBool(key string) (bool, error) { return f[key], nil }
func (f fakeFlags) SetBool(key string, v bool) error { f[key] = v; return nil }

type fixture struct {
	router *ActionRouter
	queue  *store.Queue
	sched  *fakeScheduler
	flags  fakeFlags
}

func setup(t *testing.T) *fixture {
	t.Helper()
	q := store.NewQueue(
		store.NewMemoryBackend(domain.KindDownloadItem),
		store.NewMemoryBackend(domain.KindMaintenanceJob),
	)
	d := worker.NewDispatcher()
	noop := worker.UnitFunc(func(context.Context, *domain.JobRecord, worker.Checkpointer) error { return nil })
	d.RegisterJob("Full Scan", noop)
	d.RegisterJob("Incremental Scan", noop)

	f := &fixture{queue: q, sched: &fakeScheduler{}, flags: fakeFlags{}}
	f.router = NewActionRouter(q, f.sched, d, f.flags, logger.Discard())
	return f
}

func (f *fixture) force(t *testing.T, kind domain.Kind, id string, status domain.Status) {
	t.Helper()
	_, err := f.queue.Update(context.Background(), kind, id, func(r *domain.JobRecord) error {
		r.Status = status
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) enqueue(t *testing.T, chapters ...string) []*domain.JobRecord {
	t.Helper()
	refs := make([]ChapterRef, 0, len(chapters))
	for _, c := range chapters {
		refs = append(refs, ChapterRef{Identifier: c, Title: "Chapter " + c})
	}
	recs, err := f.router.Enqueue(context.Background(), "Series", "mockadex", refs)
	require.NoError(t, err)
	return recs
}

func requireTransitionError(t *testing.T, err error, from domain.Status) {
	t.Helper()
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, from, te.From)
}

func TestStartMaintenanceJob(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	rec, err := f.router.Apply(ctx, domain.KindMaintenanceJob, "full-scan", domain.ActionStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, rec.Status)
	assert.Equal(t, "Full Scan", rec.Metadata.Get(domain.MetaName))
	wakes, _ := f.sched.state()
	assert.Equal(t, 1, wakes)

	// already queued
	_, err = f.router.Apply(ctx, domain.KindMaintenanceJob, "full-scan", domain.ActionStart)
	requireTransitionError(t, err, domain.StatusQueued)

	// running
	f.force(t, domain.KindMaintenanceJob, "full-scan", domain.StatusInProgress)
	_, err = f.router.Apply(ctx, domain.KindMaintenanceJob, "full-scan", domain.ActionStart)
	requireTransitionError(t, err, domain.StatusInProgress)

	// a finished job may run again from zero
	_, err = f.queue.Update(ctx, domain.KindMaintenanceJob, "full-scan", func(r *domain.JobRecord) error {
		r.Status = domain.StatusCompleted
		r.Progress = 100
		return nil
	})
	require.NoError(t, err)
	rec, err = f.router.Apply(ctx, domain.KindMaintenanceJob, "full-scan", domain.ActionStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, rec.Status)
	assert.Equal(t, 0.0, rec.Progress)
	assert.Equal(t, 0, rec.RetryCount)
}

func TestStartUnknownTargets(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.router.Apply(ctx, domain.KindMaintenanceJob, "defragment", domain.ActionStart)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.router.Apply(ctx, domain.KindDownloadItem, "42", domain.ActionStart)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.router.Apply(ctx, domain.Kind("album"), "1", domain.ActionStart)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.router.Apply(ctx, domain.KindDownloadItem, "1", domain.Action("cancel"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.router.Apply(ctx, domain.KindDownloadItem, "1", domain.ActionPauseAll)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConcurrentStartsAdmitOneRun(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.router.Apply(ctx, domain.KindMaintenanceJob, "full-scan", domain.ActionStart)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInvalidTransition):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, rejected)
}

func TestPauseResumeSingleDownload(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	rec := f.enqueue(t, "c1")[0]

	// queued records cannot be paused one by one
	_, err := f.router.Apply(ctx, domain.KindDownloadItem, rec.ID, domain.ActionPause)
	requireTransitionError(t, err, domain.StatusQueued)

	_, err = f.queue.Update(ctx, domain.KindDownloadItem, rec.ID, func(r *domain.JobRecord) error {
		r.Status = domain.StatusInProgress
		r.Progress = 35
		return nil
	})
	require.NoError(t, err)

	paused, err := f.router.Apply(ctx, domain.KindDownloadItem, rec.ID, domain.ActionPause)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Equal(t, "Paused by user", paused.Message)

	resumed, err := f.router.Apply(ctx, domain.KindDownloadItem, rec.ID, domain.ActionResume)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, resumed.Status)
	assert.Equal(t, 35.0, resumed.Progress)

	_, err = f.router.Apply(ctx, domain.KindDownloadItem, rec.ID, domain.ActionResume)
	requireTransitionError(t, err, domain.StatusQueued)
}

func TestRetryAndStartFromFailed(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	rec := f.enqueue(t, "c1")[0]

	_, err := f.router.Apply(ctx, domain.KindDownloadItem, rec.ID, domain.ActionRetry)
	requireTransitionError(t, err, domain.StatusQueued)

	_, err = f.queue.Update(ctx, domain.KindDownloadItem, rec.ID, func(r *domain.JobRecord) error {
		r.Status = domain.StatusFailed
		r.Progress = 60
		r.Message = "provider returned 503"
		return nil
	})
	require.NoError(t, err)

	retried, err := f.router.Apply(ctx, domain.KindDownloadItem, rec.ID, domain.ActionRetry)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, retried.Status)
	assert.Equal(t, 0.0, retried.Progress)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, "Re-queued for retry by user", retried.Message)

	f.force(t, domain.KindDownloadItem, rec.ID, domain.StatusFailed)
	started, err := f.router.Apply(ctx, domain.KindDownloadItem, rec.ID, domain.ActionStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, started.Status)
	assert.Equal(t, 1, started.RetryCount)
}

func TestDeleteRules(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	recs := f.enqueue(t, "c1", "c2", "c3")

	f.force(t, domain.KindDownloadItem, recs[0].ID, domain.StatusInProgress)
	_, err := f.router.Apply(ctx, domain.KindDownloadItem, recs[0].ID, domain.ActionDelete)
	requireTransitionError(t, err, domain.StatusInProgress)

	f.force(t, domain.KindDownloadItem, recs[1].ID, domain.StatusPaused)
	_, err = f.router.Apply(ctx, domain.KindDownloadItem, recs[1].ID, domain.ActionDelete)
	requireTransitionError(t, err, domain.StatusPaused)

	rec, err := f.router.Apply(ctx, domain.KindDownloadItem, recs[2].ID, domain.ActionDelete)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = f.router.Get(ctx, domain.KindDownloadItem, recs[2].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.router.Apply(ctx, domain.KindDownloadItem, recs[2].ID, domain.ActionDelete)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type recordingCleaner struct {
	mu  sync.Mutex
	ids []string
}

func (c *recordingCleaner) Discard(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return nil
}

func TestDeleteDiscardsStagedPages(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	cleaner := &recordingCleaner{}
	f.router.Staging = cleaner
	recs := f.enqueue(t, "c1", "c2", "c3")

	_, err := f.router.Apply(ctx, domain.KindDownloadItem, recs[0].ID, domain.ActionDelete)
	require.NoError(t, err)

	f.force(t, domain.KindDownloadItem, recs[1].ID, domain.StatusFailed)
	res, err := f.router.ApplyBulk(ctx, domain.ActionEmptyQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Affected)

	assert.ElementsMatch(t, []string{recs[0].ID, recs[1].ID, recs[2].ID}, cleaner.ids)
}

func TestPauseAllAndResumeAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	recs := f.enqueue(t, "running", "waiting", "broken")
	f.force(t, domain.KindDownloadItem, recs[0].ID, domain.StatusInProgress)
	f.force(t, domain.KindDownloadItem, recs[2].ID, domain.StatusFailed)

	res, err := f.router.ApplyBulk(ctx, domain.ActionPauseAll)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	_, paused := f.sched.state()
	assert.True(t, paused)
	assert.True(t, f.flags[store.SettingDownloadsPaused])

	for i, want := range []domain.Status{domain.StatusPaused, domain.StatusQueued, domain.StatusFailed} {
		got, err := f.router.Get(ctx, domain.KindDownloadItem, recs[i].ID)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, recs[i].Metadata.Get(domain.MetaChapterIdentifier))
	}

	before, _ := f.sched.state()
	res, err = f.router.ApplyBulk(ctx, domain.ActionResumeAll)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	after, paused := f.sched.state()
	assert.False(t, paused)
	assert.Greater(t, after, before)
	assert.False(t, f.flags[store.SettingDownloadsPaused])

	active, err := f.router.List(ctx, domain.KindDownloadItem, domain.Filter{Statuses: []domain.Status{domain.StatusQueued}})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestEmptyQueueRetryFailedDeleteCompleted(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	recs := f.enqueue(t, "queued", "failed", "running", "done", "paused")
	f.force(t, domain.KindDownloadItem, recs[1].ID, domain.StatusFailed)
	f.force(t, domain.KindDownloadItem, recs[2].ID, domain.StatusInProgress)
	f.force(t, domain.KindDownloadItem, recs[3].ID, domain.StatusCompleted)
	f.force(t, domain.KindDownloadItem, recs[4].ID, domain.StatusPaused)

	res, err := f.router.ApplyBulk(ctx, domain.ActionDeleteCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)

	res, err = f.router.ApplyBulk(ctx, domain.ActionRetryFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	retried, err := f.router.Get(ctx, domain.KindDownloadItem, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)

	f.force(t, domain.KindDownloadItem, recs[1].ID, domain.StatusFailed)
	res, err = f.router.ApplyBulk(ctx, domain.ActionEmptyQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Affected)

	left, err := f.router.List(ctx, domain.KindDownloadItem, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, domain.StatusInProgress, left[0].Status)
	assert.Equal(t, domain.StatusPaused, left[1].Status)

	_, err = f.router.ApplyBulk(ctx, domain.ActionDelete)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEnqueueSkipsActiveDuplicates(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first := f.enqueue(t, "c1", "c2", "c1")
	require.Len(t, first, 2)
	assert.Equal(t, "Series", first[0].Metadata.Get(domain.MetaSeriesTitle))
	assert.Equal(t, "Chapter c1", first[0].Metadata.Get(domain.MetaChapterTitle))
	assert.Equal(t, "mockadex", first[0].Metadata.Get(domain.MetaProviderID))

	again := f.enqueue(t, "c1", "c3")
	require.Len(t, again, 1)
	assert.Equal(t, "c3", again[0].Metadata.Get(domain.MetaChapterIdentifier))

	// a finished chapter can be queued again
	f.force(t, domain.KindDownloadItem, first[0].ID, domain.StatusCompleted)
	redo := f.enqueue(t, "c1")
	assert.Len(t, redo, 1)

	// another provider is a different chapter
	other, err := f.router.Enqueue(ctx, "Series", "otherdex", []ChapterRef{{Identifier: "c2"}})
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	cases := []struct {
		name     string
		series   string
		provider string
		chapters []ChapterRef
	}{
		{"missing series", "", "mockadex", []ChapterRef{{Identifier: "c1"}}},
		{"missing provider", "Series", " ", []ChapterRef{{Identifier: "c1"}}},
		{"no chapters", "Series", "mockadex", nil},
		{"blank identifier", "Series", "mockadex", []ChapterRef{{Identifier: ""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.router.Enqueue(ctx, tc.series, tc.provider, tc.chapters)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestJobsJoinsRecords(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.router.Apply(ctx, domain.KindMaintenanceJob, "incremental-scan", domain.ActionStart)
	require.NoError(t, err)

	jobs, err := f.router.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "full-scan", jobs[0].ID)
	assert.Nil(t, jobs[0].Record)
	assert.Equal(t, "Incremental Scan", jobs[1].Name)
	require.NotNil(t, jobs[1].Record)
	assert.Equal(t, domain.StatusQueued, jobs[1].Record.Status)
}

func TestActiveSpansKinds(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	recs := f.enqueue(t, "c1", "c2")
	f.force(t, domain.KindDownloadItem, recs[1].ID, domain.StatusCompleted)
	_, err := f.router.Apply(ctx, domain.KindMaintenanceJob, "full-scan", domain.ActionStart)
	require.NoError(t, err)

	active, err := f.router.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, domain.KindMaintenanceJob, active[0].Kind)
	assert.Equal(t, recs[0].ID, active[1].ID)
}

func TestAfterDownloadStartsIncrementalScan(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	rec := f.enqueue(t, "c1")[0]

	f.router.AfterDownload(ctx, rec)
	scan, err := f.router.Get(ctx, domain.KindMaintenanceJob, IncrementalScanID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, scan.Status)

	// a second completion while the scan waits changes nothing
	f.router.AfterDownload(ctx, rec)
	again, err := f.router.Get(ctx, domain.KindMaintenanceJob, IncrementalScanID)
	require.NoError(t, err)
	assert.Equal(t, scan.Version, again.Version)
}

func TestRestorePauseFromSettings(t *testing.T) {
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()
	settings := store.NewSettingsRepo(db)
	require.NoError(t, settings.SetBool(store.SettingDownloadsPaused, true))

	q := store.NewQueue(store.NewDownloadBackend(db), store.NewMemoryBackend(domain.KindMaintenanceJob))
	sched := &fakeScheduler{}
	router := NewActionRouter(q, sched, worker.NewDispatcher(), settings, logger.Discard())

	paused, err := router.RestorePause()
	require.NoError(t, err)
	assert.True(t, paused)
	_, schedPaused := sched.state()
	assert.True(t, schedPaused)
}
