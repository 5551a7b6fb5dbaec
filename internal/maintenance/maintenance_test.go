package maintenance

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/store"
	"github.com/cesargomez89/inkqueue/internal/worker"
)

type recorder struct {
	messages []string
	result   string
}

func (r *recorder) Checkpoint(progress float64, message string) error {
	r.messages = append(r.messages, message)
	return nil
}

func (r *recorder) SetResult(message string) { r.result = message }

type memSettings struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memSettings) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *memSettings) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func writeArchive(t *testing.T, path string, pages ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, p := range pages {
		w, err := zw.Create(p)
		require.NoError(t, err)
		_, err = w.Write([]byte("img"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestFullScanCountsArchives(t *testing.T) {
	lib := t.TempDir()
	staging := filepath.Join(lib, ".staging")
	writeArchive(t, filepath.Join(lib, "Berserk", "Chapter 1.cbz"), "page_001.png", "page_002.jpg", "ComicInfo.xml")
	writeArchive(t, filepath.Join(lib, "Berserk", "Chapter 2.zip"), "01.webp")
	writeArchive(t, filepath.Join(staging, "download-1", "half.cbz"), "page_001.png")
	require.NoError(t, os.WriteFile(filepath.Join(lib, "Berserk", "broken.cbz"), []byte("not a zip"), 0o644))

	settings := &memSettings{m: map[string]string{}}
	s := NewScanner(lib, staging, settings, logger.Discard())
	cp := &recorder{}

	require.NoError(t, s.FullScan().Run(context.Background(), &domain.JobRecord{}, cp))

	assert.Equal(t, "Full scan completed successfully. 2 archive(s), 3 page(s), 1 unreadable.", cp.result)
	assert.Contains(t, cp.messages, "Found 3 archive(s)")
	assert.NotEmpty(t, settings.m[store.SettingLastScanAt])
}

func TestFullScanMissingLibrary(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "missing"), "", nil, logger.Discard())
	cp := &recorder{}

	require.NoError(t, s.FullScan().Run(context.Background(), &domain.JobRecord{}, cp))
	assert.Equal(t, "Full scan completed successfully. 0 archive(s), 0 page(s).", cp.result)
}

func TestIncrementalScanOnlyChecksNewArchives(t *testing.T) {
	lib := t.TempDir()
	old := filepath.Join(lib, "A", "old.cbz")
	fresh := filepath.Join(lib, "A", "new.cbz")
	writeArchive(t, old, "1.png")
	writeArchive(t, fresh, "1.png", "2.png")

	last := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, last.Add(-time.Hour), last.Add(-time.Hour)))

	settings := &memSettings{m: map[string]string{
		store.SettingLastScanAt: last.UTC().Format(time.RFC3339Nano),
	}}
	s := NewScanner(lib, "", settings, logger.Discard())
	cp := &recorder{}

	require.NoError(t, s.IncrementalScan().Run(context.Background(), &domain.JobRecord{}, cp))
	assert.Equal(t, "Incremental scan completed. 1 archive(s), 2 page(s).", cp.result)

	saved, err := time.Parse(time.RFC3339Nano, settings.m[store.SettingLastScanAt])
	require.NoError(t, err)
	assert.True(t, saved.After(last))
}

func TestIncrementalScanWithoutHistoryScansAll(t *testing.T) {
	lib := t.TempDir()
	writeArchive(t, filepath.Join(lib, "A", "1.cbz"), "1.png")
	writeArchive(t, filepath.Join(lib, "B", "1.cbz"), "1.png")

	s := NewScanner(lib, "", &memSettings{m: map[string]string{}}, logger.Discard())
	cp := &recorder{}

	require.NoError(t, s.IncrementalScan().Run(context.Background(), &domain.JobRecord{}, cp))
	assert.Equal(t, "Incremental scan completed. 2 archive(s), 2 page(s).", cp.result)
}

func TestScanStopsWhenCancelled(t *testing.T) {
	lib := t.TempDir()
	writeArchive(t, filepath.Join(lib, "A", "1.cbz"), "1.png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScanner(lib, "", nil, logger.Discard())
	err := s.FullScan().Run(ctx, &domain.JobRecord{}, &recorder{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPruneDownloads(t *testing.T) {
	ctx := context.Background()
	q := store.NewQueue(
		store.NewMemoryBackend(domain.KindDownloadItem),
		store.NewMemoryBackend(domain.KindMaintenanceJob),
	)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := q.Create(ctx, &domain.JobRecord{Kind: domain.KindDownloadItem, Status: domain.StatusQueued})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	for _, id := range ids[:2] {
		_, err := q.Update(ctx, domain.KindDownloadItem, id, func(r *domain.JobRecord) error {
			r.Status = domain.StatusCompleted
			return nil
		})
		require.NoError(t, err)
	}

	staging := t.TempDir()
	keep := filepath.Join(staging, "download-"+ids[2])
	orphan := filepath.Join(staging, "download-999")
	require.NoError(t, os.MkdirAll(keep, 0o755))
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	cp := &recorder{}
	require.NoError(t, NewPruner(q, staging, logger.Discard()).Run(ctx, &domain.JobRecord{}, cp))

	assert.Equal(t, "Pruning complete. Removed 2 completed download(s) and 1 staging folder(s).", cp.result)

	left, err := q.List(ctx, domain.KindDownloadItem, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, ids[2], left[0].ID)

	_, err = os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}

func TestPruneNothingToDo(t *testing.T) {
	q := store.NewQueue(store.NewMemoryBackend(domain.KindDownloadItem))
	cp := &recorder{}

	require.NoError(t, NewPruner(q, "", logger.Discard()).Run(context.Background(), &domain.JobRecord{}, cp))
	assert.Equal(t, "Pruning complete. Nothing to remove.", cp.result)
}

func TestRegister(t *testing.T) {
	d := worker.NewDispatcher()
	q := store.NewQueue(store.NewMemoryBackend(domain.KindDownloadItem))

	jobs := Register(d, NewScanner(t.TempDir(), "", nil, nil), NewPruner(q, "", nil))

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"full-scan", "incremental-scan", "prune-downloads"}, ids)

	_, ok := d.Job("prune-downloads")
	assert.True(t, ok)
}
