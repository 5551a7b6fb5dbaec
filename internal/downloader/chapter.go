// Package downloader turns a queued download item into a CBZ archive in the
// library.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/providers"
	"github.com/cesargomez89/inkqueue/internal/storage"
	"github.com/cesargomez89/inkqueue/internal/worker"
)

var (
	ErrUnknownProvider = errors.New("provider is not registered")
	ErrNoPages         = errors.New("no pages found")
)

// Share of progress spent fetching pages; the rest covers packing.
const fetchProgressShare = 95.0

type Config struct {
	LibraryDir      string
	StagingDir      string
	ArchiveTemplate string
	PageDelay       time.Duration
}

// ChapterUnit downloads one chapter. Pages are staged under
// StagingDir/download-<id> so a resumed run only fetches what is missing.
type ChapterUnit struct {
	providers *providers.Registry
	cfg       Config
	logger    *logger.Logger
}

func NewChapterUnit(reg *providers.Registry, cfg Config, log *logger.Logger) *ChapterUnit {
	if log == nil {
		log = logger.Default()
	}
	if cfg.ArchiveTemplate == "" {
		cfg.ArchiveTemplate = constants.DefaultArchiveTemplate
	}
	return &ChapterUnit{
		providers: reg,
		cfg:       cfg,
		logger:    log.WithComponent("downloader"),
	}
}

func (u *ChapterUnit) Run(ctx context.Context, rec *domain.JobRecord, cp worker.Checkpointer) error {
	log := u.logger.WithJob(string(rec.Kind), rec.ID)

	providerID := rec.Metadata.Get(domain.MetaProviderID)
	provider, ok := u.providers.Get(providerID)
	if !ok {
		return fmt.Errorf("download failed: %w: %q", ErrUnknownProvider, providerID)
	}

	chapterID := rec.Metadata.Get(domain.MetaChapterIdentifier)
	pages, err := provider.Pages(ctx, chapterID)
	if err != nil {
		return fmt.Errorf("download failed: could not list pages of %q: %w", chapterID, err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("download failed: %w for %q", ErrNoPages, chapterID)
	}

	stagingDir := u.StagingPath(rec.ID)
	if err := storage.EnsureDir(stagingDir); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	staged, err := stagedPages(stagingDir)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	if len(staged) > 0 {
		log.Info("Resuming chapter", "staged_pages", len(staged), "total_pages", len(pages))
	}

	total := len(pages)
	for i, page := range pages {
		if _, done := staged[page.Index]; !done {
			if i > 0 {
				if err := sleep(ctx, u.cfg.PageDelay); err != nil {
					return err
				}
			}
			if err := u.fetchPage(ctx, provider, stagingDir, page); err != nil {
				return fmt.Errorf("download failed: %w", err)
			}
		}

		progress := float64(i+1) / float64(total) * fetchProgressShare
		if err := cp.Checkpoint(progress, fmt.Sprintf("Downloaded page %d of %d", i+1, total)); err != nil {
			return err
		}
	}

	if err := cp.Checkpoint(fetchProgressShare, "Creating archive"); err != nil {
		return err
	}

	data := storage.NewArchivePathData(
		rec.Metadata.Get(domain.MetaSeriesTitle),
		chapterTitle(rec),
		providerID,
	)
	dest, err := storage.BuildFullPath(u.cfg.LibraryDir, u.cfg.ArchiveTemplate, data, constants.ExtCBZ)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	if err := writeArchive(stagingDir, dest); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		log.Warn("Failed to remove staging directory", "path", stagingDir, "error", err)
	}

	log.Info("Chapter archived", "path", dest, "pages", total)
	cp.SetResult("Download finished successfully.")
	return nil
}

// StagingPath is where pages of the download with the given id are kept
// until the archive is written.
func (u *ChapterUnit) StagingPath(id string) string {
	return filepath.Join(u.cfg.StagingDir, "download-"+id)
}

// Discard removes staged pages of a download that will not be resumed.
func (u *ChapterUnit) Discard(id string) error {
	return os.RemoveAll(u.StagingPath(id))
}

func (u *ChapterUnit) fetchPage(ctx context.Context, provider providers.Provider, dir string, page providers.Page) error {
	data, ext, err := provider.FetchPage(ctx, page)
	if err != nil {
		return err
	}
	return storage.WriteFile(filepath.Join(dir, pageFileName(page.Index, ext)), data)
}

func chapterTitle(rec *domain.JobRecord) string {
	if t := rec.Metadata.Get(domain.MetaChapterTitle); t != "" {
		return t
	}
	return rec.Metadata.Get(domain.MetaChapterIdentifier)
}

func pageFileName(index int, ext string) string {
	return fmt.Sprintf("page_%03d%s", index, storage.ParseExtension(ext))
}

// stagedPages maps page index to file name for every complete page in dir.
func stagedPages(dir string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make(map[int]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".part") {
			continue
		}
		var index int
		if _, err := fmt.Sscanf(name, "page_%d", &index); err != nil || index < 1 {
			continue
		}
		out[index] = name
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
