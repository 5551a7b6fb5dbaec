// Package maintenance holds the library jobs an admin can start by name.
package maintenance

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/store"
	"github.com/cesargomez89/inkqueue/internal/worker"
)

// Settings is where the time of the last successful scan is kept.
type Settings interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// ScanReport summarises one pass over the library.
type ScanReport struct {
	Bad      []string
	Archives int
	Pages    int
}

// Scanner walks the library and checks every chapter archive it finds.
type Scanner struct {
	settings   Settings
	logger     *logger.Logger
	now        func() time.Time
	root       string
	stagingDir string
}

func NewScanner(root, stagingDir string, settings Settings, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.Default()
	}
	return &Scanner{
		root:       root,
		stagingDir: stagingDir,
		settings:   settings,
		logger:     log.WithComponent("scanner"),
		now:        time.Now,
	}
}

// FullScan checks every archive in the library.
func (s *Scanner) FullScan() worker.Unit {
	return worker.UnitFunc(func(ctx context.Context, rec *domain.JobRecord, cp worker.Checkpointer) error {
		started := s.now()
		report, err := s.scan(ctx, cp, time.Time{})
		if err != nil {
			return err
		}
		s.markScanned(started)
		cp.SetResult(fmt.Sprintf("Full scan completed successfully. %s", report))
		return nil
	})
}

// IncrementalScan only checks archives modified since the last successful
// scan of either kind. Without a previous scan it checks everything.
func (s *Scanner) IncrementalScan() worker.Unit {
	return worker.UnitFunc(func(ctx context.Context, rec *domain.JobRecord, cp worker.Checkpointer) error {
		started := s.now()
		since := s.lastScan()
		report, err := s.scan(ctx, cp, since)
		if err != nil {
			return err
		}
		s.markScanned(started)
		cp.SetResult(fmt.Sprintf("Incremental scan completed. %s", report))
		return nil
	})
}

func (r ScanReport) String() string {
	msg := fmt.Sprintf("%d archive(s), %d page(s)", r.Archives, r.Pages)
	if len(r.Bad) > 0 {
		msg += fmt.Sprintf(", %d unreadable", len(r.Bad))
	}
	return msg + "."
}

func (s *Scanner) scan(ctx context.Context, cp worker.Checkpointer, since time.Time) (ScanReport, error) {
	var report ScanReport

	if err := cp.Checkpoint(0, "Finding chapter archives..."); err != nil {
		return report, err
	}

	archives, err := s.findArchives(since)
	if err != nil {
		return report, fmt.Errorf("error walking library directory: %w", err)
	}

	total := len(archives)
	if err := cp.Checkpoint(10, fmt.Sprintf("Found %d archive(s)", total)); err != nil {
		return report, err
	}

	for i, path := range archives {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pages, err := countPages(path)
		if err != nil {
			s.logger.Warn("Unreadable archive", "path", path, "error", err)
			report.Bad = append(report.Bad, path)
		} else {
			report.Archives++
			report.Pages += pages
		}

		progress := 10 + float64(i+1)/float64(total)*90
		msg := fmt.Sprintf("Checked %d/%d: %s", i+1, total, filepath.Base(path))
		if err := cp.Checkpoint(progress, msg); err != nil {
			return report, err
		}
	}

	s.logger.Info("Library scanned", "archives", report.Archives, "pages", report.Pages, "bad", len(report.Bad))
	return report, nil
}

// findArchives lists archives under root modified after since, skipping the
// staging area. The library directory not existing yet is not an error.
func (s *Scanner) findArchives(since time.Time) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if s.stagingDir != "" && filepath.Clean(path) == filepath.Clean(s.stagingDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isArchive(d.Name()) {
			return nil
		}
		if !since.IsZero() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.ModTime().After(since) {
				return nil
			}
		}
		out = append(out, path)
		return nil
	})
	return out, err
}

func isArchive(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case constants.ExtCBZ, constants.ExtZIP:
		return true
	}
	return false
}

func countPages(path string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	pages := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(f.Name)) {
		case constants.ExtJPG, ".jpeg", constants.ExtPNG, constants.ExtGIF, constants.ExtWEBP:
			pages++
		}
	}
	if pages == 0 {
		return 0, fmt.Errorf("archive has no images")
	}
	return pages, nil
}

func (s *Scanner) lastScan() time.Time {
	if s.settings == nil {
		return time.Time{}
	}
	raw, err := s.settings.Get(store.SettingLastScanAt)
	if err != nil || raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn("Ignoring unparsable last scan time", "value", raw)
		return time.Time{}
	}
	return t
}

func (s *Scanner) markScanned(at time.Time) {
	if s.settings == nil {
		return
	}
	if err := s.settings.Set(store.SettingLastScanAt, at.UTC().Format(time.RFC3339Nano)); err != nil {
		s.logger.Error("Failed to save last scan time", "error", err)
	}
}
