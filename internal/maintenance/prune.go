package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cesargomez89/inkqueue/internal/domain"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/store"
	"github.com/cesargomez89/inkqueue/internal/worker"
)

// Pruner clears finished downloads out of the queue and removes staging
// directories no download item refers to any more.
type Pruner struct {
	queue      *store.Queue
	logger     *logger.Logger
	stagingDir string
}

func NewPruner(queue *store.Queue, stagingDir string, log *logger.Logger) *Pruner {
	if log == nil {
		log = logger.Default()
	}
	return &Pruner{queue: queue, stagingDir: stagingDir, logger: log.WithComponent("pruner")}
}

func (p *Pruner) Run(ctx context.Context, rec *domain.JobRecord, cp worker.Checkpointer) error {
	if err := cp.Checkpoint(0, "Finding completed downloads..."); err != nil {
		return err
	}

	completed, err := p.queue.List(ctx, domain.KindDownloadItem, domain.Filter{
		Statuses: []domain.Status{domain.StatusCompleted},
	})
	if err != nil {
		return fmt.Errorf("error listing downloads: %w", err)
	}

	removed := 0
	total := len(completed)
	for i, item := range completed {
		err := p.queue.Delete(ctx, domain.KindDownloadItem, item.ID)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
			// deleted or restarted since the listing
		default:
			return fmt.Errorf("error deleting download %s: %w", item.ID, err)
		}

		progress := float64(i+1) / float64(total) * 80
		if err := cp.Checkpoint(progress, fmt.Sprintf("Checking... (%d/%d) | Deleted: %d", i+1, total, removed)); err != nil {
			return err
		}
	}

	if err := cp.Checkpoint(80, "Removing orphaned staging directories..."); err != nil {
		return err
	}
	orphans, err := p.removeOrphans(ctx)
	if err != nil {
		return err
	}

	p.logger.Info("Downloads pruned", "removed", removed, "orphans", orphans)
	if removed == 0 && orphans == 0 {
		cp.SetResult("Pruning complete. Nothing to remove.")
	} else {
		cp.SetResult(fmt.Sprintf("Pruning complete. Removed %d completed download(s) and %d staging folder(s).", removed, orphans))
	}
	return nil
}

func (p *Pruner) removeOrphans(ctx context.Context) (int, error) {
	if p.stagingDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(p.stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("error reading staging directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		id, ok := strings.CutPrefix(e.Name(), "download-")
		if !e.IsDir() || !ok {
			continue
		}
		_, err := p.queue.Get(ctx, domain.KindDownloadItem, id)
		if !errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.stagingDir, e.Name())); err != nil {
			p.logger.Warn("Failed to remove staging directory", "path", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
