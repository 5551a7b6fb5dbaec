package maintenance

import (
	"github.com/cesargomez89/inkqueue/internal/worker"
)

// Names under which the jobs are registered. Ids are derived from them.
const (
	FullScanName        = "Full Scan"
	IncrementalScanName = "Incremental Scan"
	PruneDownloadsName  = "Prune Downloads"
)

// Register adds every maintenance job to d.
func Register(d *worker.Dispatcher, scanner *Scanner, pruner *Pruner) []worker.Job {
	return []worker.Job{
		d.RegisterJob(FullScanName, scanner.FullScan()),
		d.RegisterJob(IncrementalScanName, scanner.IncrementalScan()),
		d.RegisterJob(PruneDownloadsName, pruner),
	}
}
