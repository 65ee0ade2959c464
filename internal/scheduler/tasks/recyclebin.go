package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/config"
	"github.com/halyard/halyard/internal/importer"
	"github.com/halyard/halyard/internal/scheduler"
)

// RegisterRecycleBinCleanup registers the periodic recycle bin sweep.
// Entries older than the configured max age are removed by mtime.
func RegisterRecycleBinCleanup(sched *scheduler.Scheduler, cfg *config.AcquisitionConfig, logger zerolog.Logger) error {
	if cfg.RecycleBinPath == "" {
		return nil
	}
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "recycle-bin-cleanup",
		Name:        "Recycle Bin Cleanup",
		Description: "Removes recycled files older than the retention window",
		Cron:        "0 3 * * *", // 3 AM daily
		RunOnStart:  false,
		Func: func(ctx context.Context) error {
			return importer.CleanRecycleBin(cfg.RecycleBinPath, cfg.RecycleBinMaxAge, logger)
		},
	})
}
