package tasks

import (
	"context"

	"github.com/halyard/halyard/internal/blocklist"
	"github.com/halyard/halyard/internal/config"
	"github.com/halyard/halyard/internal/scheduler"
)

// RegisterBlocklistPrune registers the periodic blocklist retention
// sweep. Release-group failure counts are kept.
func RegisterBlocklistPrune(sched *scheduler.Scheduler, store *blocklist.Store, cfg *config.AcquisitionConfig) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "blocklist-prune",
		Name:        "Blocklist Prune",
		Description: "Removes blocklist entries older than the retention window",
		Cron:        "30 3 * * *", // 3:30 AM daily
		RunOnStart:  false,
		Func: func(ctx context.Context) error {
			_, err := store.Prune(ctx, cfg.BlocklistRetention)
			return err
		},
	})
}
