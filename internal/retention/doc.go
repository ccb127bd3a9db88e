// Package retention removes finished export jobs, and the files they
// produced, once they are older than the retention period.
//
// # Basic Usage
//
//	pruner := retention.NewPruner(store, assetStore, retention.Config{
//	    MaxAge:   90 * 24 * time.Hour,
//	    Schedule: "0 3 * * *", // daily at 3 AM
//	}, logger)
//
//	scheduler := retention.NewScheduler(pruner, logger)
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
//
// Only Complete and Failed jobs are pruned; unfinished jobs are never
// touched whatever their age.
package retention
