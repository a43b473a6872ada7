package coordination

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/store"
)

// RetentionSweeper prunes aged metric samples and log entries. Metric
// inserts already prune per-device; this sweep catches devices that went
// quiet and stopped inserting.
type RetentionSweeper struct {
	store    store.Store
	logger   hclog.Logger
	interval time.Duration
}

func NewRetentionSweeper(s store.Store, interval time.Duration, logger hclog.Logger) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		store:    s,
		logger:   logger.Named("retention"),
		interval: interval,
	}
}

func (r *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *RetentionSweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	pruned, err := r.store.PruneMetricsBefore(ctx, now.Add(-store.MetricRetention))
	if err != nil {
		r.logger.Error("pruning metric samples failed", "error", err)
	} else if pruned > 0 {
		r.logger.Info("pruned metric samples", "count", pruned)
	}

	logDays := store.SettingInt(ctx, r.store, "log_retention_days", 14)
	pruned, err = r.store.PruneLogsBefore(ctx, now.Add(-time.Duration(logDays)*24*time.Hour))
	if err != nil {
		r.logger.Error("pruning log entries failed", "error", err)
	} else if pruned > 0 {
		r.logger.Info("pruned log entries", "count", pruned)
	}
}
