// Package retention prunes messages older than the configured horizon
// on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/store"
)

// Start launches the retention scheduler if enabled. Returns a cancel
// func stopping the scheduler; the in-flight sweep, if any, finishes.
func Start(ctx context.Context, cfg *config.Config, st *store.Store) (context.CancelFunc, error) {
	if !cfg.Retention.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	period := cfg.RetentionPeriod()
	if period <= 0 {
		logger.Info("retention_disabled", "reason", "no period configured")
		return func() {}, nil
	}

	cronExpr := cfg.Retention.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", period.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, cronExpr, period)
	return cancel, nil
}

// runScheduler computes the next tick with gronx and sleeps until it.
func runScheduler(ctx context.Context, st *store.Store, cronExpr string, period time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := RunOnce(st, period); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce deletes every message older than the period and returns how
// many were removed. Conversation records are kept; only their message
// history is pruned.
func RunOnce(st *store.Store, period time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-period)
	n, err := st.DeleteMessagesBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RetentionDeleted.Add(float64(n))
	}
	logger.Info("retention_run_complete", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}
