package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default retention windows for terminal jobs
const (
	DefaultCompletedRetention = 7 * 24 * time.Hour
	DefaultFailedRetention    = 14 * 24 * time.Hour
)

// CleanupJobStore is the slice of the job store retention cleanup needs
type CleanupJobStore interface {
	DeleteTerminalBefore(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
}

// RetentionCleanup purges terminal tool jobs past retention. Pure and
// idempotent; it has no ordering dependency and runs last in the cycle.
type RetentionCleanup struct {
	jobs               CleanupJobStore
	completedRetention time.Duration
	failedRetention    time.Duration
	logger             *slog.Logger
}

// NewRetentionCleanup creates a new RetentionCleanup; non-positive retention
// windows fall back to the defaults.
func NewRetentionCleanup(jobs CleanupJobStore, completedRetention, failedRetention time.Duration, logger *slog.Logger) *RetentionCleanup {
	if completedRetention <= 0 {
		completedRetention = DefaultCompletedRetention
	}
	if failedRetention <= 0 {
		failedRetention = DefaultFailedRetention
	}
	return &RetentionCleanup{
		jobs:               jobs,
		completedRetention: completedRetention,
		failedRetention:    failedRetention,
		logger:             logger,
	}
}

// Run deletes terminal jobs older than their retention window
func (c *RetentionCleanup) Run(ctx context.Context) (CleanupResult, error) {
	now := time.Now()

	deleted, err := c.jobs.DeleteTerminalBefore(ctx,
		now.Add(-c.completedRetention),
		now.Add(-c.failedRetention),
	)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("retention cleanup failed: %w", err)
	}

	if deleted > 0 {
		c.logger.Info("Expired tool jobs deleted",
			slog.Int64("deleted", deleted),
		)
	}

	return CleanupResult{Deleted: deleted}, nil
}
