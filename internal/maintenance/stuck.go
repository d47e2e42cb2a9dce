package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StuckErrorMessage is written onto jobs failed by the recovery backstop
const StuckErrorMessage = "job stuck in PROCESSING beyond recovery threshold"

// DefaultStuckThreshold is intentionally larger than the queue's own
// expiration window so normal expiration handling gets priority; this is
// strictly a backstop.
const DefaultStuckThreshold = 30 * time.Minute

// StuckJobStore is the slice of the job store stuck recovery needs
type StuckJobStore interface {
	MarkStuckFailed(ctx context.Context, cutoff time.Time, errorMessage string) (int64, error)
}

// StuckRecovery fails PROCESSING jobs whose queue-side outcome was never
// resolved, e.g. a worker that crashed before notifying the queue.
type StuckRecovery struct {
	jobs      StuckJobStore
	threshold time.Duration
	logger    *slog.Logger
}

// NewStuckRecovery creates a new StuckRecovery with the given threshold;
// a non-positive threshold falls back to the default.
func NewStuckRecovery(jobs StuckJobStore, threshold time.Duration, logger *slog.Logger) *StuckRecovery {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return &StuckRecovery{
		jobs:      jobs,
		threshold: threshold,
		logger:    logger,
	}
}

// Run fails every PROCESSING job started before now-threshold
func (s *StuckRecovery) Run(ctx context.Context) (StuckResult, error) {
	cutoff := time.Now().Add(-s.threshold)

	count, err := s.jobs.MarkStuckFailed(ctx, cutoff, StuckErrorMessage)
	if err != nil {
		return StuckResult{}, fmt.Errorf("stuck job recovery failed: %w", err)
	}

	if count > 0 {
		s.logger.Warn("Stuck jobs recovered",
			slog.Int64("count", count),
			slog.Duration("threshold", s.threshold),
		)
	}

	return StuckResult{Count: count}, nil
}
