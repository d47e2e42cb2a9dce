package maintenance

import (
	"context"
	"errors"
	"log/slog"
)

// Orchestrator composes reconciliation, stuck-job recovery, and retention
// cleanup into one maintenance cycle. Every step runs even when an earlier
// one fails: a reconciliation soft-failure is carried inside the summary,
// and hard errors from the later steps are joined into the returned error
// after the whole cycle has run.
type Orchestrator struct {
	reconciler *Reconciler
	stuck      *StuckRecovery
	cleanup    *RetentionCleanup
	logger     *slog.Logger
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(reconciler *Reconciler, stuck *StuckRecovery, cleanup *RetentionCleanup, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		reconciler: reconciler,
		stuck:      stuck,
		cleanup:    cleanup,
		logger:     logger,
	}
}

// RunCycle executes reconciliation, then stuck recovery, then cleanup, and
// returns the aggregated summary of all three.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleSummary, error) {
	o.logger.Info("Maintenance cycle starting")

	summary := CycleSummary{}
	var stepErrs []error

	summary.Reconciled = o.reconciler.Run(ctx)

	stuckResult, err := o.stuck.Run(ctx)
	if err != nil {
		o.logger.Error("Stuck job recovery step failed",
			slog.String("error", err.Error()),
		)
		stepErrs = append(stepErrs, err)
	}
	summary.StuckJobsMarkedFailed = stuckResult.Count

	cleanupResult, err := o.cleanup.Run(ctx)
	if err != nil {
		o.logger.Error("Retention cleanup step failed",
			slog.String("error", err.Error()),
		)
		stepErrs = append(stepErrs, err)
	}
	summary.ExpiredJobsDeleted = cleanupResult.Deleted

	o.logger.Info("Maintenance cycle finished",
		slog.Bool("reconcile_success", summary.Reconciled.Success),
		slog.Int("reconciled_synced", summary.Reconciled.Synced),
		slog.Int64("stuck_jobs_marked_failed", summary.StuckJobsMarkedFailed),
		slog.Int64("expired_jobs_deleted", summary.ExpiredJobsDeleted),
	)

	return summary, errors.Join(stepErrs...)
}
