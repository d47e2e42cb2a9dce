package maintenance

import (
	"context"
	"log/slog"

	"github.com/toolforge/toolforge-be/internal/queue"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
)

// ReconcilerJobStore is the slice of the job store reconciliation needs
type ReconcilerJobStore interface {
	ListProcessing(ctx context.Context, limit int) ([]domain.ToolJob, error)
	CompleteJob(ctx context.Context, jobID string, output []byte) (bool, error)
	FailJob(ctx context.Context, jobID, errorMessage string) (bool, error)
}

// QueueState answers what the queue believes happened to a job
type QueueState interface {
	Lookup(ctx context.Context, toolJobID string) (queue.State, error)
}

const defaultBatchLimit = 500

// Reconciler aligns the tool_jobs table with the queue's authoritative
// outcome. It runs first in every maintenance cycle, since a resolved queue
// outcome explains away jobs that would otherwise look stuck. Each row update
// is its own small transaction: a crash mid-pass leaves a partially
// reconciled but never corrupted state, and the next pass continues the work.
type Reconciler struct {
	jobs       ReconcilerJobStore
	queueState QueueState
	logger     *slog.Logger
	batchLimit int
}

// NewReconciler creates a new Reconciler
func NewReconciler(jobs ReconcilerJobStore, queueState QueueState, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		jobs:       jobs,
		queueState: queueState,
		logger:     logger,
		batchLimit: defaultBatchLimit,
	}
}

// Run reconciles every PROCESSING job against the queue's recorded outcome.
// It never returns an error: a pass-level failure is reported inside the
// result so the remaining maintenance steps still run.
func (r *Reconciler) Run(ctx context.Context) ReconcileResult {
	result := ReconcileResult{Success: true}

	processing, err := r.jobs.ListProcessing(ctx, r.batchLimit)
	if err != nil {
		r.logger.Error("Reconciliation failed to list processing jobs",
			slog.String("error", err.Error()),
		)
		result.Success = false
		result.Error = err.Error()
		return result
	}

	for i := range processing {
		job := &processing[i]

		state, err := r.queueState.Lookup(ctx, job.ID)
		if err != nil {
			r.logger.Error("Reconciliation failed to query queue state",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			result.Success = false
			result.Error = err.Error()
			return result
		}

		switch state {
		case queue.StateCompleted:
			// The processor already deducted credits before the crash, so
			// completing here must not touch the ledger
			transitioned, err := r.jobs.CompleteJob(ctx, job.ID, nil)
			if err != nil {
				r.logger.Error("Reconciliation failed to complete job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Synced++
			if transitioned {
				result.Completed++
			}

		case queue.StateFailed:
			transitioned, err := r.jobs.FailJob(ctx, job.ID, "job failed in queue")
			if err != nil {
				r.logger.Error("Reconciliation failed to fail job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Synced++
			if transitioned {
				result.Failed++
			}

		case queue.StateExpired:
			transitioned, err := r.jobs.FailJob(ctx, job.ID, queue.ExpirationErrorMessage)
			if err != nil {
				r.logger.Error("Reconciliation failed to expire job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Synced++
			if transitioned {
				result.Expired++
			}

		case queue.StateNotFound:
			// The queue never resolved this job; leave it for the stuck-job
			// backstop once it crosses the threshold
			r.logger.Debug("Queue has no outcome for processing job",
				slog.String("job_id", job.ID),
			)
		}
	}

	r.logger.Info("Reconciliation pass finished",
		slog.Int("examined", len(processing)),
		slog.Int("synced", result.Synced),
		slog.Int("completed", result.Completed),
		slog.Int("failed", result.Failed),
		slog.Int("expired", result.Expired),
	)

	return result
}
