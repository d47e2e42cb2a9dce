package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolforge/toolforge-be/internal/queue"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
)

// processJob processes a single job message end to end. The return value
// drives the ACK/NACK decision in the worker loop: nil means ACK, a
// RetryableError means NACK with requeue, anything else means NACK without.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing tool job",
		slog.String("job_id", msg.ToolJobID),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.jobs.GetJobByID(ctx, msg.ToolJobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Row deleted or never created; nothing to settle
			w.logger.Warn("Tool job not found for message, dropping",
				slog.String("job_id", msg.ToolJobID),
			)
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load tool job: %w", err))
	}

	if domain.IsTerminalStatus(job.Status) {
		w.logger.Info("Tool job already terminal, dropping message",
			slog.String("job_id", job.ID),
			slog.String("status", job.Status),
		)
		return nil
	}

	if job.ProcessAfter != nil && job.ProcessAfter.After(time.Now()) {
		w.logger.Debug("Tool job not due yet, requeueing",
			slog.String("job_id", job.ID),
			slog.Time("process_after", *job.ProcessAfter),
		)
		return domain.NewRetryableError(domain.ErrJobNotDue)
	}

	// Claim PENDING -> PROCESSING; losing the claim means another worker
	// (or a cancel) got there first
	job, err = w.jobs.ClaimJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Tool job already claimed, skipping",
				slog.String("job_id", msg.ToolJobID),
			)
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim tool job: %w", err))
	}

	processor, ok := w.registry.Get(job.ToolSlug)
	if !ok {
		w.logger.Error("No processor registered for tool",
			slog.String("job_id", job.ID),
			slog.String("tool_slug", job.ToolSlug),
		)
		w.settleFailed(ctx, job, fmt.Sprintf("no processor registered for tool %q", job.ToolSlug))
		return fmt.Errorf("%w: %s", domain.ErrUnknownTool, job.ToolSlug)
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	output, execErr := processor.Execute(jobCtx, job)
	if execErr != nil {
		w.logger.Error("Tool execution failed",
			slog.String("job_id", job.ID),
			slog.String("tool_slug", job.ToolSlug),
			slog.String("error", execErr.Error()),
		)
		return w.handleFailure(ctx, job, execErr)
	}

	// Deduct-then-complete: the ledger write comes first so a crash between
	// the two leaves a charged job that reconciliation completes without a
	// second deduction. A failed deduction must keep the job from being
	// marked COMPLETED.
	if job.OrganizationID != nil {
		cost := w.costs.CostFor(job.ToolSlug)
		if cost > 0 {
			_, err := w.ledger.Deduct(ctx, *job.OrganizationID, cost, job.ToolSlug, &job.ID, "tool execution")
			if err != nil {
				w.logger.Error("Credit deduction failed",
					slog.String("job_id", job.ID),
					slog.String("organization_id", *job.OrganizationID),
					slog.String("error", err.Error()),
				)
				return w.handleFailure(ctx, job, fmt.Errorf("credit deduction failed: %w", err))
			}
		}
	}

	transitioned, err := w.jobs.CompleteJob(ctx, job.ID, output)
	if err != nil {
		w.logger.Error("Failed to mark tool job COMPLETED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		// Credits are already spent; record the outcome so reconciliation
		// can finish the status write
	} else if !transitioned {
		w.logger.Warn("Tool job left PROCESSING before completion write",
			slog.String("job_id", job.ID),
		)
	}

	if err := w.outcomes.RecordOutcome(ctx, job.ID, queue.StateCompleted); err != nil {
		w.logger.Error("Failed to record completed outcome",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Info("Tool job completed",
		slog.String("job_id", job.ID),
		slog.String("tool_slug", job.ToolSlug),
	)

	return nil
}

// handleFailure settles a failed execution attempt: release for retry while
// attempts remain, otherwise fail the job for good.
func (w *Worker) handleFailure(ctx context.Context, job *domain.ToolJob, execErr error) error {
	if job.Attempts < job.MaxAttempts {
		released, err := w.jobs.ReleaseJob(ctx, job.ID)
		if err != nil {
			w.logger.Error("Failed to release tool job for retry",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else if released {
			w.logger.Info("Tool job released for retry",
				slog.String("job_id", job.ID),
				slog.Int("attempt", job.Attempts),
				slog.Int("max_attempts", job.MaxAttempts),
			)
		}
		return domain.NewRetryableError(execErr)
	}

	w.logger.Warn("Tool job exhausted its attempts",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	w.settleFailed(ctx, job, execErr.Error())

	return fmt.Errorf("%w: %v", domain.ErrMaxAttemptsExceeded, execErr)
}

// settleFailed writes the FAILED status and the queue outcome
func (w *Worker) settleFailed(ctx context.Context, job *domain.ToolJob, errorMessage string) {
	if _, err := w.jobs.FailJob(ctx, job.ID, errorMessage); err != nil {
		w.logger.Error("Failed to mark tool job FAILED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := w.outcomes.RecordOutcome(ctx, job.ID, queue.StateFailed); err != nil {
		w.logger.Error("Failed to record failed outcome",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
