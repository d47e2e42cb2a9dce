package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
)

const jobColumns = `
	id, tool_slug, status, priority, input, output, error,
	user_id, organization_id, session_id, attempts, max_attempts,
	started_at, completed_at, process_after, expires_at, created_at, updated_at
`

// Storage handles all database operations on the tool_jobs table. Every
// status write is conditioned on the expected prior status, so a write that
// lost a race affects zero rows instead of clobbering a concurrent
// transition.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new tool job Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a new PENDING tool job
func (s *Storage) CreateJob(ctx context.Context, job *domain.ToolJob) error {
	query := `
		INSERT INTO tool_jobs (
			id, tool_slug, status, priority, input, user_id,
			organization_id, session_id, attempts, max_attempts,
			process_after, expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.ToolSlug,
		job.Status,
		job.Priority,
		job.Input,
		job.UserID,
		job.OrganizationID,
		job.SessionID,
		job.Attempts,
		job.MaxAttempts,
		job.ProcessAfter,
		job.ExpiresAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tool job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a tool job by its id
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.ToolJob, error) {
	query := `SELECT ` + jobColumns + ` FROM tool_jobs WHERE id = $1`

	var job domain.ToolJob
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get tool job: %w", err)
	}

	return &job, nil
}

// ClaimJob transitions a job PENDING -> PROCESSING, stamping started_at and
// bumping the attempt counter. The status condition makes the claim an
// optimistic lock: a second claimer sees zero rows and gets
// ErrJobAlreadyClaimed.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.ToolJob, error) {
	query := `
		UPDATE tool_jobs
		SET status = $1,
		    started_at = NOW(),
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND attempts < max_attempts
		RETURNING ` + jobColumns

	var job domain.ToolJob
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusProcessing, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim tool job - already claimed, terminal, or out of attempts",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim tool job: %w", err)
	}

	s.logger.Info("Tool job claimed",
		slog.String("job_id", job.ID),
		slog.String("tool_slug", job.ToolSlug),
		slog.Int("attempt", job.Attempts),
	)

	return &job, nil
}

// ReleaseJob returns a PROCESSING job to PENDING so a later delivery can
// retry it. Returns false when the job was no longer PROCESSING.
func (s *Storage) ReleaseJob(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE tool_jobs
		SET status = $1,
		    started_at = NULL,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
	`

	return s.guardedExec(ctx, query, "release", jobID, domain.JobStatusPending, jobID, domain.JobStatusProcessing)
}

// CompleteJob transitions PROCESSING -> COMPLETED with the tool's output.
// Returns false when the job already left PROCESSING - the benign race with
// expiration or maintenance, not an error.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, output []byte) (bool, error) {
	query := `
		UPDATE tool_jobs
		SET status = $1,
		    output = $2,
		    error = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
	`

	return s.guardedExec(ctx, query, "complete", jobID, domain.JobStatusCompleted, output, jobID, domain.JobStatusProcessing)
}

// FailJob transitions a non-terminal job to FAILED with an error message.
// PENDING rows can fail too (enqueue failure, queue expiration). Returns
// false when the job already reached a terminal status; this guard must
// never overwrite a job a worker completed through the normal path.
func (s *Storage) FailJob(ctx context.Context, jobID, errorMessage string) (bool, error) {
	query := `
		UPDATE tool_jobs
		SET status = $1,
		    error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3
		  AND status IN ($4, $5)
	`

	return s.guardedExec(ctx, query, "fail", jobID, domain.JobStatusFailed, errorMessage, jobID, domain.JobStatusPending, domain.JobStatusProcessing)
}

// CancelJob transitions PENDING -> CANCELLED. Jobs already picked up by a
// worker are past the point of cancellation.
func (s *Storage) CancelJob(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE tool_jobs
		SET status = $1,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
	`

	return s.guardedExec(ctx, query, "cancel", jobID, domain.JobStatusCancelled, jobID, domain.JobStatusPending)
}

// ListProcessing returns up to limit jobs currently in PROCESSING, oldest
// first, for the reconciliation pass.
func (s *Storage) ListProcessing(ctx context.Context, limit int) ([]domain.ToolJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM tool_jobs
		WHERE status = $1
		ORDER BY started_at ASC NULLS FIRST
		LIMIT $2
	`

	var jobs []domain.ToolJob
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusProcessing, limit); err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	return jobs, nil
}

// MarkStuckFailed fails every PROCESSING job whose started_at predates the
// cutoff, in one guarded statement, and returns how many rows transitioned.
func (s *Storage) MarkStuckFailed(ctx context.Context, cutoff time.Time, errorMessage string) (int64, error) {
	query := `
		UPDATE tool_jobs
		SET status = $1,
		    error = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = $3
		  AND started_at IS NOT NULL
		  AND started_at < $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, errorMessage, domain.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stuck jobs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if count > 0 {
		s.logger.Warn("Stuck tool jobs marked failed",
			slog.Int64("count", count),
			slog.Time("cutoff", cutoff),
		)
	}

	return count, nil
}

// DeleteTerminalBefore purges terminal rows past their retention windows.
// Idempotent; deleting nothing is the normal steady state.
func (s *Storage) DeleteTerminalBefore(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM tool_jobs
		WHERE (status = $1 AND completed_at < $2)
		   OR (status IN ($3, $4) AND completed_at < $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCompleted, completedBefore,
		domain.JobStatusFailed, domain.JobStatusCancelled, failedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}

// guardedExec runs a status-conditioned update and reports whether it
// transitioned the row. Zero affected rows is the expected outcome of a
// benign race, logged for diagnostics only.
func (s *Storage) guardedExec(ctx context.Context, query, action, jobID string, args ...interface{}) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s tool job: %w", action, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		s.logger.Debug("Guarded update affected no rows - job already transitioned",
			slog.String("action", action),
			slog.String("job_id", jobID),
		)
		return false, nil
	}

	s.logger.Info("Tool job status updated",
		slog.String("action", action),
		slog.String("job_id", jobID),
	)

	return true, nil
}
