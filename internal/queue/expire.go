package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// ExpirationErrorMessage is written onto tool jobs failed by queue expiration
const ExpirationErrorMessage = "job expired in queue before completion"

// JobFailer is the slice of the job store the expire handler needs: the
// status-guarded transition to FAILED.
type JobFailer interface {
	FailJob(ctx context.Context, jobID, errorMessage string) (bool, error)
}

// NewJobExpireHandler builds the expire handler that fails the linked tool
// job. The transition only applies while the job is still non-terminal; a
// worker that completed the job through the normal path wins the race, and
// the resulting zero-row update is logged, not treated as an error.
func NewJobExpireHandler(jobs JobFailer, logger *slog.Logger) ExpireHandler {
	return func(ctx context.Context, job ExpiredJob) error {
		transitioned, err := jobs.FailJob(ctx, job.Data.ToolJobID, ExpirationErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to fail expired job %s: %w", job.Data.ToolJobID, err)
		}

		if !transitioned {
			logger.Debug("Expired job already terminal, nothing to do",
				slog.String("tool_job_id", job.Data.ToolJobID),
			)
			return nil
		}

		logger.Info("Expired job marked failed",
			slog.String("tool_job_id", job.Data.ToolJobID),
		)

		return nil
	}
}
