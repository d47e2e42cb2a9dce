package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
)

// JobFilter narrows a job listing; zero values mean "no filter"
type JobFilter struct {
	UserID         string
	OrganizationID string
	ToolSlug       string
	Status         string
	PageSize       int
	Cursor         *JobCursor
}

// JobCursor is a keyset-pagination position over (created_at, id) descending
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs matching the filter; the caller uses
// the extra row to decide whether a next cursor exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.ToolJob, error) {
	query := `SELECT ` + jobColumns + ` FROM tool_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.OrganizationID != "" {
		query += fmt.Sprintf(" AND organization_id = $%d", argIdx)
		args = append(args, filter.OrganizationID)
		argIdx++
	}

	if filter.ToolSlug != "" {
		query += fmt.Sprintf(" AND tool_slug = $%d", argIdx)
		args = append(args, filter.ToolSlug)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order matches the cursor tuple for stable pagination
	query += " ORDER BY created_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.ToolJob
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tool jobs: %w", err)
	}

	return jobs, nil
}
