package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/toolforge/toolforge-be/internal/api/dto"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
	"github.com/toolforge/toolforge-be/internal/tooljob/storage"
)

const defaultMaxAttempts = 3

// CreateToolJob handles POST /api/v1/tool-jobs.
// The row is created first, then the job is enqueued; if the enqueue fails
// the row is marked FAILED so no PENDING job exists that the queue will
// never deliver.
func (h *JobHandler) CreateToolJob(c *gin.Context) {
	var req dto.CreateToolJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.Priority < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "priority must not be negative",
		})
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	now := time.Now().UTC()
	job := domain.ToolJob{
		ID:             uuid.New().String(),
		ToolSlug:       req.ToolSlug,
		Status:         domain.JobStatusPending,
		Priority:       req.Priority,
		Input:          []byte(req.Input),
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		SessionID:      req.SessionID,
		MaxAttempts:    maxAttempts,
		ProcessAfter:   req.ProcessAfter,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.jobs.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create tool job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create tool job",
		})
		return
	}

	if err := h.queue.Enqueue(c.Request.Context(), job.ID, job.Priority); err != nil {
		h.logger.Error("Failed to enqueue tool job",
			slog.String("tool_job_id", job.ID),
			slog.String("error", err.Error()),
		)

		// Settle the row so it cannot sit PENDING forever with no message
		// behind it.
		if _, failErr := h.jobs.FailJob(c.Request.Context(), job.ID, "failed to enqueue job"); failErr != nil {
			h.logger.Error("Failed to mark unenqueued job as failed",
				slog.String("tool_job_id", job.ID),
				slog.String("error", failErr.Error()),
			)
		}

		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue tool job",
		})
		return
	}

	h.logger.Info("Tool job accepted",
		slog.String("tool_job_id", job.ID),
		slog.String("tool_slug", job.ToolSlug),
		slog.Int("priority", job.Priority),
	)

	c.JSON(http.StatusCreated, dto.ToolJobFromDomain(&job))
}

// GetToolJob handles GET /api/v1/tool-jobs/:job_id
func (h *JobHandler) GetToolJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Tool job not found",
			})
			return
		}

		h.logger.Error("Failed to get tool job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get tool job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.ToolJobFromDomain(job))
}

// ListToolJobs handles GET /api/v1/tool-jobs with filtering and
// cursor-based pagination
func (h *JobHandler) ListToolJobs(c *gin.Context) {
	var req dto.ListToolJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		ToolSlug:       req.ToolSlug,
		Status:         req.Status,
		PageSize:       req.PageSize,
		Cursor:         cursor,
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list tool jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list tool jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.ToolJobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.ToolJobFromDomain(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListToolJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// CancelToolJob handles POST /api/v1/tool-jobs/:job_id/cancel.
// Only PENDING jobs can be cancelled; a job a worker already claimed keeps
// running and the caller gets a conflict.
func (h *JobHandler) CancelToolJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	cancelled, err := h.jobs.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to cancel tool job",
			slog.String("tool_job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel tool job",
		})
		return
	}

	if !cancelled {
		job, getErr := h.jobs.GetJobByID(c.Request.Context(), jobID)
		if getErr != nil {
			if errors.Is(getErr, domain.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Tool job not found",
				})
				return
			}

			h.logger.Error("Failed to get tool job after cancel miss",
				slog.String("tool_job_id", jobID),
				slog.String("error", getErr.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel tool job",
			})
			return
		}

		c.JSON(http.StatusConflict, gin.H{
			"error":  "Tool job is no longer pending",
			"status": job.Status,
		})
		return
	}

	h.logger.Info("Tool job cancelled", slog.String("tool_job_id", jobID))

	c.JSON(http.StatusOK, gin.H{
		"id":     jobID,
		"status": domain.JobStatusCancelled,
	})
}
