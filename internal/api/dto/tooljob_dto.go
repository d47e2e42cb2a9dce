package dto

import (
	"encoding/json"
	"time"

	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
)

type CreateToolJobRequest struct {
	ToolSlug       string          `json:"tool_slug" binding:"required"`
	Input          json.RawMessage `json:"input" binding:"required"`
	UserID         string          `json:"user_id" binding:"required"`
	OrganizationID *string         `json:"organization_id"`
	SessionID      *string         `json:"session_id"`
	Priority       int             `json:"priority"`
	MaxAttempts    int             `json:"max_attempts"`
	ProcessAfter   *time.Time      `json:"process_after"`
	ExpiresAt      *time.Time      `json:"expires_at"`
}

type ListToolJobsRequest struct {
	UserID         string `form:"user_id"`
	OrganizationID string `form:"organization_id"`
	ToolSlug       string `form:"tool_slug"`
	Status         string `form:"status"`
	PageSize       int    `form:"page_size"`
	Cursor         string `form:"cursor"`
}

type ListToolJobsResponse struct {
	Jobs       []ToolJobDTO `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type ToolJobDTO struct {
	ID             string          `json:"id"`
	ToolSlug       string          `json:"tool_slug"`
	Status         string          `json:"status"`
	Priority       int             `json:"priority"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *string         `json:"error,omitempty"`
	UserID         string          `json:"user_id"`
	OrganizationID *string         `json:"organization_id,omitempty"`
	SessionID      *string         `json:"session_id,omitempty"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ProcessAfter   *time.Time      `json:"process_after,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ToolJobFromDomain maps a persisted job onto the wire shape
func ToolJobFromDomain(job *domain.ToolJob) ToolJobDTO {
	return ToolJobDTO{
		ID:             job.ID,
		ToolSlug:       job.ToolSlug,
		Status:         job.Status,
		Priority:       job.Priority,
		Input:          json.RawMessage(job.Input),
		Output:         json.RawMessage(job.Output),
		Error:          job.Error,
		UserID:         job.UserID,
		OrganizationID: job.OrganizationID,
		SessionID:      job.SessionID,
		Attempts:       job.Attempts,
		MaxAttempts:    job.MaxAttempts,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		ProcessAfter:   job.ProcessAfter,
		ExpiresAt:      job.ExpiresAt,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

type CreditBalanceResponse struct {
	OrganizationID  string    `json:"organization_id"`
	IncludedCredits int64     `json:"included_credits"`
	UsedCredits     int64     `json:"used_credits"`
	OverageCredits  int64     `json:"overage_credits"`
	Purchased       int64     `json:"purchased_credits"`
	Remaining       int64     `json:"remaining"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
}

type CreditTransactionDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	ToolSlug    string    `json:"tool_slug,omitempty"`
	JobID       *string   `json:"job_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type GrantCreditsRequest struct {
	OrganizationID  string    `json:"organization_id" binding:"required"`
	IncludedCredits int64     `json:"included_credits" binding:"required"`
	PeriodStart     time.Time `json:"period_start" binding:"required"`
	PeriodEnd       time.Time `json:"period_end" binding:"required"`
}

type ResetCreditsRequest struct {
	OrganizationID string    `json:"organization_id" binding:"required"`
	PeriodStart    time.Time `json:"period_start" binding:"required"`
	PeriodEnd      time.Time `json:"period_end" binding:"required"`
}
