package domain

import "time"

// Job status constants. Transitions only move along
// PENDING -> PROCESSING -> {COMPLETED | FAILED | CANCELLED}.
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusCancelled  = "CANCELLED"
)

// ToolJob is the persisted record of one asynchronous tool-execution request.
// It is the system-of-record, independent of whatever the queue believes.
// Input and Output are opaque per-tool payloads keyed by ToolSlug; this core
// never inspects them.
type ToolJob struct {
	ID             string     `db:"id"`
	ToolSlug       string     `db:"tool_slug"`
	Status         string     `db:"status"`
	Priority       int        `db:"priority"`
	Input          []byte     `db:"input"`
	Output         []byte     `db:"output"`
	Error          *string    `db:"error"`
	UserID         string     `db:"user_id"`
	OrganizationID *string    `db:"organization_id"`
	SessionID      *string    `db:"session_id"`
	Attempts       int        `db:"attempts"`
	MaxAttempts    int        `db:"max_attempts"`
	StartedAt      *time.Time `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	ProcessAfter   *time.Time `db:"process_after"`
	ExpiresAt      *time.Time `db:"expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// IsTerminalStatus reports whether a status admits no further transitions
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobMessage is the unit handed from the queue consumer to the worker pool
type JobMessage struct {
	ToolJobID   string `json:"tool_job_id"`
	DeliveryTag uint64 `json:"-"`
}
