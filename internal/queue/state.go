package queue

import "errors"

// State is the queue's authoritative view of a job's terminal outcome
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateExpired   State = "expired"
	StateNotFound  State = "not_found"
)

// ErrQueueUnavailable wraps failures to reach the queue's outcome record.
// Reconciliation reports it as a soft failure instead of propagating it.
var ErrQueueUnavailable = errors.New("queue unavailable")
