package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// OutcomeStore is the durable record of terminal queue outcomes. AMQP
// brokers cannot be queried for a past message's fate, so the adapter writes
// one row per job as it learns the outcome (worker ack, worker failure,
// expiry dead-letter), and reconciliation reads this record as the queue's
// authoritative answer.
type OutcomeStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewOutcomeStore creates a new OutcomeStore instance
func NewOutcomeStore(db *sqlx.DB, logger *slog.Logger) *OutcomeStore {
	return &OutcomeStore{
		db:     db,
		logger: logger,
	}
}

// RecordOutcome persists the terminal outcome for a job. The first recorded outcome
// wins; later writes for the same job are no-ops, since a terminal outcome
// never changes.
func (s *OutcomeStore) RecordOutcome(ctx context.Context, toolJobID string, state State) error {
	query := `
		INSERT INTO queue_job_outcomes (tool_job_id, outcome, recorded_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tool_job_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, toolJobID, string(state))
	if err != nil {
		return fmt.Errorf("failed to record queue outcome: %w", err)
	}

	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		s.logger.Debug("Queue outcome already recorded",
			slog.String("tool_job_id", toolJobID),
			slog.String("outcome", string(state)),
		)
		return nil
	}

	s.logger.Debug("Queue outcome recorded",
		slog.String("tool_job_id", toolJobID),
		slog.String("outcome", string(state)),
	)

	return nil
}

// Lookup returns the recorded terminal outcome for a job, or StateNotFound
// when the queue has not resolved the job. Store errors are wrapped as
// ErrQueueUnavailable for the reconciliation soft-failure path.
func (s *OutcomeStore) Lookup(ctx context.Context, toolJobID string) (State, error) {
	query := `SELECT outcome FROM queue_job_outcomes WHERE tool_job_id = $1`

	var outcome string
	if err := s.db.GetContext(ctx, &outcome, query, toolJobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StateNotFound, nil
		}
		return StateNotFound, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return State(outcome), nil
}
