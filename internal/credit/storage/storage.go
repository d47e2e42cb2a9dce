package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/toolforge/toolforge-be/internal/credit/domain"
)

// Storage is the credit ledger: every balance mutation runs as one database
// transaction that locks the balance row, applies the mutation, and appends
// exactly one credit_transactions row. Concurrent callers for the same
// organization serialize on the row lock.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new credit ledger Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const selectBalanceForUpdate = `
	SELECT id, organization_id, included, used, overage, purchased_credits, period_start, period_end
	FROM credit_balances
	WHERE organization_id = $1
	FOR UPDATE
`

const updateBalanceConsumption = `
	UPDATE credit_balances
	SET used = $1, overage = $2
	WHERE id = $3
`

const insertTransaction = `
	INSERT INTO credit_transactions (id, balance_id, amount, type, tool_slug, job_id, description, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Deduct consumes amount credits from the organization's balance and records
// a USAGE or OVERAGE transaction for the full amount. Deductions are never
// refused for insufficient balance; consumption beyond the included allotment
// spills into overage. Admission control is the caller's concern and happens
// before this call.
func (s *Storage) Deduct(ctx context.Context, organizationID string, amount int64, toolSlug string, jobID *string, description string) (*domain.CreditTransaction, error) {
	if organizationID == "" {
		return nil, domain.NewValidationError("organization_id", "must not be empty")
	}
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if toolSlug == "" {
		return nil, domain.NewValidationError("tool_slug", "must not be empty")
	}

	var txRecord *domain.CreditTransaction
	err := s.withBalanceTx(ctx, organizationID, func(tx *sqlx.Tx, balance *domain.CreditBalance) error {
		txType := balance.ApplyDeduct(amount)

		if _, err := tx.ExecContext(ctx, updateBalanceConsumption, balance.Used, balance.Overage, balance.ID); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		record := &domain.CreditTransaction{
			ID:          uuid.New().String(),
			BalanceID:   balance.ID,
			Amount:      -amount,
			Type:        txType,
			ToolSlug:    toolSlug,
			JobID:       jobID,
			Description: description,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return err
		}

		txRecord = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Credits deducted",
		slog.String("organization_id", organizationID),
		slog.Int64("amount", amount),
		slog.String("tool_slug", toolSlug),
		slog.String("type", txRecord.Type),
	)

	return txRecord, nil
}

// Refund reverses a prior deduction and records a REFUND transaction with a
// positive amount. OVERAGE originals are returned to overage first, anything
// beyond the tracked overage to used; other originals come out of used.
// Refunding the same transaction twice is not detected here - callers own
// that policy.
func (s *Storage) Refund(ctx context.Context, originalTransactionID string, reason string) (*domain.CreditTransaction, error) {
	if originalTransactionID == "" {
		return nil, domain.NewValidationError("original_transaction_id", "must not be empty")
	}

	original, err := s.GetTransaction(ctx, originalTransactionID)
	if err != nil {
		return nil, err
	}
	if original.Amount >= 0 {
		return nil, domain.NewValidationError("original_transaction_id", "only consumption transactions can be refunded")
	}

	var txRecord *domain.CreditTransaction
	err = s.withBalanceTxByID(ctx, original.BalanceID, func(tx *sqlx.Tx, balance *domain.CreditBalance) error {
		balance.ApplyRefund(original)

		if _, err := tx.ExecContext(ctx, updateBalanceConsumption, balance.Used, balance.Overage, balance.ID); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		description := reason
		if description == "" {
			description = fmt.Sprintf("refund of transaction %s", original.ID)
		}

		record := &domain.CreditTransaction{
			ID:          uuid.New().String(),
			BalanceID:   balance.ID,
			Amount:      -original.Amount,
			Type:        domain.TransactionTypeRefund,
			ToolSlug:    original.ToolSlug,
			JobID:       original.JobID,
			Description: description,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return err
		}

		txRecord = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Credits refunded",
		slog.String("original_transaction_id", original.ID),
		slog.Int64("amount", txRecord.Amount),
	)

	return txRecord, nil
}

// Grant upserts the organization's balance for a billing period. A missing
// balance is created with zero consumption; an existing one gets only its
// included allotment and period dates overwritten - used and overage are
// never touched. Records a GRANT transaction for the included amount.
func (s *Storage) Grant(ctx context.Context, organizationID string, included int64, periodStart, periodEnd time.Time) (*domain.CreditBalance, error) {
	if organizationID == "" {
		return nil, domain.NewValidationError("organization_id", "must not be empty")
	}
	if included < 0 {
		return nil, domain.NewValidationError("included", "must not be negative")
	}
	if periodEnd.Before(periodStart) {
		return nil, domain.NewValidationError("period_end", "must not be before period_start")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO credit_balances (id, organization_id, included, used, overage, purchased_credits, period_start, period_end)
		VALUES ($1, $2, $3, 0, 0, 0, $4, $5)
		ON CONFLICT (organization_id) DO UPDATE
		SET included = EXCLUDED.included,
		    period_start = EXCLUDED.period_start,
		    period_end = EXCLUDED.period_end
		RETURNING id, organization_id, included, used, overage, purchased_credits, period_start, period_end
	`

	var balance domain.CreditBalance
	if err := tx.GetContext(ctx, &balance, query, uuid.New().String(), organizationID, included, periodStart, periodEnd); err != nil {
		return nil, fmt.Errorf("failed to upsert balance: %w", err)
	}

	record := &domain.CreditTransaction{
		ID:          uuid.New().String(),
		BalanceID:   balance.ID,
		Amount:      included,
		Type:        domain.TransactionTypeGrant,
		Description: "credit grant",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.insertTransaction(ctx, tx, record); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Credits granted",
		slog.String("organization_id", organizationID),
		slog.Int64("included", included),
	)

	return &balance, nil
}

// Reset zeroes consumption for a new billing period, preserving the included
// allotment and purchased credits, and records a zero-amount ADJUSTMENT row
// for the audit trail. Fails with ErrBalanceNotFound when the organization
// has no balance.
func (s *Storage) Reset(ctx context.Context, organizationID string, periodStart, periodEnd time.Time) (*domain.CreditBalance, error) {
	if organizationID == "" {
		return nil, domain.NewValidationError("organization_id", "must not be empty")
	}
	if periodEnd.Before(periodStart) {
		return nil, domain.NewValidationError("period_end", "must not be before period_start")
	}

	var result *domain.CreditBalance
	err := s.withBalanceTx(ctx, organizationID, func(tx *sqlx.Tx, balance *domain.CreditBalance) error {
		balance.ApplyReset(periodStart, periodEnd)

		query := `
			UPDATE credit_balances
			SET used = 0, overage = 0, period_start = $1, period_end = $2
			WHERE id = $3
		`
		if _, err := tx.ExecContext(ctx, query, periodStart, periodEnd, balance.ID); err != nil {
			return fmt.Errorf("failed to reset balance: %w", err)
		}

		record := &domain.CreditTransaction{
			ID:          uuid.New().String(),
			BalanceID:   balance.ID,
			Amount:      0,
			Type:        domain.TransactionTypeAdjustment,
			Description: "period reset",
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return err
		}

		result = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Balance reset",
		slog.String("organization_id", organizationID),
		slog.Time("period_start", periodStart),
		slog.Time("period_end", periodEnd),
	)

	return result, nil
}

// GetBalance retrieves the organization's balance without locking it
func (s *Storage) GetBalance(ctx context.Context, organizationID string) (*domain.CreditBalance, error) {
	query := `
		SELECT id, organization_id, included, used, overage, purchased_credits, period_start, period_end
		FROM credit_balances
		WHERE organization_id = $1
	`

	var balance domain.CreditBalance
	if err := s.db.GetContext(ctx, &balance, query, organizationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &balance, nil
}

// GetTransaction retrieves a single transaction row by id
func (s *Storage) GetTransaction(ctx context.Context, transactionID string) (*domain.CreditTransaction, error) {
	query := `
		SELECT id, balance_id, amount, type, tool_slug, job_id, description, created_at
		FROM credit_transactions
		WHERE id = $1
	`

	var record domain.CreditTransaction
	if err := s.db.GetContext(ctx, &record, query, transactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &record, nil
}

// ListTransactions returns the most recent transactions for an organization
func (s *Storage) ListTransactions(ctx context.Context, organizationID string, limit int) ([]domain.CreditTransaction, error) {
	query := `
		SELECT t.id, t.balance_id, t.amount, t.type, t.tool_slug, t.job_id, t.description, t.created_at
		FROM credit_transactions t
		JOIN credit_balances b ON b.id = t.balance_id
		WHERE b.organization_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`

	var records []domain.CreditTransaction
	if err := s.db.SelectContext(ctx, &records, query, organizationID, limit); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return records, nil
}

// withBalanceTx runs fn inside one transaction holding the row lock for the
// organization's balance. Any error aborts the transaction, so no partial
// balance mutation is ever persisted.
func (s *Storage) withBalanceTx(ctx context.Context, organizationID string, fn func(tx *sqlx.Tx, balance *domain.CreditBalance) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance domain.CreditBalance
	if err := tx.GetContext(ctx, &balance, selectBalanceForUpdate, organizationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBalanceNotFound
		}
		return fmt.Errorf("failed to lock balance: %w", err)
	}

	if err := fn(tx, &balance); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// withBalanceTxByID is withBalanceTx keyed by balance id instead of organization
func (s *Storage) withBalanceTxByID(ctx context.Context, balanceID string, fn func(tx *sqlx.Tx, balance *domain.CreditBalance) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, organization_id, included, used, overage, purchased_credits, period_start, period_end
		FROM credit_balances
		WHERE id = $1
		FOR UPDATE
	`

	var balance domain.CreditBalance
	if err := tx.GetContext(ctx, &balance, query, balanceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBalanceNotFound
		}
		return fmt.Errorf("failed to lock balance: %w", err)
	}

	if err := fn(tx, &balance); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Storage) insertTransaction(ctx context.Context, tx *sqlx.Tx, record *domain.CreditTransaction) error {
	_, err := tx.ExecContext(ctx, insertTransaction,
		record.ID,
		record.BalanceID,
		record.Amount,
		record.Type,
		record.ToolSlug,
		record.JobID,
		record.Description,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}
