package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBalanceNotFound is returned when a ledger operation targets an
	// organization that has never been granted a balance
	ErrBalanceNotFound = errors.New("credit balance not found")

	// ErrTransactionNotFound is returned when a refund references an
	// unknown original transaction
	ErrTransactionNotFound = errors.New("credit transaction not found")
)

// ValidationError reports bad ledger-operation input. It is synchronous and
// fail-fast: no database work happens once validation rejects a call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
