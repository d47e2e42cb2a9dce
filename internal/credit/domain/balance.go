package domain

import "time"

// Transaction types recorded in the credit_transactions audit log
const (
	TransactionTypeUsage      = "USAGE"
	TransactionTypeOverage    = "OVERAGE"
	TransactionTypeRefund     = "REFUND"
	TransactionTypeGrant      = "GRANT"
	TransactionTypeAdjustment = "ADJUSTMENT"
)

// CreditBalance is the per-organization running total of granted, consumed,
// and overage credits for the current billing period. All mutation goes
// through the ledger operations; fields are never written directly.
type CreditBalance struct {
	ID               string    `db:"id"`
	OrganizationID   string    `db:"organization_id"`
	Included         int64     `db:"included"`
	Used             int64     `db:"used"`
	Overage          int64     `db:"overage"`
	PurchasedCredits int64     `db:"purchased_credits"`
	PeriodStart      time.Time `db:"period_start"`
	PeriodEnd        time.Time `db:"period_end"`
}

// CreditTransaction is an immutable audit-log row, one per balance mutation.
// Amount is signed: negative for consumption, positive for refunds and grants.
type CreditTransaction struct {
	ID          string    `db:"id"`
	BalanceID   string    `db:"balance_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	ToolSlug    string    `db:"tool_slug"`
	JobID       *string   `db:"job_id"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Remaining returns the included credits not yet consumed, never negative.
func (b *CreditBalance) Remaining() int64 {
	remaining := b.Included - b.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ApplyDeduct mutates the balance for a consumption of amount credits and
// returns the transaction type the mutation should be recorded as. When the
// amount fits within the remaining included allotment it is pure USAGE;
// otherwise the remainder spills into overage and the full amount is recorded
// as a single OVERAGE transaction. The ledger never refuses a deduction --
// admission control happens before this point.
func (b *CreditBalance) ApplyDeduct(amount int64) string {
	remaining := b.Remaining()
	if amount <= remaining {
		b.Used += amount
		return TransactionTypeUsage
	}

	b.Used += remaining
	b.Overage += amount - remaining
	return TransactionTypeOverage
}

// ApplyRefund reverses a prior deduction transaction on the balance.
// USAGE originals come straight back out of used. OVERAGE originals drain
// overage first and return any remainder to used, which restores the exact
// used/overage split of a deduction that straddled the included allotment.
func (b *CreditBalance) ApplyRefund(original *CreditTransaction) {
	amount := -original.Amount

	if original.Type == TransactionTypeOverage {
		fromOverage := amount
		if fromOverage > b.Overage {
			fromOverage = b.Overage
		}
		b.Overage -= fromOverage
		b.Used -= amount - fromOverage
		return
	}

	b.Used -= amount
}

// ApplyReset zeroes consumption for a new billing period. Included and
// purchased credits are preserved.
func (b *CreditBalance) ApplyReset(periodStart, periodEnd time.Time) {
	b.Used = 0
	b.Overage = 0
	b.PeriodStart = periodStart
	b.PeriodEnd = periodEnd
}
