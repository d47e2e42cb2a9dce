package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreditBalance_Remaining(t *testing.T) {
	tests := []struct {
		name     string
		included int64
		used     int64
		want     int64
	}{
		{
			name:     "nothing consumed",
			included: 100,
			used:     0,
			want:     100,
		},
		{
			name:     "partially consumed",
			included: 100,
			used:     40,
			want:     60,
		},
		{
			name:     "fully consumed",
			included: 100,
			used:     100,
			want:     0,
		},
		{
			name:     "used beyond included never goes negative",
			included: 100,
			used:     150,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &CreditBalance{Included: tt.included, Used: tt.used}
			assert.Equal(t, tt.want, b.Remaining())
		})
	}
}

func TestCreditBalance_ApplyDeduct(t *testing.T) {
	tests := []struct {
		name        string
		balance     CreditBalance
		amount      int64
		wantType    string
		wantUsed    int64
		wantOverage int64
	}{
		{
			name:        "within included allotment",
			balance:     CreditBalance{Included: 100, Used: 30},
			amount:      20,
			wantType:    TransactionTypeUsage,
			wantUsed:    50,
			wantOverage: 0,
		},
		{
			name:        "exactly consumes the remainder",
			balance:     CreditBalance{Included: 100, Used: 80},
			amount:      20,
			wantType:    TransactionTypeUsage,
			wantUsed:    100,
			wantOverage: 0,
		},
		{
			name:        "splits across included and overage",
			balance:     CreditBalance{Included: 100, Used: 90},
			amount:      20,
			wantType:    TransactionTypeOverage,
			wantUsed:    100,
			wantOverage: 10,
		},
		{
			name:        "pure overage when allotment exhausted",
			balance:     CreditBalance{Included: 100, Used: 100, Overage: 5},
			amount:      30,
			wantType:    TransactionTypeOverage,
			wantUsed:    100,
			wantOverage: 35,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.balance
			txType := b.ApplyDeduct(tt.amount)

			assert.Equal(t, tt.wantType, txType)
			assert.Equal(t, tt.wantUsed, b.Used)
			assert.Equal(t, tt.wantOverage, b.Overage)
		})
	}
}

func TestCreditBalance_ApplyRefund(t *testing.T) {
	tests := []struct {
		name    string
		balance CreditBalance
		amount  int64
	}{
		{
			name:    "usage deduction",
			balance: CreditBalance{Included: 100, Used: 30},
			amount:  20,
		},
		{
			name:    "split overage deduction",
			balance: CreditBalance{Included: 100, Used: 90},
			amount:  20,
		},
		{
			name:    "pure overage deduction",
			balance: CreditBalance{Included: 100, Used: 100, Overage: 10},
			amount:  15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.balance
			wantUsed := b.Used
			wantOverage := b.Overage

			txType := b.ApplyDeduct(tt.amount)
			b.ApplyRefund(&CreditTransaction{
				Amount: -tt.amount,
				Type:   txType,
			})

			// Refund of a deduction restores the pre-deduct state
			assert.Equal(t, wantUsed, b.Used)
			assert.Equal(t, wantOverage, b.Overage)
		})
	}
}

func TestCreditBalance_ApplyReset(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	b := &CreditBalance{
		Included:         100,
		Used:             95,
		Overage:          12,
		PurchasedCredits: 50,
	}

	b.ApplyReset(start, end)

	assert.Equal(t, int64(0), b.Used)
	assert.Equal(t, int64(0), b.Overage)
	assert.Equal(t, int64(100), b.Included)
	assert.Equal(t, int64(50), b.PurchasedCredits)
	assert.Equal(t, start, b.PeriodStart)
	assert.Equal(t, end, b.PeriodEnd)
}
