package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shift is an operator accounting period. It is open while ClosedAt is nil.
type Shift struct {
	ID       string       `json:"id"`
	OpenedAt time.Time    `json:"opened_at"`
	OpenedBy string       `json:"opened_by"`
	ClosedAt *time.Time   `json:"closed_at"`
	Totals   *ShiftTotals `json:"totals"`
}

// Open reports whether the shift has not been closed.
func (s Shift) Open() bool {
	return s.ClosedAt == nil
}

// TableTotals aggregates one table within a shift.
type TableTotals struct {
	Ms     int64           `json:"ms"`
	Amount decimal.Decimal `json:"amount"`
	Games  int             `json:"games"`
}

// PaymentTotals splits revenue by payment method.
type PaymentTotals struct {
	Cash decimal.Decimal `json:"cash"`
	Card decimal.Decimal `json:"card"`
}

// ShiftTotals are computed once at close and never change afterwards.
type ShiftTotals struct {
	TotalAmount decimal.Decimal        `json:"total_amount"`
	TotalMs     int64                  `json:"total_ms"`
	Count       int                    `json:"count"`
	ByTable     map[string]TableTotals `json:"by_table"`
	Payments    PaymentTotals          `json:"payments"`
}

// Operator is a staff account allowed to drive the POS.
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
