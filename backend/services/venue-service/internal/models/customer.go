package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a loyalty account.
type Customer struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	BonusBalance decimal.Decimal `json:"bonus_balance"`
	BonusEarned  decimal.Decimal `json:"bonus_earned"`
	BonusSpent   decimal.Decimal `json:"bonus_spent"`
	Visits       int             `json:"visits"`
	TotalSpent   decimal.Decimal `json:"total_spent"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BonusChange is a set of deltas applied to one customer.
type BonusChange struct {
	CustomerID string
	Balance    decimal.Decimal
	Earned     decimal.Decimal
	Spent      decimal.Decimal
	Visits     int
	TotalSpent decimal.Decimal
}
