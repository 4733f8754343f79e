package models

import "github.com/shopspring/decimal"

// Plan is a purchasable license: a tier for a number of days at a price.
type Plan struct {
	Tier   string          `json:"tier"`
	Days   int             `json:"days"`
	Amount decimal.Decimal `json:"amount"`
}
