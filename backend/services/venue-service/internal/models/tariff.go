package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRule maps a weekday set and a local time range to an hourly rate.
// Days use 0 for Sunday. From/To are "HH:MM"; To may be "24:00" and From>To wraps past midnight.
type RateRule struct {
	Days []int           `json:"days" yaml:"days"`
	From string          `json:"from" yaml:"from"`
	To   string          `json:"to" yaml:"to"`
	Rate decimal.Decimal `json:"rate" yaml:"rate"`
}

// Tariff is the venue price list.
type Tariff struct {
	BaseRate  decimal.Decimal `json:"base_rate" yaml:"baseRate"`
	Rules     []RateRule      `json:"rules" yaml:"rules"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"-"`
}
