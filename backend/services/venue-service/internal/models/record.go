package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted at finalize.
const (
	PaymentCash = "cash"
	PaymentCard = "card"
)

// PlayerSnapshot freezes a player as seen at finalize.
type PlayerSnapshot struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// SessionRecord is the immutable result of one finalized table session.
// Amount equals GameAmount plus RentalsAmount; GameAmount is gross minus bonus used.
type SessionRecord struct {
	ID            string           `json:"id"`
	TableID       string           `json:"table_id"`
	TableName     string           `json:"table_name"`
	Intervals     []Interval       `json:"intervals"`
	Rentals       []Rental         `json:"rentals"`
	GrossAmount   decimal.Decimal  `json:"gross_amount"`
	BonusUsed     decimal.Decimal  `json:"bonus_used"`
	BonusEarned   decimal.Decimal  `json:"bonus_earned"`
	GameAmount    decimal.Decimal  `json:"game_amount"`
	RentalsAmount decimal.Decimal  `json:"rentals_amount"`
	Amount        decimal.Decimal  `json:"amount"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	DurationMs    int64            `json:"duration_ms"`
	ShiftID       *string          `json:"shift_id"`
	Players       []PlayerSnapshot `json:"players"`
	PaymentMethod string           `json:"payment_method"`
	Operator      string           `json:"operator"`
}

// Receipt is the printable view of a record handed to the receipt renderer.
type Receipt struct {
	TableName     string          `json:"table_name"`
	Intervals     []Interval      `json:"intervals"`
	Rentals       []Rental        `json:"rentals"`
	GameAmount    decimal.Decimal `json:"game_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OperatorName  string          `json:"operator_name"`
	TotalMs       int64           `json:"total_ms"`
	BaseTariff    decimal.Decimal `json:"base_tariff"`
	PaymentMethod string          `json:"payment_method"`
}

// NewReceipt derives the receipt for a record.
func NewReceipt(rec SessionRecord, baseRate decimal.Decimal) Receipt {
	return Receipt{
		TableName:     rec.TableName,
		Intervals:     rec.Intervals,
		Rentals:       rec.Rentals,
		GameAmount:    rec.GameAmount,
		TotalAmount:   rec.Amount,
		OperatorName:  rec.Operator,
		TotalMs:       rec.DurationMs,
		BaseTariff:    baseRate,
		PaymentMethod: rec.PaymentMethod,
	}
}

// DayStats summarises the records finished on one local day.
type DayStats struct {
	Date    string          `json:"date"`
	Count   int64           `json:"count"`
	Amount  decimal.Decimal `json:"amount"`
	TotalMs int64           `json:"total_ms"`
	Cash    decimal.Decimal `json:"cash"`
	Card    decimal.Decimal `json:"card"`
}
