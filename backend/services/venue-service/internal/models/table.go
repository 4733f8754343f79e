package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Table states derived from the timeline.
const (
	TableOff    = "off"
	TableOn     = "on"
	TablePaused = "paused"
)

// MaxPlayers bounds the player set of one table.
const MaxPlayers = 4

// Rental is an extra item (cue, snack) billed with the game.
type Rental struct {
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	AddedAt time.Time       `json:"added_at"`
}

// Table is one billiards table and its running session.
type Table struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	RelayChannel    int             `json:"relay_channel"`
	Timeline        Timeline        `json:"timeline"`
	BonusMode       bool            `json:"bonus_mode"`
	BonusCap        decimal.Decimal `json:"bonus_cap"`
	BonusBaseAmount decimal.Decimal `json:"bonus_base_amount"`
	BonusSpent      decimal.Decimal `json:"bonus_spent"`
	BonusExhausted  bool            `json:"bonus_exhausted"`
	Players         []string        `json:"players"`
	Rentals         []Rental        `json:"rentals"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// State reports off, on or paused.
func (t Table) State() string {
	switch {
	case t.Timeline.IsOn:
		return TableOn
	case len(t.Timeline.Intervals) > 0:
		return TablePaused
	default:
		return TableOff
	}
}

// Idle reports whether the table carries no session at all.
func (t Table) Idle() bool {
	return t.Timeline.Empty() && len(t.Players) == 0 && len(t.Rentals) == 0
}

// ClearSession resets the table back to blank, keeping identity and wiring.
func (t *Table) ClearSession() {
	t.Timeline.Reset()
	t.BonusMode = false
	t.BonusCap = decimal.Zero
	t.BonusBaseAmount = decimal.Zero
	t.BonusSpent = decimal.Zero
	t.BonusExhausted = false
	t.Players = nil
	t.Rentals = nil
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := t
	out.Timeline = t.Timeline.Clone()
	if t.Players != nil {
		out.Players = append([]string(nil), t.Players...)
	}
	if t.Rentals != nil {
		out.Rentals = append([]Rental(nil), t.Rentals...)
	}
	return out
}

// TableView is a table plus the figures derived at a point in time.
type TableView struct {
	Table
	State          string          `json:"state"`
	ElapsedMs      int64           `json:"elapsed_ms"`
	Cost           decimal.Decimal `json:"cost"`
	CurrentRate    decimal.Decimal `json:"current_rate"`
	BonusRemaining decimal.Decimal `json:"bonus_remaining"`
	RentalsAmount  decimal.Decimal `json:"rentals_amount"`
	AsOf           time.Time       `json:"as_of"`
}
