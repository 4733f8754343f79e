package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the normalized payment state of an order.
type OrderStatus string

const (
	OrderNew        OrderStatus = "new"
	OrderProcessing OrderStatus = "processing"
	OrderSuccess    OrderStatus = "success"
	OrderFailed     OrderStatus = "failed"
	OrderExpired    OrderStatus = "expired"
	OrderReversed   OrderStatus = "reversed"
)

// Terminal reports whether the provider will not move the order any further.
// Reversed is the only state reachable from success.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFailed, OrderExpired, OrderReversed:
		return true
	}
	return false
}

// Order tracks one license purchase and its provider invoice.
type Order struct {
	ID          string          `json:"id"`
	MachineID   string          `json:"mid"`
	Tier        string          `json:"tier"`
	Days        int             `json:"days"`
	Amount      decimal.Decimal `json:"amount"`
	Status      OrderStatus     `json:"status"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
	Token       string          `json:"-"`
	License     *string         `json:"license"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Licensed reports whether a license has been issued for the order.
func (o *Order) Licensed() bool {
	return o.License != nil && *o.License != ""
}

// Invoice is what the payment provider returns for a new payment.
type Invoice struct {
	ID          string
	CheckoutURL string
}

// InvoiceStatus is a provider status report translated to our vocabulary.
type InvoiceStatus struct {
	InvoiceID     string
	Reference     string
	Status        OrderStatus
	FailureReason string
	ModifiedAt    time.Time
}
