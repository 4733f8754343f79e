package service

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/libs/money"
	"cuehall/backend/services/venue-service/internal/models"
)

// CustomerStore is the persistence contract of the bonus ledger.
// ApplyBonus must apply every change or none.
type CustomerStore interface {
	GetMany(ctx context.Context, ids []string) ([]models.Customer, error)
	ApplyBonus(ctx context.Context, changes []models.BonusChange) error
}

// BonusLedger moves bonus credit in and out of customer accounts.
type BonusLedger struct {
	store  CustomerStore
	logger *zap.Logger
	mu     sync.Mutex
}

// NewBonusLedger builds the ledger.
func NewBonusLedger(store CustomerStore, logger *zap.Logger) *BonusLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BonusLedger{store: store, logger: logger}
}

// Customers loads ids in list order, dropping duplicates and unknown customers.
func (l *BonusLedger) Customers(ctx context.Context, ids []string) ([]models.Customer, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := l.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Customer, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]models.Customer, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Balance sums the current balances of ids.
func (l *BonusLedger) Balance(ctx context.Context, ids []string) (decimal.Decimal, error) {
	customers, err := l.Customers(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, c := range customers {
		total = total.Add(money.NonNegative(c.BonusBalance))
	}
	return money.Round2(total), nil
}

// Spend takes up to total from the customers and returns the amount actually taken.
// An even share (floored to cents) is taken from each first, capped by balance; the
// remainder is then taken in list order from whoever still has headroom.
func (l *BonusLedger) Spend(ctx context.Context, ids []string, total decimal.Decimal) (decimal.Decimal, error) {
	total = money.Round2(total)
	if !total.IsPositive() {
		return decimal.Zero, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	customers, err := l.Customers(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}
	if len(customers) == 0 {
		return decimal.Zero, nil
	}

	share := money.FloorCents(total.Div(decimal.NewFromInt(int64(len(customers)))))
	taken := make([]decimal.Decimal, len(customers))
	remaining := total
	for i, c := range customers {
		take := money.NonNegative(money.Min(share, money.Round2(c.BonusBalance)))
		taken[i] = take
		remaining = remaining.Sub(take)
	}
	for i, c := range customers {
		if !remaining.IsPositive() {
			break
		}
		headroom := money.Round2(c.BonusBalance).Sub(taken[i])
		if !headroom.IsPositive() {
			continue
		}
		extra := money.Min(headroom, remaining)
		taken[i] = taken[i].Add(extra)
		remaining = remaining.Sub(extra)
	}

	changes := make([]models.BonusChange, 0, len(customers))
	for i, c := range customers {
		if !taken[i].IsPositive() {
			continue
		}
		changes = append(changes, models.BonusChange{
			CustomerID: c.ID,
			Balance:    taken[i].Neg(),
			Spent:      taken[i],
		})
	}
	if len(changes) == 0 {
		return decimal.Zero, nil
	}
	if err := l.store.ApplyBonus(ctx, changes); err != nil {
		return decimal.Zero, err
	}

	spent := total.Sub(remaining)
	l.logger.Info("bonus spent",
		zap.Strings("customers", customerIDs(customers)),
		zap.String("requested", total.String()),
		zap.String("spent", spent.String()),
	)
	return spent, nil
}

// Earn credits round2(total/n) to each known customer and returns the per-customer credit.
func (l *BonusLedger) Earn(ctx context.Context, ids []string, total decimal.Decimal) (decimal.Decimal, error) {
	if !total.IsPositive() {
		return decimal.Zero, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	customers, err := l.Customers(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}
	if len(customers) == 0 {
		return decimal.Zero, nil
	}
	per := money.Round2(total.Div(decimal.NewFromInt(int64(len(customers)))))
	if !per.IsPositive() {
		return decimal.Zero, nil
	}

	changes := make([]models.BonusChange, 0, len(customers))
	for _, c := range customers {
		changes = append(changes, models.BonusChange{CustomerID: c.ID, Balance: per, Earned: per})
	}
	if err := l.store.ApplyBonus(ctx, changes); err != nil {
		return decimal.Zero, err
	}
	l.logger.Info("bonus earned",
		zap.Strings("customers", customerIDs(customers)),
		zap.String("per_customer", per.String()),
	)
	return per, nil
}

// RecordVisits counts one visit per known customer and adds their even share of net.
func (l *BonusLedger) RecordVisits(ctx context.Context, ids []string, net decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	customers, err := l.Customers(ctx, ids)
	if err != nil || len(customers) == 0 {
		return err
	}
	share := money.Round2(money.NonNegative(net).Div(decimal.NewFromInt(int64(len(customers)))))
	changes := make([]models.BonusChange, 0, len(customers))
	for _, c := range customers {
		changes = append(changes, models.BonusChange{CustomerID: c.ID, Visits: 1, TotalSpent: share})
	}
	return l.store.ApplyBonus(ctx, changes)
}

// Add is a manual top-up.
func (l *BonusLedger) Add(ctx context.Context, id string, amount decimal.Decimal) error {
	amount = money.Round2(amount)
	if !amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	customers, err := l.Customers(ctx, []string{id})
	if err != nil {
		return err
	}
	if len(customers) == 0 {
		return ErrCustomerNotFound
	}
	return l.store.ApplyBonus(ctx, []models.BonusChange{{CustomerID: id, Balance: amount, Earned: amount}})
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func customerIDs(customers []models.Customer) []string {
	out := make([]string, len(customers))
	for i, c := range customers {
		out[i] = c.ID
	}
	return out
}
