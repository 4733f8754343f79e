package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/repository/memory"
)

func seedCustomers(t *testing.T, balances map[string]string) *memory.CustomerRepository {
	t.Helper()
	repo := memory.NewCustomerRepository()
	for id, balance := range balances {
		c := &models.Customer{ID: id, Name: id, BonusBalance: dec(balance)}
		if err := repo.Create(context.Background(), c); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return repo
}

func balanceOf(t *testing.T, repo *memory.CustomerRepository, id string) decimal.Decimal {
	t.Helper()
	c, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return c.BonusBalance
}

func TestSpendTwoPassScenario(t *testing.T) {
	repo := seedCustomers(t, map[string]string{"a": "30", "b": "10"})
	ledger := NewBonusLedger(repo, nil)

	spent, err := ledger.Spend(context.Background(), []string{"a", "b"}, dec("50"))
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if !spent.Equal(dec("40")) {
		t.Fatalf("expected 40 spent, got %s", spent)
	}
	if !balanceOf(t, repo, "a").IsZero() || !balanceOf(t, repo, "b").IsZero() {
		t.Fatalf("both balances should be exhausted")
	}
	a, _ := repo.Get(context.Background(), "a")
	if !a.BonusSpent.Equal(dec("30")) {
		t.Fatalf("expected a.spent 30, got %s", a.BonusSpent)
	}
}

func TestSpendCases(t *testing.T) {
	cases := []struct {
		name      string
		balances  map[string]string
		ids       []string
		request   string
		wantSpent string
		wantAfter map[string]string
	}{
		{
			name:      "even split",
			balances:  map[string]string{"a": "100", "b": "100"},
			ids:       []string{"a", "b"},
			request:   "60",
			wantSpent: "60",
			wantAfter: map[string]string{"a": "70", "b": "70"},
		},
		{
			name:      "remainder goes to headroom in list order",
			balances:  map[string]string{"a": "5", "b": "50", "c": "50"},
			ids:       []string{"a", "b", "c"},
			request:   "60",
			wantSpent: "60",
			wantAfter: map[string]string{"a": "0", "b": "15", "c": "30"},
		},
		{
			name:      "odd cents",
			balances:  map[string]string{"a": "10", "b": "10", "c": "10"},
			ids:       []string{"a", "b", "c"},
			request:   "10",
			wantSpent: "10",
			wantAfter: map[string]string{"a": "6.66", "b": "6.67", "c": "6.67"},
		},
		{
			name:      "unknown and duplicate ids skipped",
			balances:  map[string]string{"a": "10"},
			ids:       []string{"ghost", "a", "a"},
			request:   "4",
			wantSpent: "4",
			wantAfter: map[string]string{"a": "6"},
		},
		{
			name:      "nothing to spend",
			balances:  map[string]string{"a": "0"},
			ids:       []string{"a"},
			request:   "4",
			wantSpent: "0",
			wantAfter: map[string]string{"a": "0"},
		},
		{
			name:      "request rounded half up",
			balances:  map[string]string{"a": "10"},
			ids:       []string{"a"},
			request:   "1.005",
			wantSpent: "1.01",
			wantAfter: map[string]string{"a": "8.99"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := seedCustomers(t, tc.balances)
			ledger := NewBonusLedger(repo, nil)
			spent, err := ledger.Spend(context.Background(), tc.ids, dec(tc.request))
			if err != nil {
				t.Fatalf("spend: %v", err)
			}
			if !spent.Equal(dec(tc.wantSpent)) {
				t.Fatalf("spent %s, want %s", spent, tc.wantSpent)
			}
			for id, want := range tc.wantAfter {
				if got := balanceOf(t, repo, id); !got.Equal(dec(want)) {
					t.Fatalf("%s balance %s, want %s", id, got, want)
				}
			}
		})
	}
}

func TestSpendNeverOverdraws(t *testing.T) {
	balanceSets := [][]string{
		{"0.01", "0.02", "100"},
		{"33.33", "33.33", "33.34"},
		{"7", "0", "0", "1.5"},
		{"250"},
	}
	requests := []string{"0.01", "0.05", "10", "66.67", "100", "1000"}

	for _, set := range balanceSets {
		for _, request := range requests {
			balances := make(map[string]string)
			ids := make([]string, 0, len(set))
			total := decimal.Zero
			for i, b := range set {
				id := string(rune('a' + i))
				balances[id] = b
				ids = append(ids, id)
				total = total.Add(dec(b))
			}
			repo := seedCustomers(t, balances)
			spent, err := NewBonusLedger(repo, nil).Spend(context.Background(), ids, dec(request))
			if err != nil {
				t.Fatalf("spend: %v", err)
			}
			want := decimal.Min(dec(request), total)
			if !spent.Equal(want) {
				t.Fatalf("balances %v request %s: spent %s, want %s", set, request, spent, want)
			}
			after := decimal.Zero
			for _, id := range ids {
				b := balanceOf(t, repo, id)
				if b.IsNegative() {
					t.Fatalf("balance of %s went negative: %s", id, b)
				}
				after = after.Add(b)
			}
			if !total.Sub(after).Equal(spent) {
				t.Fatalf("ledger drift: before %s after %s spent %s", total, after, spent)
			}
		}
	}
}

type failingCustomerStore struct {
	*memory.CustomerRepository
	err error
}

func (f failingCustomerStore) ApplyBonus(context.Context, []models.BonusChange) error {
	return f.err
}

func TestSpendStoreFailureTakesNothing(t *testing.T) {
	repo := seedCustomers(t, map[string]string{"a": "10"})
	boom := errors.New("disk full")
	spent, err := NewBonusLedger(failingCustomerStore{repo, boom}, nil).Spend(context.Background(), []string{"a"}, dec("5"))
	if !errors.Is(err, boom) || !spent.IsZero() {
		t.Fatalf("expected failure with nothing spent, got %s / %v", spent, err)
	}
	if !balanceOf(t, repo, "a").Equal(dec("10")) {
		t.Fatalf("balance must be untouched")
	}
}

func TestEarnSplitsEvenly(t *testing.T) {
	repo := seedCustomers(t, map[string]string{"a": "0", "b": "1"})
	per, err := NewBonusLedger(repo, nil).Earn(context.Background(), []string{"a", "b", "ghost"}, dec("25"))
	if err != nil {
		t.Fatalf("earn: %v", err)
	}
	if !per.Equal(dec("12.5")) {
		t.Fatalf("expected 12.50 each, got %s", per)
	}
	b, _ := repo.Get(context.Background(), "b")
	if !b.BonusBalance.Equal(dec("13.5")) || !b.BonusEarned.Equal(dec("12.5")) {
		t.Fatalf("unexpected b: %+v", b)
	}
}

func TestRecordVisitsAndAdd(t *testing.T) {
	repo := seedCustomers(t, map[string]string{"a": "0", "b": "0"})
	ledger := NewBonusLedger(repo, nil)
	if err := ledger.RecordVisits(context.Background(), []string{"a", "b"}, dec("301")); err != nil {
		t.Fatalf("visits: %v", err)
	}
	a, _ := repo.Get(context.Background(), "a")
	if a.Visits != 1 || !a.TotalSpent.Equal(dec("150.5")) {
		t.Fatalf("unexpected a: %+v", a)
	}

	if err := ledger.Add(context.Background(), "a", dec("20")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !balanceOf(t, repo, "a").Equal(dec("20")) {
		t.Fatalf("top-up not applied")
	}
	if err := ledger.Add(context.Background(), "ghost", dec("20")); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := ledger.Add(context.Background(), "a", dec("-1")); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
