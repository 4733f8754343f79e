package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"cuehall/backend/services/license-service/internal/models"
)

// PlanCatalog is the price list of purchasable licenses.
type PlanCatalog struct {
	plans []models.Plan
}

// ParsePlans reads entries of the form "tier:days:amount".
func ParsePlans(entries []string) (*PlanCatalog, error) {
	catalog := &PlanCatalog{}
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("plan %q: want tier:days:amount", entry)
		}
		tier := strings.ToLower(strings.TrimSpace(parts[0]))
		days, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("plan %q: days must be a positive integer", entry)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("plan %q: amount must be positive", entry)
		}
		if tier == "" {
			return nil, fmt.Errorf("plan %q: tier required", entry)
		}
		if _, ok := catalog.Find(tier, days); ok {
			return nil, fmt.Errorf("plan %q: duplicate", entry)
		}
		catalog.plans = append(catalog.plans, models.Plan{Tier: tier, Days: days, Amount: amount})
	}
	if len(catalog.plans) == 0 {
		return nil, fmt.Errorf("no plans configured")
	}
	return catalog, nil
}

// Find looks up the plan for tier and days.
func (c *PlanCatalog) Find(tier string, days int) (models.Plan, bool) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	for _, p := range c.plans {
		if p.Tier == tier && p.Days == days {
			return p, true
		}
	}
	return models.Plan{}, false
}

// All returns the configured plans in declaration order.
func (c *PlanCatalog) All() []models.Plan {
	return append([]models.Plan(nil), c.plans...)
}
