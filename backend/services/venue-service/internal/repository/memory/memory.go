// Package memory keeps venue state in process memory. It backs tests and the
// "memory" storage driver and follows the same contracts as the Postgres repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/repository"
)

// TableRepository stores tables.
type TableRepository struct {
	mu     sync.RWMutex
	tables map[string]models.Table
	order  []string
}

// NewTableRepository returns an empty repository.
func NewTableRepository() *TableRepository {
	return &TableRepository{tables: make(map[string]models.Table)}
}

func (r *TableRepository) List(_ context.Context) ([]models.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Table, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tables[id].Clone())
	}
	return out, nil
}

func (r *TableRepository) Save(_ context.Context, tables ...*models.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, table := range tables {
		if _, ok := r.tables[table.ID]; !ok {
			r.order = append(r.order, table.ID)
		}
		r.tables[table.ID] = table.Clone()
	}
	return nil
}

func (r *TableRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.tables, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// CustomerRepository stores loyalty accounts.
type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]models.Customer
	now       func() time.Time
}

// NewCustomerRepository returns an empty repository.
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{customers: make(map[string]models.Customer), now: time.Now}
}

func (r *CustomerRepository) Create(_ context.Context, c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.customers[c.ID]; exists {
		return repository.ErrConflict
	}
	if c.Phone != "" {
		for _, other := range r.customers {
			if other.Phone == c.Phone {
				return repository.ErrConflict
			}
		}
	}
	now := r.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.customers[c.ID] = *c
	return nil
}

func (r *CustomerRepository) Get(_ context.Context, id string) (*models.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *CustomerRepository) GetMany(_ context.Context, ids []string) ([]models.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Customer, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.customers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *CustomerRepository) List(_ context.Context, query string, limit int) ([]models.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Customer, 0, len(r.customers))
	for _, c := range r.customers {
		if query != "" && !strings.Contains(strings.ToLower(c.Name), query) && !strings.Contains(c.Phone, query) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyBonus validates every change before applying any of them.
func (r *CustomerRepository) ApplyBonus(_ context.Context, changes []models.BonusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]models.Customer, len(changes))
	for _, ch := range changes {
		c, ok := next[ch.CustomerID]
		if !ok {
			c, ok = r.customers[ch.CustomerID]
			if !ok {
				return repository.ErrNotFound
			}
		}
		c.BonusBalance = c.BonusBalance.Add(ch.Balance)
		if c.BonusBalance.IsNegative() {
			return repository.ErrInsufficientBalance
		}
		c.BonusEarned = c.BonusEarned.Add(ch.Earned)
		c.BonusSpent = c.BonusSpent.Add(ch.Spent)
		c.Visits += ch.Visits
		c.TotalSpent = c.TotalSpent.Add(ch.TotalSpent)
		c.UpdatedAt = r.now().UTC()
		next[ch.CustomerID] = c
	}
	for id, c := range next {
		r.customers[id] = c
	}
	return nil
}

// RecordRepository is an append-only record log.
type RecordRepository struct {
	mu      sync.RWMutex
	records []models.SessionRecord
	ids     map[string]struct{}
}

// NewRecordRepository returns an empty log.
func NewRecordRepository() *RecordRepository {
	return &RecordRepository{ids: make(map[string]struct{})}
}

// Append stores rec once; repeating an append with the same id is a no-op.
func (r *RecordRepository) Append(_ context.Context, rec *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ids[rec.ID]; dup {
		return nil
	}
	r.ids[rec.ID] = struct{}{}
	r.records = append(r.records, *rec)
	return nil
}

func (r *RecordRepository) ListByShift(_ context.Context, shiftID string) ([]models.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.SessionRecord
	for _, rec := range r.records {
		if rec.ShiftID != nil && *rec.ShiftID == shiftID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListBetween returns records finished in [from, to).
func (r *RecordRepository) ListBetween(_ context.Context, from, to time.Time) ([]models.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.SessionRecord
	for _, rec := range r.records {
		if !rec.FinishedAt.Before(from) && rec.FinishedAt.Before(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ShiftRepository stores shifts.
type ShiftRepository struct {
	mu     sync.RWMutex
	shifts []models.Shift
}

// NewShiftRepository returns an empty repository.
func NewShiftRepository() *ShiftRepository {
	return &ShiftRepository{}
}

func (r *ShiftRepository) GetOpen(_ context.Context) (*models.Shift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.shifts) - 1; i >= 0; i-- {
		if r.shifts[i].Open() {
			s := r.shifts[i]
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *ShiftRepository) Get(_ context.Context, id string) (*models.Shift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.shifts {
		if s.ID == id {
			out := s
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *ShiftRepository) Create(_ context.Context, shift *models.Shift) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shifts {
		if s.Open() || s.ID == shift.ID {
			return repository.ErrConflict
		}
	}
	r.shifts = append(r.shifts, *shift)
	return nil
}

// Close stores closedAt and totals of an open shift.
func (r *ShiftRepository) Close(_ context.Context, shift *models.Shift) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.shifts {
		if s.ID != shift.ID {
			continue
		}
		if !s.Open() {
			return repository.ErrConflict
		}
		r.shifts[i] = *shift
		return nil
	}
	return repository.ErrNotFound
}

// List returns closed and open shifts, newest first.
func (r *ShiftRepository) List(_ context.Context, limit int) ([]models.Shift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Shift, 0, len(r.shifts))
	for i := len(r.shifts) - 1; i >= 0; i-- {
		out = append(out, r.shifts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// TariffRepository keeps tariff versions; the last saved one is active.
type TariffRepository struct {
	mu       sync.RWMutex
	versions []models.Tariff
	now      func() time.Time
}

// NewTariffRepository returns an empty repository.
func NewTariffRepository() *TariffRepository {
	return &TariffRepository{now: time.Now}
}

func (r *TariffRepository) GetActive(_ context.Context) (*models.Tariff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.versions) == 0 {
		return nil, repository.ErrNotFound
	}
	t := r.versions[len(r.versions)-1]
	return &t, nil
}

func (r *TariffRepository) Save(_ context.Context, tariff *models.Tariff) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tariff.UpdatedAt = r.now().UTC()
	r.versions = append(r.versions, *tariff)
	return nil
}

// OperatorRepository stores staff accounts.
type OperatorRepository struct {
	mu        sync.RWMutex
	operators map[string]models.Operator
}

// NewOperatorRepository returns an empty repository.
func NewOperatorRepository() *OperatorRepository {
	return &OperatorRepository{operators: make(map[string]models.Operator)}
}

func (r *OperatorRepository) Create(_ context.Context, op *models.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.operators[op.Username]; exists {
		return repository.ErrConflict
	}
	op.CreatedAt = time.Now().UTC()
	r.operators[op.Username] = *op
	return nil
}

func (r *OperatorRepository) GetByUsername(_ context.Context, username string) (*models.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operators[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &op, nil
}
