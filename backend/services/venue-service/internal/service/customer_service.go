package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/repository"
)

// CustomerRepository stores loyalty accounts.
type CustomerRepository interface {
	CustomerStore
	Create(ctx context.Context, c *models.Customer) error
	Get(ctx context.Context, id string) (*models.Customer, error)
	List(ctx context.Context, query string, limit int) ([]models.Customer, error)
}

// CustomerService manages loyalty accounts.
type CustomerService struct {
	repo   CustomerRepository
	ledger *BonusLedger
	logger *zap.Logger
}

// NewCustomerService builds CustomerService.
func NewCustomerService(repo CustomerRepository, ledger *BonusLedger, logger *zap.Logger) *CustomerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerService{repo: repo, ledger: ledger, logger: logger}
}

// Create registers a customer with an optional opening balance.
func (s *CustomerService) Create(ctx context.Context, name, phone string, openingBalance decimal.Decimal) (*models.Customer, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" {
		return nil, invalid("name", "required")
	}
	if openingBalance.IsNegative() {
		return nil, invalid("bonus_balance", "must not be negative")
	}

	c := &models.Customer{
		ID:           uuid.NewString(),
		Name:         name,
		Phone:        phone,
		BonusBalance: openingBalance.Round(2),
		BonusEarned:  openingBalance.Round(2),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, invalid("phone", "already registered")
		}
		return nil, err
	}
	s.logger.Info("customer created", zap.String("customer_id", c.ID))
	return c, nil
}

// Get returns one customer.
func (s *CustomerService) Get(ctx context.Context, id string) (*models.Customer, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

// List searches customers by name or phone.
func (s *CustomerService) List(ctx context.Context, query string, limit int) ([]models.Customer, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, query, limit)
}

// AddBonus tops up a balance and returns the updated customer.
func (s *CustomerService) AddBonus(ctx context.Context, id string, amount decimal.Decimal) (*models.Customer, error) {
	if err := s.ledger.Add(ctx, id, amount); err != nil {
		return nil, err
	}
	s.logger.Info("bonus topped up", zap.String("customer_id", id), zap.String("amount", amount.String()))
	return s.Get(ctx, id)
}
