package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/repository"
)

// TariffRepository stores tariff versions.
type TariffRepository interface {
	GetActive(ctx context.Context) (*models.Tariff, error)
	Save(ctx context.Context, tariff *models.Tariff) error
}

// TariffService owns the active rate schedule, falling back to the configured default.
type TariffService struct {
	repo          TariffRepository
	loc           *time.Location
	defaultTariff models.Tariff
	logger        *zap.Logger

	mu      sync.RWMutex
	current *RateSchedule
}

// NewTariffService validates the default tariff and starts from it.
func NewTariffService(repo TariffRepository, defaultTariff models.Tariff, loc *time.Location, logger *zap.Logger) (*TariffService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule, err := NewRateSchedule(defaultTariff, loc)
	if err != nil {
		return nil, err
	}
	return &TariffService{
		repo:          repo,
		loc:           schedule.Location(),
		defaultTariff: defaultTariff,
		logger:        logger,
		current:       schedule,
	}, nil
}

// Load replaces the default with the stored tariff, if any.
func (s *TariffService) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	tariff, err := s.repo.GetActive(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("no stored tariff, using default", zap.String("base_rate", s.defaultTariff.BaseRate.String()))
			return nil
		}
		return err
	}
	schedule, err := NewRateSchedule(*tariff, s.loc)
	if err != nil {
		s.logger.Warn("stored tariff invalid, using default", zap.Error(err))
		return nil
	}
	s.swap(schedule)
	return nil
}

// Schedule returns the active rate schedule.
func (s *TariffService) Schedule() *RateSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Price implements models.Pricer against the active schedule.
func (s *TariffService) Price(start, end time.Time) decimal.Decimal {
	return s.Schedule().Price(start, end)
}

// Update validates, persists and activates tariff.
func (s *TariffService) Update(ctx context.Context, tariff models.Tariff) (*RateSchedule, error) {
	schedule, err := NewRateSchedule(tariff, s.loc)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, &tariff); err != nil {
			return nil, &PersistenceError{Op: "save tariff", Err: err}
		}
		schedule.tariff = tariff
	}
	s.swap(schedule)
	s.logger.Info("tariff updated",
		zap.String("base_rate", tariff.BaseRate.String()),
		zap.Int("rules", len(tariff.Rules)),
	)
	return schedule, nil
}

func (s *TariffService) swap(schedule *RateSchedule) {
	s.mu.Lock()
	s.current = schedule
	s.mu.Unlock()
}
