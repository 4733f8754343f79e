package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/libs/money"
	"cuehall/backend/services/venue-service/internal/event"
	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/repository"
)

// ShiftStore persists shifts. Close must only succeed for a shift that is still open.
type ShiftStore interface {
	GetOpen(ctx context.Context) (*models.Shift, error)
	Get(ctx context.Context, id string) (*models.Shift, error)
	Create(ctx context.Context, shift *models.Shift) error
	Close(ctx context.Context, shift *models.Shift) error
	List(ctx context.Context, limit int) ([]models.Shift, error)
}

// Sweeper pauses every lit table and can run fn while no table changes state.
type Sweeper interface {
	PauseAll(ctx context.Context) (int, error)
	Hold(fn func() error) error
}

// ShiftService tracks the single open shift and closes it into immutable totals.
type ShiftService struct {
	store   ShiftStore
	records RecordStore
	events  Publisher
	clock   Clock
	logger  *zap.Logger

	sweeper Sweeper
	closeMu sync.Mutex

	mu      sync.RWMutex
	current *models.Shift
	closing bool
}

// NewShiftService builds the service with no shift open.
func NewShiftService(store ShiftStore, records RecordStore, events Publisher, clock Clock, logger *zap.Logger) *ShiftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ShiftService{store: store, records: records, events: events, clock: clock, logger: logger}
}

// UseSweeper sets the component that pauses tables on close.
func (s *ShiftService) UseSweeper(sweeper Sweeper) {
	s.sweeper = sweeper
}

// Restore picks up a shift left open by a previous process.
func (s *ShiftService) Restore(ctx context.Context) error {
	shift, err := s.store.GetOpen(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.current = shift
	s.mu.Unlock()
	s.logger.Info("open shift restored", zap.String("shift_id", shift.ID), zap.String("opened_by", shift.OpenedBy))
	return nil
}

// CurrentShift returns a copy of the open shift, or nil.
func (s *ShiftService) CurrentShift() *models.Shift {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	out := *s.current
	return &out
}

// AcceptingSessions reports whether a table may start billing: a shift is
// open and not being closed.
func (s *ShiftService) AcceptingSessions() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && !s.closing
}

// Open starts a shift for user.
func (s *ShiftService) Open(ctx context.Context, user string) (*models.Shift, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, invalid("user", "required")
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, precondition(ErrShiftAlreadyOpen)
	}

	shift := &models.Shift{ID: uuid.NewString(), OpenedAt: s.clock.Now(), OpenedBy: user}
	if err := s.store.Create(ctx, shift); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, precondition(ErrShiftAlreadyOpen)
		}
		return nil, &PersistenceError{Op: "open shift", Err: err}
	}
	s.current = shift
	s.logger.Info("shift opened", zap.String("shift_id", shift.ID), zap.String("opened_by", user))

	out := *shift
	if s.events != nil {
		s.events.Publish(event.ShiftOpened, out)
	}
	return &out, nil
}

// Close pauses every lit table, sums the shift's records and stores the totals.
// While closing, no table may light up but finalized sessions still belong to
// the shift. Totals are taken with billing held, so every record stamped with
// the shift id is counted. The shift stays open when the totals cannot be stored.
func (s *ShiftService) Close(ctx context.Context) (*models.Shift, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	s.mu.Lock()
	shift := s.current
	if shift == nil {
		s.mu.Unlock()
		return nil, precondition(ErrNoOpenShift)
	}
	s.closing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.closing = false
		s.mu.Unlock()
	}()

	if s.sweeper != nil {
		paused, err := s.sweeper.PauseAll(ctx)
		if err != nil {
			s.logger.Warn("relay errors while pausing tables for shift close", zap.Error(err))
		}
		if paused > 0 {
			s.logger.Info("tables paused for shift close", zap.Int("count", paused))
		}
	}

	var closed models.Shift
	err := s.hold(func() error {
		now := s.clock.Now()
		records, err := s.records.ListByShift(ctx, shift.ID)
		if err != nil {
			return &PersistenceError{Op: "load shift records", Err: err}
		}
		closed = *shift
		totals := ComputeTotals(records, now)
		closed.ClosedAt = &now
		closed.Totals = &totals
		if err := s.closeWithRetry(ctx, &closed); err != nil {
			return err
		}
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("shift closed",
		zap.String("shift_id", closed.ID),
		zap.String("total_amount", closed.Totals.TotalAmount.String()),
		zap.Int("count", closed.Totals.Count),
	)
	if s.events != nil {
		s.events.Publish(event.ShiftClosed, closed)
	}
	return &closed, nil
}

func (s *ShiftService) hold(fn func() error) error {
	if s.sweeper == nil {
		return fn()
	}
	return s.sweeper.Hold(fn)
}

func (s *ShiftService) closeWithRetry(ctx context.Context, shift *models.Shift) error {
	var err error
	for attempt := 1; attempt <= defaultRecordAttempts; attempt++ {
		if err = s.store.Close(ctx, shift); err == nil {
			return nil
		}
		s.logger.Warn("shift close write failed", zap.String("shift_id", shift.ID), zap.Int("attempt", attempt), zap.Error(err))
	}
	return &PersistenceError{Op: "close shift", Err: err}
}

// History returns recent shifts, newest first.
func (s *ShiftService) History(ctx context.Context, limit int) ([]models.Shift, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, limit)
}

// Records returns the finalized records of a shift.
func (s *ShiftService) Records(ctx context.Context, shiftID string) ([]models.SessionRecord, error) {
	if _, err := s.store.Get(ctx, shiftID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrShiftNotFound
		}
		return nil, err
	}
	return s.records.ListByShift(ctx, shiftID)
}

// ComputeTotals sums records finished at or before now.
func ComputeTotals(records []models.SessionRecord, now time.Time) models.ShiftTotals {
	totals := models.ShiftTotals{
		TotalAmount: decimal.Zero,
		ByTable:     make(map[string]models.TableTotals),
		Payments:    models.PaymentTotals{Cash: decimal.Zero, Card: decimal.Zero},
	}
	for _, rec := range records {
		if rec.FinishedAt.After(now) {
			continue
		}
		totals.TotalAmount = totals.TotalAmount.Add(rec.Amount)
		totals.TotalMs += rec.DurationMs
		totals.Count++

		byTable := totals.ByTable[rec.TableID]
		byTable.Ms += rec.DurationMs
		byTable.Amount = byTable.Amount.Add(rec.Amount)
		byTable.Games++
		totals.ByTable[rec.TableID] = byTable

		switch rec.PaymentMethod {
		case models.PaymentCard:
			totals.Payments.Card = totals.Payments.Card.Add(rec.Amount)
		default:
			totals.Payments.Cash = totals.Payments.Cash.Add(rec.Amount)
		}
	}
	totals.TotalAmount = money.Round2(totals.TotalAmount)
	totals.Payments.Cash = money.Round2(totals.Payments.Cash)
	totals.Payments.Card = money.Round2(totals.Payments.Card)
	return totals
}
