package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/libs/money"
	"cuehall/backend/services/venue-service/internal/models"
)

const dayLayout = "2006-01-02"

// DayStatsCache is a best-effort index of per-day revenue. Add bumps the day
// generation and only counts into a day that is already indexed. Put stores a
// day built from the record log unless the generation moved since it was read.
type DayStatsCache interface {
	Add(ctx context.Context, date string, rec models.SessionRecord) error
	Invalidate(ctx context.Context, date string) error
	Generation(ctx context.Context, date string) (int64, error)
	Put(ctx context.Context, stats models.DayStats, recordIDs []string, gen int64) error
	Get(ctx context.Context, date string) (*models.DayStats, error)
}

// StatsService answers day revenue questions from the cache, falling back to the record log.
type StatsService struct {
	records RecordStore
	cache   DayStatsCache
	loc     *time.Location
	clock   Clock
	logger  *zap.Logger
}

// NewStatsService builds StatsService. cache may be nil.
func NewStatsService(records RecordStore, cache DayStatsCache, loc *time.Location, clock Clock, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &StatsService{records: records, cache: cache, loc: loc, clock: clock, logger: logger}
}

// Day returns the stats of a venue-local day. An empty date means today.
func (s *StatsService) Day(ctx context.Context, date string) (models.DayStats, error) {
	var day time.Time
	if date == "" {
		now := s.clock.Now().In(s.loc)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	} else {
		parsed, err := time.ParseInLocation(dayLayout, date, s.loc)
		if err != nil {
			return models.DayStats{}, invalid("date", "expected YYYY-MM-DD")
		}
		day = parsed
	}
	key := day.Format(dayLayout)

	backfill := false
	var gen int64
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err == nil {
			return *cached, nil
		}
		s.logger.Debug("day stats cache miss", zap.String("date", key), zap.Error(err))
		if gen, err = s.cache.Generation(ctx, key); err == nil {
			backfill = true
		}
	}

	records, err := s.records.ListBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return models.DayStats{}, err
	}
	stats := ComputeDayStats(key, records)

	if backfill {
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
		if err := s.cache.Put(ctx, stats, ids, gen); err != nil {
			s.logger.Warn("day stats backfill failed", zap.String("date", key), zap.Error(err))
		}
	}
	return stats, nil
}

// Index counts a finalized record into its day bucket. On failure the bucket
// is dropped so the day is rebuilt from the record log on the next read.
func (s *StatsService) Index(ctx context.Context, rec models.SessionRecord) {
	if s.cache == nil {
		return
	}
	date := rec.FinishedAt.In(s.loc).Format(dayLayout)
	err := s.cache.Add(ctx, date, rec)
	if err == nil {
		return
	}
	s.logger.Warn("day stats index failed", zap.String("record_id", rec.ID), zap.String("date", date), zap.Error(err))
	if err := s.cache.Invalidate(ctx, date); err != nil {
		s.logger.Error("day stats bucket left stale", zap.String("date", date), zap.Error(err))
	}
}

// ComputeDayStats sums records into one day bucket.
func ComputeDayStats(date string, records []models.SessionRecord) models.DayStats {
	stats := models.DayStats{Date: date, Amount: decimal.Zero, Cash: decimal.Zero, Card: decimal.Zero}
	for _, rec := range records {
		stats.Count++
		stats.TotalMs += rec.DurationMs
		stats.Amount = stats.Amount.Add(rec.Amount)
		if rec.PaymentMethod == models.PaymentCard {
			stats.Card = stats.Card.Add(rec.Amount)
		} else {
			stats.Cash = stats.Cash.Add(rec.Amount)
		}
	}
	stats.Amount = money.Round2(stats.Amount)
	stats.Cash = money.Round2(stats.Cash)
	stats.Card = money.Round2(stats.Card)
	return stats
}
