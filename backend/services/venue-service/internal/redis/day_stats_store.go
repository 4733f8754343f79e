package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cuehall/backend/services/venue-service/internal/models"
)

// ErrMiss is returned when a day has not been indexed.
var ErrMiss = errors.New("redis: day not indexed")

var hundred = decimal.NewFromInt(100)

// DayStatsStore keeps per-day revenue counters in a hash.
// Amounts are stored as integer cents.
type DayStatsStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDayStatsStore returns redis-backed store.
func NewDayStatsStore(client *redis.Client, ttl time.Duration) *DayStatsStore {
	if ttl <= 0 {
		ttl = 45 * 24 * time.Hour
	}
	return &DayStatsStore{client: client, ttl: ttl}
}

func (s *DayStatsStore) key(date string) string {
	return fmt.Sprintf("stats:day:%s", date)
}

func (s *DayStatsStore) idsKey(date string) string {
	return fmt.Sprintf("stats:day:%s:records", date)
}

func (s *DayStatsStore) genKey(date string) string {
	return fmt.Sprintf("stats:day:%s:gen", date)
}

// addScript bumps the day generation, then counts a record into an existing
// day bucket once. A missing bucket stays missing so the next read rebuilds it.
var addScript = redis.NewScript(`
redis.call('INCR', KEYS[3])
redis.call('PEXPIRE', KEYS[3], ARGV[5])
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 1
end
redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HINCRBY', KEYS[1], 'amount_cents', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'total_ms', ARGV[3])
redis.call('HINCRBY', KEYS[1], ARGV[4], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[5])
return 2
`)

// putScript replaces the day bucket unless a record was indexed since the
// generation the caller read.
var putScript = redis.NewScript(`
if tonumber(redis.call('GET', KEYS[3]) or '0') ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('HSET', KEYS[1], 'count', ARGV[2], 'amount_cents', ARGV[3], 'total_ms', ARGV[4], 'cash_cents', ARGV[5], 'card_cents', ARGV[6])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
for i = 8, #ARGV do
  redis.call('SADD', KEYS[2], ARGV[i])
end
if #ARGV >= 8 then
  redis.call('PEXPIRE', KEYS[2], ARGV[7])
end
return 1
`)

func (s *DayStatsStore) keys(date string) []string {
	return []string{s.key(date), s.idsKey(date), s.genKey(date)}
}

// Add counts rec into the day bucket once, if the day is already indexed.
func (s *DayStatsStore) Add(ctx context.Context, date string, rec models.SessionRecord) error {
	field := "cash_cents"
	if rec.PaymentMethod == models.PaymentCard {
		field = "card_cents"
	}
	return addScript.Run(ctx, s.client, s.keys(date),
		rec.ID, toCents(rec.Amount), rec.DurationMs, field, s.ttl.Milliseconds(),
	).Err()
}

// Invalidate drops the day bucket so the next read rebuilds it.
func (s *DayStatsStore) Invalidate(ctx context.Context, date string) error {
	return s.client.Del(ctx, s.key(date), s.idsKey(date)).Err()
}

// Generation returns the number of records indexed into date so far.
func (s *DayStatsStore) Generation(ctx context.Context, date string) (int64, error) {
	gen, err := s.client.Get(ctx, s.genKey(date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Put replaces the day bucket with stats built from the record log at
// generation gen. It is a no-op when a record was indexed after gen was read.
func (s *DayStatsStore) Put(ctx context.Context, stats models.DayStats, recordIDs []string, gen int64) error {
	args := []any{
		gen,
		stats.Count,
		toCents(stats.Amount),
		stats.TotalMs,
		toCents(stats.Cash),
		toCents(stats.Card),
		s.ttl.Milliseconds(),
	}
	for _, id := range recordIDs {
		args = append(args, id)
	}
	return putScript.Run(ctx, s.client, s.keys(stats.Date), args...).Err()
}

// Get returns the indexed stats of a day or ErrMiss.
func (s *DayStatsStore) Get(ctx context.Context, date string) (*models.DayStats, error) {
	fields, err := s.client.HGetAll(ctx, s.key(date)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}

	stats := &models.DayStats{Date: date}
	ints := make(map[string]int64, len(fields))
	for name, raw := range fields {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: field %s: %w", name, err)
		}
		ints[name] = v
	}
	stats.Count = ints["count"]
	stats.TotalMs = ints["total_ms"]
	stats.Amount = fromCents(ints["amount_cents"])
	stats.Cash = fromCents(ints["cash_cents"])
	stats.Card = fromCents(ints["card_cents"])
	return stats, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
