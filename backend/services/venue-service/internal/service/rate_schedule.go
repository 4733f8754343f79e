package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cuehall/backend/services/venue-service/internal/models"
)

const minutesPerDay = 24 * 60

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

type compiledRule struct {
	days [7]bool
	from int
	to   int
	rate decimal.Decimal
}

func (r compiledRule) matches(weekday, minute int) bool {
	if !r.days[weekday] {
		return false
	}
	if r.from <= r.to {
		return minute >= r.from && minute < r.to
	}
	return minute >= r.from || minute < r.to
}

// RateSchedule resolves the hourly rate for any instant. It is immutable once built.
type RateSchedule struct {
	tariff models.Tariff
	base   decimal.Decimal
	rules  []compiledRule
	edges  []int
	loc    *time.Location
}

// NewRateSchedule validates tariff and compiles it for the venue time zone.
func NewRateSchedule(tariff models.Tariff, loc *time.Location) (*RateSchedule, error) {
	if loc == nil {
		loc = time.Local
	}
	if !tariff.BaseRate.IsPositive() {
		return nil, invalid("base_rate", "must be greater than zero")
	}

	s := &RateSchedule{
		tariff: tariff,
		base:   tariff.BaseRate,
		rules:  make([]compiledRule, 0, len(tariff.Rules)),
		loc:    loc,
	}
	edgeSet := make(map[int]struct{})
	for i, rule := range tariff.Rules {
		compiled, err := compileRule(i, rule)
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, compiled)
		for _, edge := range []int{compiled.from, compiled.to} {
			if edge > 0 && edge < minutesPerDay {
				edgeSet[edge] = struct{}{}
			}
		}
	}
	for edge := range edgeSet {
		s.edges = append(s.edges, edge)
	}
	sort.Ints(s.edges)
	return s, nil
}

// ValidateTariff reports the first problem in tariff, if any.
func ValidateTariff(tariff models.Tariff) error {
	_, err := NewRateSchedule(tariff, time.UTC)
	return err
}

func compileRule(index int, rule models.RateRule) (compiledRule, error) {
	field := fmt.Sprintf("rules[%d]", index)
	var out compiledRule

	if len(rule.Days) == 0 {
		return out, invalid(field+".days", "at least one weekday required")
	}
	for _, d := range rule.Days {
		if d < 0 || d > 6 {
			return out, invalid(field+".days", "weekday %d out of range 0..6", d)
		}
		out.days[d] = true
	}

	from, err := parseClock(rule.From)
	if err != nil {
		return out, invalid(field+".from", "%v", err)
	}
	if from == minutesPerDay {
		return out, invalid(field+".from", "24:00 is only valid as an end time")
	}
	to, err := parseClock(rule.To)
	if err != nil {
		return out, invalid(field+".to", "%v", err)
	}
	if from == to {
		return out, invalid(field, "from and to must differ")
	}
	if !rule.Rate.IsPositive() {
		return out, invalid(field+".rate", "must be greater than zero")
	}

	out.from = from
	out.to = to
	out.rate = rule.Rate
	return out, nil
}

// parseClock converts "HH:MM" to minutes after midnight; "24:00" is 1440.
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%q is not HH:MM", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", value)
	}
	if hours == 24 && minutes == 0 {
		return minutesPerDay, nil
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%q is out of range", value)
	}
	return hours*60 + minutes, nil
}

// Tariff returns the tariff the schedule was built from.
func (s *RateSchedule) Tariff() models.Tariff { return s.tariff }

// BaseRate returns the fallback hourly rate.
func (s *RateSchedule) BaseRate() decimal.Decimal { return s.base }

// Location returns the venue time zone.
func (s *RateSchedule) Location() *time.Location { return s.loc }

// RateAt returns the first matching rule's rate, or the base rate.
func (s *RateSchedule) RateAt(t time.Time) decimal.Decimal {
	local := t.In(s.loc)
	weekday := int(local.Weekday())
	minute := local.Hour()*60 + local.Minute()
	for _, rule := range s.rules {
		if rule.matches(weekday, minute) {
			return rule.rate
		}
	}
	return s.base
}

// NextBoundary returns the earliest instant after t at which RateAt may change:
// the next rule edge later the same local day, or the next local midnight.
func (s *RateSchedule) NextBoundary(t time.Time) time.Time {
	local := t.In(s.loc)
	year, month, day := local.Date()
	for _, edge := range s.edges {
		candidate := time.Date(year, month, day, edge/60, edge%60, 0, 0, s.loc)
		if candidate.After(t) {
			return candidate
		}
	}
	midnight := time.Date(year, month, day+1, 0, 0, 0, 0, s.loc)
	if !midnight.After(t) {
		return t.Add(time.Minute)
	}
	return midnight
}

// Price integrates the hourly rate over [start, end) without rounding.
func (s *RateSchedule) Price(start, end time.Time) decimal.Decimal {
	total := decimal.Zero
	cursor := start
	for cursor.Before(end) {
		next := s.NextBoundary(cursor)
		if next.After(end) {
			next = end
		}
		chunk := decimal.NewFromInt(int64(next.Sub(cursor)))
		total = total.Add(s.RateAt(cursor).Mul(chunk).Div(nanosPerHour))
		cursor = next
	}
	return total
}
