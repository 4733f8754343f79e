package models

import (
	"time"

	"github.com/shopspring/decimal"

	"cuehall/backend/libs/money"
)

// Interval is a span during which a table was lit. End is nil while still open.
type Interval struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Duration returns the interval length, measuring an open interval up to now.
func (i Interval) Duration(now time.Time) time.Duration {
	end := now
	if i.End != nil {
		end = *i.End
	}
	if end.Before(i.Start) {
		return 0
	}
	return end.Sub(i.Start)
}

// Pricer prices a time span.
type Pricer interface {
	Price(start, end time.Time) decimal.Decimal
}

// Timeline holds the closed intervals of a table plus the currently open one.
type Timeline struct {
	IsOn      bool       `json:"is_on"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Intervals []Interval `json:"intervals"`
}

// Open starts a new interval. Opening an open timeline is a no-op.
func (t *Timeline) Open(now time.Time) {
	if t.IsOn {
		return
	}
	started := now
	t.StartedAt = &started
	t.IsOn = true
}

// Close ends the open interval at now. Closing a closed timeline is a no-op.
func (t *Timeline) Close(now time.Time) {
	if !t.IsOn || t.StartedAt == nil {
		t.IsOn = false
		t.StartedAt = nil
		return
	}
	start := *t.StartedAt
	end := now
	if end.Before(start) {
		end = start
	}
	t.Intervals = append(t.Intervals, Interval{Start: start, End: &end})
	t.StartedAt = nil
	t.IsOn = false
}

// Reset drops every interval and the open state.
func (t *Timeline) Reset() {
	t.IsOn = false
	t.StartedAt = nil
	t.Intervals = nil
}

// Empty reports whether the table was never lit since the last reset.
func (t Timeline) Empty() bool {
	return !t.IsOn && len(t.Intervals) == 0
}

// Spans returns closed intervals plus the open one closed at now, without mutating t.
func (t Timeline) Spans(now time.Time) []Interval {
	spans := make([]Interval, 0, len(t.Intervals)+1)
	for _, iv := range t.Intervals {
		end := iv.Start
		if iv.End != nil {
			end = *iv.End
		}
		spans = append(spans, Interval{Start: iv.Start, End: &end})
	}
	if t.IsOn && t.StartedAt != nil {
		end := now
		if end.Before(*t.StartedAt) {
			end = *t.StartedAt
		}
		spans = append(spans, Interval{Start: *t.StartedAt, End: &end})
	}
	return spans
}

// ElapsedMs sums closed durations plus the open interval up to now.
func (t Timeline) ElapsedMs(now time.Time) int64 {
	var total time.Duration
	for _, iv := range t.Spans(now) {
		total += iv.Duration(now)
	}
	return total.Milliseconds()
}

// Cost prices every span with p and rounds the sum to cents.
func (t Timeline) Cost(now time.Time, p Pricer) decimal.Decimal {
	total := decimal.Zero
	for _, iv := range t.Spans(now) {
		total = total.Add(p.Price(iv.Start, *iv.End))
	}
	return money.Round2(total)
}

// FirstStart returns the start of the earliest interval.
func (t Timeline) FirstStart() (time.Time, bool) {
	if len(t.Intervals) > 0 {
		return t.Intervals[0].Start, true
	}
	if t.IsOn && t.StartedAt != nil {
		return *t.StartedAt, true
	}
	return time.Time{}, false
}

// Clone returns a deep copy.
func (t Timeline) Clone() Timeline {
	out := Timeline{IsOn: t.IsOn}
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if len(t.Intervals) > 0 {
		out.Intervals = make([]Interval, len(t.Intervals))
		for i, iv := range t.Intervals {
			out.Intervals[i] = Interval{Start: iv.Start}
			if iv.End != nil {
				end := *iv.End
				out.Intervals[i].End = &end
			}
		}
	}
	return out
}
