package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cuehall/backend/services/venue-service/internal/event"
	"cuehall/backend/services/venue-service/internal/models"
)

var (
	SessionsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuehall_sessions_finalized_total",
		Help: "Finalized table sessions by payment method",
	}, []string{"payment_method"})

	Revenue = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuehall_revenue_total",
		Help: "Billed amount of finalized sessions by payment method",
	}, []string{"payment_method"})

	BonusUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cuehall_bonus_used_total",
		Help: "Bonus credit consumed by finalized sessions",
	})

	BonusExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cuehall_bonus_exhausted_total",
		Help: "Tables paused by the bonus watchdog",
	})

	TablesLit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cuehall_tables_lit",
		Help: "Tables currently billing",
	})

	ShiftOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cuehall_shift_open",
		Help: "1 while a shift is open",
	})

	FeedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cuehall_feed_connections",
		Help: "Open table feed websocket connections",
	})

	RelayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuehall_relay_calls_total",
		Help: "Relay controller calls by state and result",
	}, []string{"state", "result"})
)

// Subscribe keeps the counters in step with engine events.
func Subscribe(bus *event.Bus) {
	bus.Subscribe(event.SessionFinalized, func(payload any) {
		rec, ok := payload.(models.SessionRecord)
		if !ok {
			return
		}
		method := strings.TrimSpace(rec.PaymentMethod)
		if method == "" {
			method = "unknown"
		}
		SessionsFinalized.WithLabelValues(method).Inc()
		amount, _ := rec.Amount.Float64()
		Revenue.WithLabelValues(method).Add(amount)
		if used, _ := rec.BonusUsed.Float64(); used > 0 {
			BonusUsed.Add(used)
		}
	})
	bus.Subscribe(event.BonusExhausted, func(any) {
		BonusExhausted.Inc()
	})
	bus.Subscribe(event.ShiftOpened, func(any) {
		ShiftOpen.Set(1)
	})
	bus.Subscribe(event.ShiftClosed, func(any) {
		ShiftOpen.Set(0)
	})
}

func SetTablesLit(count int) {
	if count < 0 {
		count = 0
	}
	TablesLit.Set(float64(count))
}

func SetFeedConnections(count int) {
	FeedConnections.Set(float64(count))
}

// Switcher is the relay contract being instrumented.
type Switcher interface {
	Switch(ctx context.Context, channel int, on bool) error
}

type instrumentedRelay struct {
	next Switcher
}

// InstrumentRelay counts relay calls by outcome.
func InstrumentRelay(next Switcher) Switcher {
	return instrumentedRelay{next: next}
}

func (r instrumentedRelay) Switch(ctx context.Context, channel int, on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	err := r.next.Switch(ctx, channel, on)
	result := "ok"
	if err != nil {
		result = "error"
	}
	RelayCalls.WithLabelValues(state, result).Inc()
	return err
}
