package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cuehall/backend/services/license-service/internal/models"
)

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuehall_license_orders_created_total",
		Help: "Orders with an open provider invoice by tier",
	}, []string{"tier"})

	LicensesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuehall_licenses_issued_total",
		Help: "Signed licenses by tier",
	}, []string{"tier"})

	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuehall_license_webhooks_total",
		Help: "Provider webhooks by outcome",
	}, []string{"result"})
)

// Recorder counts order milestones.
type Recorder struct{}

func (Recorder) OrderCreated(order models.Order) {
	OrdersCreated.WithLabelValues(order.Tier).Inc()
}

func (Recorder) LicenseIssued(order models.Order) {
	LicensesIssued.WithLabelValues(order.Tier).Inc()
}

func ObserveWebhook(result string) {
	Webhooks.WithLabelValues(result).Inc()
}
