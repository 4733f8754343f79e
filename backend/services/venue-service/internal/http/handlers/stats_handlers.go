package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/venue-service/internal/service"
)

// NewDayStatsHandler handles GET /api/stats/day?date=YYYY-MM-DD.
func NewDayStatsHandler(stats *service.StatsService, logger *zap.Logger) http.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := stats.Day(r.Context(), r.URL.Query().Get("date"))
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, day)
	}
}

// NewLicenseHandler handles GET /api/license.
func NewLicenseHandler(gate *service.LicenseGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gate.Status())
	}
}

// NewHealthHandler handles GET /health. It reports process uptime only.
func NewHealthHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"uptime": time.Since(started).Truncate(time.Second).String(),
		})
	}
}
