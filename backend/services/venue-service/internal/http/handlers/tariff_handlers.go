package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/service"
)

// TariffChanger activates a new tariff against the running tables.
type TariffChanger interface {
	UpdateTariff(ctx context.Context, tariff models.Tariff) (*service.RateSchedule, error)
}

// TariffHandlers exposes the rate schedule.
type TariffHandlers struct {
	tariffs *service.TariffService
	changer TariffChanger
	logger  *zap.Logger
}

// NewTariffHandlers returns handler.
func NewTariffHandlers(tariffs *service.TariffService, changer TariffChanger, logger *zap.Logger) *TariffHandlers {
	return &TariffHandlers{tariffs: tariffs, changer: changer, logger: logging.OrNop(logger)}
}

// Get handles GET /api/tariff.
func (h *TariffHandlers) Get(w http.ResponseWriter, r *http.Request) {
	schedule := h.tariffs.Schedule()
	writeJSON(w, http.StatusOK, map[string]any{
		"tariff":       schedule.Tariff(),
		"timezone":     schedule.Location().String(),
		"current_rate": schedule.RateAt(time.Now()),
	})
}

// Update handles PUT /api/tariff.
func (h *TariffHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req models.Tariff
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	schedule, err := h.changer.UpdateTariff(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("tariff updated", zap.String("operator", operatorName(r)))
	writeJSON(w, http.StatusOK, schedule.Tariff())
}
