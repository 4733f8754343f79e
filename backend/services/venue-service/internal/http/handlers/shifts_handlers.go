package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/venue-service/internal/service"
)

// ShiftsHandlers exposes the shift ledger.
type ShiftsHandlers struct {
	shifts *service.ShiftService
	logger *zap.Logger
}

// NewShiftsHandlers returns handler.
func NewShiftsHandlers(shifts *service.ShiftService, logger *zap.Logger) *ShiftsHandlers {
	return &ShiftsHandlers{shifts: shifts, logger: logging.OrNop(logger)}
}

// Current handles GET /api/shifts/current.
func (h *ShiftsHandlers) Current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"shift": h.shifts.CurrentShift()})
}

// Open handles POST /api/shifts/open. The operator defaults to the caller.
func (h *ShiftsHandlers) Open(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User string `json:"user"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.User == "" {
		req.User = operatorName(r)
	}
	shift, err := h.shifts.Open(r.Context(), req.User)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

// Close handles POST /api/shifts/close.
func (h *ShiftsHandlers) Close(w http.ResponseWriter, r *http.Request) {
	shift, err := h.shifts.Close(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// History handles GET /api/shifts?limit=.
func (h *ShiftsHandlers) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	shifts, err := h.shifts.History(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, shifts)
}

// Records handles GET /api/shifts/{id}/records.
func (h *ShiftsHandlers) Records(w http.ResponseWriter, r *http.Request) {
	records, err := h.shifts.Records(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
