package handlers

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/service"
)

// TablesHandlers exposes table sessions.
type TablesHandlers struct {
	billing *service.BillingService
	logger  *zap.Logger
}

// NewTablesHandlers returns handler.
func NewTablesHandlers(billing *service.BillingService, logger *zap.Logger) *TablesHandlers {
	return &TablesHandlers{billing: billing, logger: logging.OrNop(logger)}
}

type outcomeResponse struct {
	Table   models.TableView `json:"table"`
	Warning string           `json:"warning,omitempty"`
}

func (h *TablesHandlers) respond(w http.ResponseWriter, out service.Outcome, err error) {
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Table: out.Table, Warning: warningText(out.Warning)})
}

// List handles GET /api/tables.
func (h *TablesHandlers) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.billing.ListTables())
}

// Create handles POST /api/tables.
func (h *TablesHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		RelayChannel int    `json:"relay_channel"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := h.billing.AddTable(r.Context(), req.Name, req.RelayChannel)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Get handles GET /api/tables/{id}.
func (h *TablesHandlers) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.billing.GetTable(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Delete handles DELETE /api/tables/{id}.
func (h *TablesHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.billing.RemoveTable(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LightOn handles POST /api/tables/{id}/light-on.
func (h *TablesHandlers) LightOn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BonusMode bool `json:"bonus_mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.billing.LightOn(r.Context(), r.PathValue("id"), service.LightOnOptions{BonusMode: req.BonusMode})
	h.respond(w, out, err)
}

// Pause handles POST /api/tables/{id}/pause.
func (h *TablesHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	out, err := h.billing.Pause(r.Context(), r.PathValue("id"))
	h.respond(w, out, err)
}

// Bonus handles POST /api/tables/{id}/bonus.
func (h *TablesHandlers) Bonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.billing.ToggleBonus(r.Context(), r.PathValue("id"), req.Enabled)
	h.respond(w, out, err)
}

// Players handles POST /api/tables/{id}/players.
func (h *TablesHandlers) Players(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerIDs []string `json:"customer_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.billing.AssignPlayers(r.Context(), r.PathValue("id"), req.CustomerIDs)
	h.respond(w, out, err)
}

// Rentals handles POST /api/tables/{id}/rentals.
func (h *TablesHandlers) Rentals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := h.billing.AddRental(r.Context(), r.PathValue("id"), req.Name, req.Price)
	h.respond(w, out, err)
}

// Finalize handles POST /api/tables/{id}/finalize.
func (h *TablesHandlers) Finalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	type response struct {
		Table   models.TableView      `json:"table"`
		Record  *models.SessionRecord `json:"record,omitempty"`
		Receipt *models.Receipt       `json:"receipt,omitempty"`
		Warning string                `json:"warning,omitempty"`
		Error   string                `json:"error,omitempty"`
	}

	res, err := h.billing.Finalize(r.Context(), r.PathValue("id"), req.PaymentMethod, operatorName(r))
	var persistence *service.PersistenceError
	if errors.As(err, &persistence) && res.Record != nil {
		// the table is already cleared; hand the unsaved record back for manual entry
		h.logger.Error("finalize lost record", zap.String("record_id", res.Record.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{
			Table:   res.Table,
			Record:  res.Record,
			Receipt: res.Receipt,
			Warning: warningText(res.Warning),
			Error:   "record could not be saved",
		})
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		Table:   res.Table,
		Record:  res.Record,
		Receipt: res.Receipt,
		Warning: warningText(res.Warning),
	})
}

// Reset handles POST /api/tables/{id}/reset.
func (h *TablesHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	out, err := h.billing.Reset(r.Context(), r.PathValue("id"))
	h.respond(w, out, err)
}

// Transfer handles POST /api/tables/{id}/transfer.
func (h *TablesHandlers) Transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.billing.Transfer(r.Context(), r.PathValue("id"), req.To)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":    res.From,
		"to":      res.To,
		"warning": warningText(res.Warning),
	})
}
