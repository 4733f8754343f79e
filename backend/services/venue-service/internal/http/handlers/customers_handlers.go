package handlers

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/venue-service/internal/service"
)

// CustomersHandlers exposes loyalty accounts.
type CustomersHandlers struct {
	customers *service.CustomerService
	logger    *zap.Logger
}

// NewCustomersHandlers returns handler.
func NewCustomersHandlers(customers *service.CustomerService, logger *zap.Logger) *CustomersHandlers {
	return &CustomersHandlers{customers: customers, logger: logging.OrNop(logger)}
}

// List handles GET /api/customers?q=&limit=.
func (h *CustomersHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	customers, err := h.customers.List(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

// Create handles POST /api/customers.
func (h *CustomersHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string          `json:"name"`
		Phone        string          `json:"phone"`
		BonusBalance decimal.Decimal `json:"bonus_balance"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	customer, err := h.customers.Create(r.Context(), req.Name, req.Phone, req.BonusBalance)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

// Get handles GET /api/customers/{id}.
func (h *CustomersHandlers) Get(w http.ResponseWriter, r *http.Request) {
	customer, err := h.customers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// AddBonus handles POST /api/customers/{id}/bonus.
func (h *CustomersHandlers) AddBonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	customer, err := h.customers.AddBonus(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}
