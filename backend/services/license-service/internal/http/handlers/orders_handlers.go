package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/license-service/internal/metrics"
	"cuehall/backend/services/license-service/internal/models"
	"cuehall/backend/services/license-service/internal/service"
)

const maxWebhookBytes = 64 << 10

// OrdersHandlers exposes the order API.
type OrdersHandlers struct {
	orders *service.OrderService
	logger *zap.Logger
}

// NewOrdersHandlers returns handler.
func NewOrdersHandlers(orders *service.OrderService, logger *zap.Logger) *OrdersHandlers {
	return &OrdersHandlers{orders: orders, logger: logging.OrNop(logger)}
}

type orderResponse struct {
	OrderID   string             `json:"orderId"`
	Status    models.OrderStatus `json:"status"`
	License   *string            `json:"license"`
	Tier      string             `json:"tier"`
	Days      int                `json:"days"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func toResponse(order *models.Order) orderResponse {
	return orderResponse{
		OrderID:   order.ID,
		Status:    order.Status,
		License:   order.License,
		Tier:      order.Tier,
		Days:      order.Days,
		UpdatedAt: order.UpdatedAt,
	}
}

// Plans handles GET /api/plans.
func (h *OrdersHandlers) Plans(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, h.orders.Plans())
}

// Create handles POST /api/orders.
func (h *OrdersHandlers) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		MachineID string `json:"mid"`
		Tier      string `json:"tier"`
		Days      int    `json:"days"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := h.orders.Create(r.Context(), service.CreateOrderRequest{
		MachineID: req.MachineID,
		Tier:      req.Tier,
		Days:      req.Days,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// Get handles GET /api/orders/:id.
func (h *OrdersHandlers) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	order, err := h.orders.Get(r.Context(), ps.ByName("id"), r.Header.Get(orderTokenHeader))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

// Refresh handles POST /api/orders/:id/refresh.
func (h *OrdersHandlers) Refresh(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	order, err := h.orders.Refresh(r.Context(), ps.ByName("id"), r.Header.Get(orderTokenHeader))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

// QR handles GET /api/orders/:id/qr. The token may come as ?token= so the
// image can be used directly in an img tag.
func (h *OrdersHandlers) QR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	token := r.Header.Get(orderTokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	png, err := h.orders.CheckoutQR(r.Context(), ps.ByName("id"), token)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Webhook handles POST /api/mono/webhook. The provider always gets 200.
func (h *OrdersHandlers) Webhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Warn("webhook body unreadable", zap.Error(err))
		metrics.ObserveWebhook("unreadable")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if err := h.orders.HandleWebhook(r.Context(), body, r.Header.Get("X-Sign")); err != nil {
		h.logger.Warn("webhook not applied", zap.Error(err))
		metrics.ObserveWebhook("rejected")
	} else {
		metrics.ObserveWebhook("applied")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
