package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"cuehall/backend/services/license-service/internal/service"
)

const orderTokenHeader = "x-order-token"

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "order token mismatch")
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrNoCheckout):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
