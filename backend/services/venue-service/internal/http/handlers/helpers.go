package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"cuehall/backend/services/venue-service/internal/http/middleware"
	"cuehall/backend/services/venue-service/internal/service"
)

const maxBodyBytes = 1 << 20

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

// writeServiceError maps the service error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, service.ErrTableNotFound),
		errors.Is(err, service.ErrCustomerNotFound),
		errors.Is(err, service.ErrShiftNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case service.IsPrecondition(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads an optional JSON body; an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func warningText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func operatorName(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	if claims.Name != "" {
		return claims.Name
	}
	return claims.Username
}
