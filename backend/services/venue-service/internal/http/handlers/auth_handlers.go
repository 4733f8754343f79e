package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"cuehall/backend/libs/logging"
	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/service"
)

// NewLoginHandler handles POST /api/auth/login.
func NewLoginHandler(authService *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	logger = logging.OrNop(logger)
	type request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	type response struct {
		Token     string          `json:"token"`
		TokenType string          `json:"token_type"`
		Operator  models.Operator `json:"operator"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}

		token, op, err := authService.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			logger.Error("login failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to login")
			return
		}

		writeJSON(w, http.StatusOK, response{
			Token:     token,
			TokenType: "Bearer",
			Operator:  *op,
		})
	}
}
