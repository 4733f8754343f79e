package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/service"
)

// TokenValidator checks operator tokens.
type TokenValidator interface {
	ValidateToken(token string) (*service.Claims, error)
}

// Snapshotter returns the current table board.
type Snapshotter interface {
	ListTables() []models.TableView
}

// Server upgrades HTTP connections to the table feed.
type Server struct {
	manager      *Manager
	tokens       TokenValidator
	tables       Snapshotter
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(manager *Manager, tokens TokenValidator, tables Snapshotter, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		manager:      manager,
		tokens:       tokens,
		tables:       tables,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for /ws/tables. Browsers cannot set headers on a
// websocket handshake, so the token may also come in the query string.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := s.tokens.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(uuid.NewString(), claims.Username, conn, s.writeTimeout, s.logger, func(id string) {
		s.manager.Remove(id)
		cancel()
	})
	s.manager.Add(connection)

	if snapshot, err := json.Marshal(Message{Type: "snapshot", Data: s.tables.ListTables(), At: time.Now().UTC()}); err == nil {
		connection.Send(snapshot)
	}

	go connection.Start(ctx)
	s.logger.Info("feed connected", zap.String("operator", claims.Username), zap.Int("connections", s.manager.Count()))
}
