package ws

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"cuehall/backend/services/venue-service/internal/event"
	"cuehall/backend/services/venue-service/internal/models"
)

// Message is the envelope pushed to every screen.
type Message struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Manager tracks feed connections and fans out events.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	logger      *zap.Logger

	// sendMu orders broadcasts; asOf is the newest view sent per table.
	sendMu sync.Mutex
	asOf   map[string]time.Time
}

// NewManager builds connection manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		connections: make(map[string]*Connection),
		logger:      logger,
		asOf:        make(map[string]time.Time),
	}
}

// Add registers new connection.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ID()] = conn
}

// Remove removes connection.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, id)
}

// Count returns the number of open connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Broadcast sends one event to every connection. A table view older than the
// last one sent for the same table is dropped.
func (m *Manager) Broadcast(eventType string, payload any) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if m.stale(eventType, payload) {
		m.logger.Debug("dropped stale table view", zap.String("type", eventType))
		return
	}

	data, err := json.Marshal(Message{Type: eventType, Data: payload, At: time.Now().UTC()})
	if err != nil {
		m.logger.Error("failed to encode feed message", zap.String("type", eventType), zap.Error(err))
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.connections {
		conn.Send(data)
	}
}

// stale records the view time of table events and reports whether payload
// lags behind what screens already have. Callers hold sendMu.
func (m *Manager) stale(eventType string, payload any) bool {
	switch eventType {
	case event.TableUpdated:
		view, ok := payload.(models.TableView)
		if !ok {
			return false
		}
		if last, seen := m.asOf[view.ID]; seen && view.AsOf.Before(last) {
			return true
		}
		m.asOf[view.ID] = view.AsOf
	case event.TableRemoved:
		if removed, ok := payload.(event.TableRemovedPayload); ok {
			delete(m.asOf, removed.TableID)
		}
	}
	return false
}
