package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
	maxReadBytes = 4096
)

// Connection is one POS screen subscribed to the table feed. The feed is
// push-only; inbound frames are read just to service pings and detect close.
type Connection struct {
	id           string
	operator     string
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	onClose      func(id string)
	logger       *zap.Logger
}

// NewConnection wraps an upgraded socket. onClose runs once when the socket goes away.
func NewConnection(id, operator string, ws *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger, onClose func(string)) *Connection {
	return &Connection{
		id:           id,
		operator:     operator,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		onClose:      onClose,
		logger:       logger,
	}
}

func (c *Connection) ID() string { return c.id }

// Start runs the writer in the background and reads until the peer leaves or ctx ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

// Send queues msg. Slow screens lose messages rather than stall the broadcaster.
func (c *Connection) Send(msg []byte) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Warn("dropping feed message, buffer full", zap.String("conn_id", c.id), zap.String("operator", c.operator))
	}
}

func (c *Connection) readLoop(ctx context.Context) {
	defer c.shutdown()
	c.ws.SetReadLimit(maxReadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.logger.Debug("feed connection closed", zap.String("conn_id", c.id), zap.Error(err))
			return
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			c.shutdown()
			return
		case <-c.done:
			return
		case msg := <-c.send:
			err = c.write(websocket.TextMessage, msg)
		case <-ticker.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			c.shutdown()
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c.id)
		}
	})
}
