// Package ws pushes buffered session messages to clients over a
// WebSocket instead of the short-poll HTTP surface.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/soothe-app/soothe/internal/session"
	"github.com/soothe-app/soothe/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// How often the push loop drains the session buffer.
	drainInterval = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ClientEnvelope is a control or input frame sent by the peer.
type ClientEnvelope struct {
	Type      string           `json:"type"` // "attach", "detach", "input"
	SessionID string           `json:"session_id,omitempty"`
	Image     *wire.InlineData `json:"image,omitempty"`
	Audio     *wire.InlineData `json:"audio,omitempty"`
}

// ServerEnvelope is a frame pushed to the peer.
type ServerEnvelope struct {
	Type      string        `json:"type"` // "attached", "message", "session_closed", "error"
	SessionID string        `json:"session_id,omitempty"`
	Message   *wire.Message `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Client relays one WebSocket peer to at most one live session.
type Client struct {
	registry *session.Registry
	conn     *websocket.Conn
	send     chan ServerEnvelope
	logger   *zap.Logger

	mu        sync.Mutex
	sessionID string
	stopDrain context.CancelFunc
}

// Handle upgrades the connection and runs the read/write pumps.
func Handle(registry *session.Registry, c echo.Context, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		registry: registry,
		conn:     conn,
		send:     make(chan ServerEnvelope, 256),
		logger:   logger,
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps control frames from the peer.
func (c *Client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
		close(c.send)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		c.processMessage(message)
	}
}

// writePump pumps envelopes to the peer and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case envelope, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(envelope)
			if err != nil {
				c.logger.Error("Failed to encode envelope", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processMessage(message []byte) {
	var envelope ClientEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		c.logger.Error("Failed to parse message", zap.Error(err))
		c.reply(ServerEnvelope{Type: "error", Error: "malformed frame"})
		return
	}

	switch envelope.Type {
	case "attach":
		c.handleAttach(envelope)
	case "detach":
		c.detach()
	case "input":
		c.handleInput(envelope)
	default:
		c.logger.Warn("Unknown message type", zap.String("type", envelope.Type))
		c.reply(ServerEnvelope{Type: "error", Error: "unknown type: " + envelope.Type})
	}
}

// handleAttach binds this connection to a session and starts pushing
// its buffered messages. Attaching twice replaces the previous binding.
func (c *Client) handleAttach(envelope ClientEnvelope) {
	if !c.registry.Exists(envelope.SessionID) {
		c.reply(ServerEnvelope{Type: "error", SessionID: envelope.SessionID, Error: session.ErrSessionNotFound.Error()})
		return
	}

	c.detach()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sessionID = envelope.SessionID
	c.stopDrain = cancel
	c.mu.Unlock()

	go c.drainLoop(ctx, envelope.SessionID)

	c.logger.Info("Peer attached to session", zap.String("session_id", envelope.SessionID))
	c.reply(ServerEnvelope{Type: "attached", SessionID: envelope.SessionID})
}

func (c *Client) handleInput(envelope ClientEnvelope) {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()
	if id == "" {
		c.reply(ServerEnvelope{Type: "error", Error: "no attached session"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case envelope.Image != nil:
		err = c.registry.SendFrame(ctx, id, envelope.Image.Data)
	case envelope.Audio != nil:
		err = c.registry.SendAudio(ctx, id, envelope.Audio.Data)
	default:
		c.reply(ServerEnvelope{Type: "error", SessionID: id, Error: "input requires an image or audio payload"})
		return
	}

	if err != nil {
		c.logger.Warn("Input relay failed",
			zap.String("session_id", id),
			zap.Error(err))
		c.reply(ServerEnvelope{Type: "error", SessionID: id, Error: err.Error()})
	}
}

// drainLoop pushes buffered messages until the session closes or the
// peer detaches.
func (c *Client) drainLoop(ctx context.Context, id string) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, closed, err := c.registry.Drain(id)
			if err != nil {
				c.reply(ServerEnvelope{Type: "session_closed", SessionID: id})
				c.detach()
				return
			}
			for _, msg := range msgs {
				encoded := wire.Encode(msg)
				c.reply(ServerEnvelope{Type: "message", SessionID: id, Message: &encoded})
			}
			if closed {
				c.reply(ServerEnvelope{Type: "session_closed", SessionID: id})
				c.detach()
				return
			}
		}
	}
}

func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopDrain != nil {
		c.stopDrain()
		c.stopDrain = nil
	}
	c.sessionID = ""
}

func (c *Client) reply(envelope ServerEnvelope) {
	defer func() {
		// The send channel closes when the read pump exits; a late
		// drain tick must not crash the process.
		recover()
	}()
	select {
	case c.send <- envelope:
	default:
		c.logger.Warn("Dropping envelope for slow peer", zap.String("type", envelope.Type))
	}
}
