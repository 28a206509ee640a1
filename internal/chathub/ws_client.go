package chathub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"parley/backend/internal/config"
	"parley/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	hub    *ManagerService
	send   chan models.Event
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, userID string) *WebSocketClient {
	id := uuid.New().String()
	return &WebSocketClient{
		id:     id,
		userID: userID,
		conn:   conn,
		hub:    hub,
		send:   make(chan models.Event, config.SessionBufferSize),
		done:   make(chan struct{}),
		log:    hub.log.With("session_id", id, "user_id", userID),
	}
}

func (c *WebSocketClient) ID() string     { return c.id }
func (c *WebSocketClient) UserID() string { return c.userID }

// Deliver queues ev for the write pump. It gives up when ctx expires and is a
// no-op once the client is closed.
func (c *WebSocketClient) Deliver(ctx context.Context, ev models.Event) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the connection.
func (c *WebSocketClient) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(config.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected websocket close", "error", err)
			}
			return
		}

		ev, err := models.ParseEvent(frame)
		if err != nil {
			c.log.Debug("Undecodable frame", "error", err)
			c.hub.replyError(context.Background(), c, models.ErrCodeInvalid, "frame is not a valid event")
			continue
		}
		c.hub.HandleEvent(context.Background(), c, ev)
	}
}

// writePump writes queued events, one frame each, and keeps the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				c.log.Debug("Write failed", "error", err)
				c.Close()
				return
			}

			// Flush whatever queued up while we were writing.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.write(<-c.send); err != nil {
					c.Close()
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WebSocketClient) write(ev models.Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
	return c.conn.WriteJSON(ev)
}
