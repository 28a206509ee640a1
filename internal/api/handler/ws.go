package handler

import (
	"net/http"

	"parley/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the web client's origin once it is served from a fixed domain.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates and upgrades to a realtime session.
// Browsers cannot set headers on the upgrade, so ?token= is accepted too.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}

	userID, err := h.Identity.Authenticate(token)
	if err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.Log.Debug("WebSocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Hub, userID)
	h.Hub.Register(client)
	h.Log.Info("Realtime session opened", "session_id", client.ID(), "user_id", userID)
}
