package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	ChatID  string `json:"chat_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// SendMessage stores a message. Live delivery happens afterwards and never fails the request.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if !h.bind(c, &req) {
		return
	}
	msg, err := h.Ledger.SendMessage(c.Request.Context(), currentUser(c), req.ChatID, req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ListMessages returns the chat history, oldest first.
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.Ledger.ListMessages(c.Request.Context(), currentUser(c), c.Param("chatId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
