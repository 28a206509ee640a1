package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type accessChatRequest struct {
	PeerUserID string `json:"peer_user_id" binding:"required"`
}

type createGroupRequest struct {
	Name          string   `json:"name" binding:"required"`
	MemberUserIDs []string `json:"member_user_ids" binding:"required"`
}

type renameRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

type membershipRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

// AccessChat opens the one-on-one chat with a peer, creating it on first use.
func (h *Handler) AccessChat(c *gin.Context) {
	var req accessChatRequest
	if !h.bind(c, &req) {
		return
	}
	chat, err := h.Directory.AccessChat(c.Request.Context(), currentUser(c), req.PeerUserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.Directory.ListChats(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (h *Handler) CreateGroupChat(c *gin.Context) {
	var req createGroupRequest
	if !h.bind(c, &req) {
		return
	}
	chat, err := h.Directory.CreateGroupChat(c.Request.Context(), currentUser(c), req.Name, req.MemberUserIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) RenameGroupChat(c *gin.Context) {
	var req renameRequest
	if !h.bind(c, &req) {
		return
	}
	chat, err := h.Directory.RenameGroupChat(c.Request.Context(), currentUser(c), req.ChatID, req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) AddToGroup(c *gin.Context) {
	var req membershipRequest
	if !h.bind(c, &req) {
		return
	}
	chat, err := h.Directory.AddMember(c.Request.Context(), currentUser(c), req.ChatID, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// RemoveFromGroup removes a member; a member may also remove themself.
func (h *Handler) RemoveFromGroup(c *gin.Context) {
	var req membershipRequest
	if !h.bind(c, &req) {
		return
	}
	chat, err := h.Directory.RemoveMember(c.Request.Context(), currentUser(c), req.ChatID, req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}
