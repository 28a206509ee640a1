package handler

import (
	"log/slog"
	"net/http"

	"parley/backend/internal/apperr"
	"parley/backend/internal/chathub"
	"parley/backend/internal/directory"
	"parley/backend/internal/identity"
	"parley/backend/internal/ledger"

	"github.com/gin-gonic/gin"
)

// Handler holds the services behind the HTTP and WebSocket endpoints.
type Handler struct {
	Identity  *identity.Service
	Directory *directory.Service
	Ledger    *ledger.Service
	Hub       *chathub.ManagerService

	// Production hides internal error detail from responses.
	Production bool
	Log        *slog.Logger
}

func NewHandler(id *identity.Service, dir *directory.Service, l *ledger.Service, hub *chathub.ManagerService, production bool, log *slog.Logger) *Handler {
	return &Handler{
		Identity:   id,
		Directory:  dir,
		Ledger:     l,
		Hub:        hub,
		Production: production,
		Log:        log,
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	var r *gin.Engine
	if h.Production {
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
		r.Use(gin.Recovery())
	} else {
		r = gin.Default()
	}

	r.GET("/healthz", h.Health)
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/api")
	api.POST("/user", h.Register)
	api.POST("/user/login", h.Login)

	authed := api.Group("", h.RequireAuth)
	authed.GET("/user", h.SearchUsers)

	authed.POST("/chat", h.AccessChat)
	authed.GET("/chat", h.ListChats)
	authed.POST("/chat/group", h.CreateGroupChat)
	authed.PUT("/chat/rename", h.RenameGroupChat)
	authed.PUT("/chat/group/add", h.AddToGroup)
	authed.PUT("/chat/group/remove", h.RemoveFromGroup)

	authed.POST("/message", h.SendMessage)
	authed.GET("/message/:chatId", h.ListMessages)

	return r
}

// Health reports liveness and the local session count.
func (h *Handler) Health(c *gin.Context) {
	sessions, users, _ := h.Hub.Presence.Counts()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": sessions, "users": users})
}

// respondError maps err onto the taxonomy. Internal errors only carry detail outside production.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status < http.StatusInternalServerError {
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	h.Log.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	body := gin.H{"error": "internal server error"}
	if !h.Production {
		body["detail"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

// bind decodes the JSON body into req and reports a 400 on failure.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.respondError(c, apperr.InvalidInput("invalid request body: "+err.Error()))
		return false
	}
	return true
}
