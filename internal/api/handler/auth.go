package handler

import (
	"net/http"
	"strings"

	"parley/backend/internal/identity"
	"parley/backend/internal/models"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	models.Profile
	Token string `json:"token"`
}

// Register creates an account and returns it with a token.
func (h *Handler) Register(c *gin.Context) {
	var req identity.RegisterRequest
	if !h.bind(c, &req) {
		return
	}

	user, token, err := h.Identity.Register(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, authResponse{Profile: user.Profile(), Token: token})
}

// Login exchanges credentials for a token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}

	user, token, err := h.Identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{Profile: user.Profile(), Token: token})
}

// RequireAuth resolves the bearer token to a user id, or aborts with 401.
func (h *Handler) RequireAuth(c *gin.Context) {
	userID, err := h.Identity.Authenticate(bearerToken(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

// bearerToken reads "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// SearchUsers lists other users whose name or email contains ?search.
func (h *Handler) SearchUsers(c *gin.Context) {
	profiles, err := h.Identity.SearchUsers(c.Request.Context(), currentUser(c), c.Query("search"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}
