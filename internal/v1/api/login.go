package api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/store"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

// usernamePattern limits usernames to a URL- and path-safe alphabet.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,32}$`)

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token string     `json:"token"`
	User  store.User `json:"user"`
}

// Login resolves the username to a user record, creating one on first
// sight, and returns a signed token asserting that user's identity.
// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 1-32 letters, digits, '_', '.' or '-'"})
		return
	}

	user, err := h.users.EnsureUser(c.Request.Context(), username)
	if err != nil {
		logging.Error(c.Request.Context(), "login failed",
			zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := h.issuer.Issue(types.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		logging.Error(c.Request.Context(), "token signing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponse{Token: token, User: user})
}
