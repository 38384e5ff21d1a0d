package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davidatlihan/codesafe/internal/v1/logging"
	"github.com/davidatlihan/codesafe/internal/v1/room"
	"github.com/davidatlihan/codesafe/internal/v1/types"
)

type permissionRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// SetPermission overrides one user's role inside a project. The override
// is visible to the next document update those sockets send.
// POST /api/projects/:id/permissions
func (h *Handlers) SetPermission(c *gin.Context) {
	caller, ok := Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	userID := strings.TrimSpace(req.UserID)
	role, validRole := types.ParseRole(req.Role)
	if userID == "" || !validRole {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and a valid role are required"})
		return
	}

	r, ok := h.acquireRoom(c, c.Param("id"))
	if !ok {
		return
	}

	if !r.EffectiveRole(caller).AtLeast(types.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}

	r.SetPermission(c.Request.Context(), userID, role)
	c.JSON(http.StatusOK, gin.H{"ok": true, "userId": userID, "role": role})
}

// ApproveSuggestion marks a suggestion approved inside the project's
// shared document. The edit broadcasts to connected sockets and schedules
// a persist like any other document change.
// POST /api/projects/:id/suggestions/:sid/approve
func (h *Handlers) ApproveSuggestion(c *gin.Context) {
	caller, ok := Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	suggestionID := c.Param("sid")

	for {
		r, ok := h.acquireRoom(c, c.Param("id"))
		if !ok {
			return
		}

		if !r.EffectiveRole(caller).AtLeast(types.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		err := r.ApproveSuggestion(caller, suggestionID)
		switch {
		case errors.Is(err, room.ErrRoomClosed):
			// The room emptied between lookup and approval. The next
			// lookup waits for the teardown and reloads the project.
			continue
		case errors.Is(err, room.ErrSuggestionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "suggestion not found"})
		case err != nil:
			logging.Error(c.Request.Context(), "suggestion approval failed",
				zap.String("suggestion_id", suggestionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "approval failed"})
		default:
			c.JSON(http.StatusOK, gin.H{"ok": true, "suggestionId": suggestionID})
		}
		return
	}
}

// acquireRoom resolves a project room through the registry, creating it
// on demand. On failure it writes the error response itself and reports
// false.
func (h *Handlers) acquireRoom(c *gin.Context, id string) (*room.Room, bool) {
	r, err := h.registry.GetOrCreate(c.Request.Context(), types.RoomID(id))
	switch {
	case err == nil:
		return r, true
	case errors.Is(err, room.ErrInvalidRoomID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
	case errors.Is(err, room.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
	default:
		logging.Error(c.Request.Context(), "project load failed",
			zap.String("room_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "project unavailable"})
	}
	return nil, false
}
