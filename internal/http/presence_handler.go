package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/domain"
)

// OnlineDirectory es la vista de solo lectura del registro de presencia.
type OnlineDirectory interface {
	ListOnline() []domain.PresenceEntry
	IsOnline(userID int64) bool
}

type PresenceHandler struct {
	directory OnlineDirectory
}

func NewPresenceHandler(directory OnlineDirectory) *PresenceHandler {
	return &PresenceHandler{directory: directory}
}

// ListOnline maneja GET /users/online.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	users := h.directory.ListOnline()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// IsOnline maneja GET /users/:user_id/online.
func (h *PresenceHandler) IsOnline(c *gin.Context) {
	userID, ok := parseUserID(c.Param("user_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": h.directory.IsOnline(userID)})
}
