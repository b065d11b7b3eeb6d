package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-chat/internal/domain"
	"realtime-chat/internal/service"
)

// UserLookup resuelve usuarios por id.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (domain.User, error)
}

// ConversationLister lista el historial entre dos usuarios.
type ConversationLister interface {
	ListConversation(ctx context.Context, userA, userB int64) ([]domain.Message, error)
}

// ConnectionServer atiende un websocket ya autenticado hasta que se cierra.
type ConnectionServer interface {
	Serve(ctx context.Context, ws *websocket.Conn, user domain.User)
}

// ChatHandler mantiene dependencias para el websocket de chat y el historial.
type ChatHandler struct {
	logger   *zap.Logger
	users    UserLookup
	history  ConversationLister
	server   ConnectionServer
	upgrader websocket.Upgrader
}

func NewChatHandler(
	logger *zap.Logger,
	users UserLookup,
	history ConversationLister,
	server ConnectionServer,
	allowedOrigins []string,
) *ChatHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &ChatHandler{
		logger:  logger,
		users:   users,
		history: history,
		server:  server,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Connect maneja GET /ws/chat/:user_id.
func (h *ChatHandler) Connect(c *gin.Context) {
	userID, ok := parseUserID(c.Param("user_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if claims, ok := GetAuthClaims(c); ok {
		if id, err := claims.UserIDInt(); err != nil || id != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "token does not match user"})
			return
		}
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("load user failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load user"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	h.server.Serve(c.Request.Context(), ws, user)
}

// History maneja GET /history/:user1/:user2.
func (h *ChatHandler) History(c *gin.Context) {
	userA, okA := parseUserID(c.Param("user1"))
	userB, okB := parseUserID(c.Param("user2"))
	if !okA || !okB {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if claims, ok := GetAuthClaims(c); ok {
		id, err := claims.UserIDInt()
		if err != nil || (id != userA && id != userB) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
			return
		}
	}

	msgs, err := h.history.ListConversation(c.Request.Context(), userA, userB)
	if err != nil {
		h.logger.Error("list history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func parseUserID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
