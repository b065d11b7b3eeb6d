package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realtime-chat/internal/domain"
	"realtime-chat/internal/service"
)

// LoginService resuelve un credential del proveedor de identidad a un usuario persistido.
type LoginService interface {
	Login(ctx context.Context, credential string) (domain.User, error)
}

// ProfileUpdater refresca la metadata de un usuario conectado.
type ProfileUpdater interface {
	UpdateProfile(userID int64, profile domain.Profile) bool
}

// AuthHandler mantiene dependencias para los endpoints de autenticacion.
type AuthHandler struct {
	logger   *zap.Logger
	users    LoginService
	jwtServ  *service.JWTService
	profiles ProfileUpdater
}

func NewAuthHandler(logger *zap.Logger, users LoginService, jwtServ *service.JWTService, profiles ProfileUpdater) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		users:    users,
		jwtServ:  jwtServ,
		profiles: profiles,
	}
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Credential string `json:"credential" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing ID token"})
		return
	}

	user, err := h.users.Login(c.Request.Context(), req.Credential)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredential):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		case errors.Is(err, service.ErrAudienceMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid audience"})
		default:
			h.logger.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not login"})
		}
		return
	}

	if h.profiles != nil {
		h.profiles.UpdateProfile(user.ID, domain.ProfileFromUser(user))
	}

	resp := gin.H{
		"id":         user.ID,
		"name":       user.Name,
		"avatar_url": user.AvatarURL,
		"google_id":  user.ExternalID,
	}
	if h.jwtServ.Enabled() {
		tokens, err := h.jwtServ.GeneratePair(c.Request.Context(), user)
		if err != nil {
			h.logger.Error("jwt issue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue tokens"})
			return
		}
		resp["tokens"] = tokens
	}
	c.JSON(http.StatusOK, resp)
}

// RefreshToken maneja POST /auth/refresh.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid refresh request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !h.jwtServ.Enabled() {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "jwt not configured"})
		return
	}
	tokens, err := h.jwtServ.RefreshPair(c.Request.Context(), req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid logout request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !h.jwtServ.Enabled() {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "jwt not configured"})
		return
	}
	_ = h.jwtServ.RevokeRefresh(c.Request.Context(), req.RefreshToken)
	c.Status(http.StatusNoContent)
}
