package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/service"
)

const authClaimsKey = "auth_claims"

// JWTAuthMiddleware valida JWT access tokens y guarda claims en el contexto.
// El token se lee del header Authorization o, para websockets, del query param token.
func JWTAuthMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
			c.Abort()
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := jwtSvc.ParseAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

// OptionalJWTAuth aplica JWTAuthMiddleware solo si hay secreto configurado.
func OptionalJWTAuth(jwtSvc *service.JWTService) gin.HandlerFunc {
	if !jwtSvc.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return JWTAuthMiddleware(jwtSvc)
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			return ""
		}
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return strings.TrimSpace(c.Query("token"))
}

// GetAuthClaims obtiene claims de JWT desde el contexto.
func GetAuthClaims(c *gin.Context) (service.Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.Claims{}, false
	}
	claims, ok := val.(service.Claims)
	return claims, ok
}
