package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RequireAccessToken authenticates the request and stores the caller's
// Identity in the request context. Role and shop checks live in rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := requestToken(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(raw, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		id := claims.Identity()
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Set("user_id", id.UserID)
		c.Set("role", id.Role)
		c.Next()
	}
}

// requestToken reads the bearer header. A signaling handshake cannot carry
// headers from every device runtime, so upgrades may use ?access_token= instead.
func requestToken(r *http.Request) (string, bool) {
	if scheme, tok, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); found && strings.EqualFold(scheme, "bearer") {
		tok = strings.TrimSpace(tok)
		return tok, tok != ""
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return "", false
	}
	tok := strings.TrimSpace(r.URL.Query().Get("access_token"))
	return tok, tok != ""
}
