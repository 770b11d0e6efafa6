package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	CtxClaimsKey = "auth_claims"
	CookieName   = "shelf_token"
)

// tokenFromRequest reads a bearer header first, then the session cookie.
// Websocket handshakes may also pass ?token= since browsers cannot set
// headers on them.
func tokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if v, err := c.Cookie(CookieName); err == nil {
		return v
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		return c.Query("token")
	}
	return ""
}

func authenticate(c *gin.Context, tokens TokenService, repo *Repo) (*Claims, bool) {
	raw := tokenFromRequest(c)
	if raw == "" {
		return nil, false
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		return nil, false
	}
	if repo != nil {
		current, err := repo.GetTokenVersion(c.Request.Context(), claims.UserID)
		if err != nil || current != claims.TokenVersion {
			return nil, false
		}
	}
	return claims, true
}

func AuthMiddleware(tokens TokenService, repo *Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, tokens, repo)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
			return
		}
		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// OptionalAuth attaches claims when a valid session is present and never aborts.
func OptionalAuth(tokens TokenService, repo *Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := authenticate(c, tokens, repo); ok {
			c.Set(CtxClaimsKey, claims)
		}
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware. Admin status is read from the
// database, not the token.
func AdminOnly(repo *Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := MustGetClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
			return
		}
		u, err := repo.GetByID(c.Request.Context(), claims.UserID)
		if err != nil || u == nil || !u.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// UserID is the authenticated user's id, or "" outside AuthMiddleware.
func UserID(c *gin.Context) string {
	if claims := MustGetClaims(c); claims != nil {
		return claims.UserID
	}
	return ""
}
