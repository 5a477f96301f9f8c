package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyUserID is the gin context key carrying the authenticated
// user id.
const ContextKeyUserID = "user_id"

// RequireAuth aborts with 401 unless the request carries a valid Bearer
// token. On success the user id is stored in the gin context.
func (s *Service) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed authorization header"})
			return
		}

		claims, err := s.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextKeyUserID, claims.Subject)
		c.Next()
	}
}

// UserIDFromRequest extracts the user id from the gin context if auth
// middleware already ran, else from the Bearer token. Returns "" for
// anonymous or invalid tokens; it never rejects — quota middleware runs
// before authentication and must pass unauthenticated requests through
// to the handler's own auth check.
func (s *Service) UserIDFromRequest(c *gin.Context) string {
	if id := c.GetString(ContextKeyUserID); id != "" {
		return id
	}

	token := bearerToken(c)
	if token == "" {
		return ""
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		return ""
	}
	return claims.Subject
}

// UserIDFromContext returns the authenticated user id set by RequireAuth.
func UserIDFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
