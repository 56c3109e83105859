package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kidtube/kidtube/internal/apperr"
	"github.com/kidtube/kidtube/internal/session"
	"github.com/kidtube/kidtube/pkg/models"
)

const (
	SessionContextKey = "session_id"
	AdminContextKey   = "is_admin"

	// SessionHeader carries the session id for clients without cookies
	SessionHeader = "X-Session-ID"
)

// TokenParser validates admin bearer tokens
type TokenParser interface {
	Parse(tokenString string) (*session.Claims, error)
}

// SessionReader loads session state
type SessionReader interface {
	Current(ctx context.Context, sid string) (*models.SessionState, error)
}

// Session binds a session id to the request from the cookie or header,
// minting and setting a cookie when neither is present
func Session(cookieName string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.GetHeader(SessionHeader)
		if sid == "" {
			if cookie, err := c.Cookie(cookieName); err == nil {
				sid = cookie
			}
		}
		if sid == "" {
			sid = session.NewID()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(cookieName, sid, int(ttl.Seconds()), "/", "", false, true)
		}

		c.Set(SessionContextKey, sid)
		c.Next()
	}
}

// GetSessionID retrieves the session id bound by Session
func GetSessionID(c *gin.Context) string {
	return c.GetString(SessionContextKey)
}

// AdminToken marks the request admin when it carries a valid bearer token.
// Requests without one pass through unmarked.
func AdminToken(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				if _, err := tokens.Parse(parts[1]); err == nil {
					c.Set(AdminContextKey, true)
				}
			}
		}
		c.Next()
	}
}

// IsAdmin reports whether AdminToken accepted the request's bearer token
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(AdminContextKey)
}

// RequireAdmin rejects requests without a valid admin token
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "admin authorization required"})
			return
		}
		c.Next()
	}
}

// AuthorizeKid allows admins, or the session whose active kid is kidID
func AuthorizeKid(c *gin.Context, sessions SessionReader, kidID int64) error {
	if IsAdmin(c) {
		return nil
	}

	sid := GetSessionID(c)
	if sid == "" {
		return fmt.Errorf("no session: %w", apperr.ErrForbidden)
	}
	state, err := sessions.Current(c.Request.Context(), sid)
	if err != nil {
		return err
	}
	if state.KidID == nil || *state.KidID != kidID {
		return fmt.Errorf("session is not kid %d: %w", kidID, apperr.ErrForbidden)
	}
	return nil
}
