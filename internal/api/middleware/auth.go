package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/auth"
	"github.com/adamscao/vaultdash/internal/models"
)

const (
	sessionKey    = "session"
	vaultTokenKey = "vaultToken"
)

// SessionStore looks up dashboard sessions by token hash.
type SessionStore interface {
	ValidateToken(tokenHash string) (*models.Session, error)
	UpdateLastUsed(id int64) error
}

// RequireSession resolves the session cookie to a live session and exposes
// its user and unsealed Vault token to the handlers.
func RequireSession(store SessionStore, sealer *auth.Sealer, cookieName string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			unauthorized(c, "Not logged in")
			return
		}
		if !auth.WellFormedSessionToken(token) {
			unauthorized(c, "Session expired or invalid")
			return
		}

		session, err := store.ValidateToken(auth.HashToken(token))
		if err != nil {
			unauthorized(c, "Session expired or invalid")
			return
		}

		vaultToken, err := sealer.Open(session.VaultToken)
		if err != nil {
			logger.Warn("failed to open sealed vault token", "session_id", session.ID, "error", err)
			unauthorized(c, "Session expired or invalid")
			return
		}

		if err := store.UpdateLastUsed(session.ID); err != nil {
			logger.Warn("failed to touch session", "session_id", session.ID, "error", err)
		}

		c.Set(sessionKey, session)
		c.Set(vaultTokenKey, vaultToken)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"ok":      false,
		"error":   "unauthorized",
		"message": message,
	})
}

// CurrentSession returns the session set by RequireSession.
func CurrentSession(c *gin.Context) *models.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(*models.Session); ok {
			return s
		}
	}
	return nil
}

// Username returns the authenticated username, or "" outside a session.
func Username(c *gin.Context) string {
	if s := CurrentSession(c); s != nil {
		return s.Username
	}
	return ""
}

// VaultToken returns the caller's Vault token.
func VaultToken(c *gin.Context) string {
	return c.GetString(vaultTokenKey)
}
