package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/api/middleware"
	"github.com/adamscao/vaultdash/internal/auth"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/models"
	"github.com/adamscao/vaultdash/internal/vault"
)

// AuthHandler handles dashboard login sessions. Vault authenticates; the
// dashboard keeps a session that points at the Vault token.
type AuthHandler struct {
	config   *config.Config
	vault    *vault.Client
	users    *repository.UserRepository
	sessions *repository.SessionRepository
	sealer   *auth.Sealer
	auditor  *Auditor
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	cfg *config.Config,
	vc *vault.Client,
	users *repository.UserRepository,
	sessions *repository.SessionRepository,
	sealer *auth.Sealer,
	auditor *Auditor,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		config:   cfg,
		vault:    vc,
		users:    users,
		sessions: sessions,
		sealer:   sealer,
		auditor:  auditor,
		logger:   logger,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

// Login handles userpass login
// POST /api/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Username and password are required")
		return
	}

	ctx := c.Request.Context()
	vaultAuth, err := h.vault.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.auditor.Record(c, Event{Action: models.ActionLoginFailed, Username: req.Username, Err: err})
		if errors.Is(err, vault.ErrLoginFailed) {
			RespondError(c, http.StatusUnauthorized, "login_failed", "Login failed")
			return
		}
		RespondFailure(c, err)
		return
	}

	user, err := h.users.GetByUsername(req.Username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.revoke(c, vaultAuth.Token)
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to load user settings")
		return
	}
	if user != nil {
		if !user.Enabled {
			h.revoke(c, vaultAuth.Token)
			h.auditor.Record(c, Event{Action: models.ActionLoginFailed, Username: req.Username, Err: errors.New("user disabled")})
			RespondError(c, http.StatusForbidden, "user_disabled", "User is disabled")
			return
		}
		if user.MFAEnabled() && !h.checkTOTP(user, req.TOTP) {
			h.revoke(c, vaultAuth.Token)
			h.auditor.Record(c, Event{Action: models.ActionLoginFailed, Username: req.Username, Err: errors.New("invalid TOTP")})
			RespondErrorWithDetails(c, http.StatusUnauthorized, "invalid_totp", "Invalid TOTP code", gin.H{"mfa_required": true})
			return
		}
	}

	sessionToken, err := auth.GenerateSessionToken()
	if err != nil {
		h.revoke(c, vaultAuth.Token)
		RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to create session")
		return
	}
	sealed, err := h.sealer.Seal(vaultAuth.Token)
	if err != nil {
		h.revoke(c, vaultAuth.Token)
		RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to create session")
		return
	}

	policies, _ := json.Marshal(vaultAuth.Policies)
	maxAge := h.config.GetSessionMaxAge()
	now := time.Now().UTC()
	session := &models.Session{
		TokenHash:  auth.HashToken(sessionToken),
		Username:   req.Username,
		VaultToken: sealed,
		Policies:   string(policies),
		TokenTTL:   vaultAuth.LeaseDuration,
		CreatedAt:  now,
		ExpiresAt:  now.Add(maxAge),
	}
	if err := h.sessions.Create(session); err != nil {
		h.logger.Error("failed to store session", "user", req.Username, "error", err)
		h.revoke(c, vaultAuth.Token)
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to create session")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.config.Server.CookieName, sessionToken, int(maxAge/time.Second), "/", "", h.config.Server.CookieSecure, true)

	h.auditor.Record(c, Event{Action: models.ActionLogin, Username: req.Username})

	RespondSuccess(c, gin.H{
		"ok":       true,
		"username": req.Username,
		"policies": vaultAuth.Policies,
		"ttl":      vaultAuth.LeaseDuration,
	})
}

func (h *AuthHandler) checkTOTP(user *models.User, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	secret, err := h.sealer.Open(user.TOTPSecret)
	if err != nil {
		h.logger.Error("failed to open TOTP secret", "user", user.Username, "error", err)
		return false
	}
	valid, err := auth.ValidateTOTP(secret, code)
	if err != nil {
		h.logger.Warn("TOTP validation error", "user", user.Username, "error", err)
		return false
	}
	return valid
}

func (h *AuthHandler) revoke(c *gin.Context, token string) {
	if err := h.vault.RevokeSelf(c.Request.Context(), token); err != nil {
		h.logger.Warn("token revoke failed", "error", err)
	}
}

// Logout revokes the Vault token and drops the session. A failed revoke is
// logged; the session is dropped regardless.
// POST /api/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	cookie, err := c.Cookie(h.config.Server.CookieName)
	if err == nil && auth.WellFormedSessionToken(cookie) {
		hash := auth.HashToken(cookie)
		if session, err := h.sessions.ValidateToken(hash); err == nil {
			if token, err := h.sealer.Open(session.VaultToken); err == nil {
				h.revoke(c, token)
			}
			h.auditor.Record(c, Event{Action: models.ActionLogout, Username: session.Username})
		}
		if err := h.sessions.DeleteByHash(hash); err != nil {
			h.logger.Warn("failed to delete session", "error", err)
		}
	}

	c.SetCookie(h.config.Server.CookieName, "", -1, "/", "", h.config.Server.CookieSecure, true)
	RespondSuccess(c, gin.H{"ok": true})
}

// User returns the current session
// GET /api/user
func (h *AuthHandler) User(c *gin.Context) {
	session := middleware.CurrentSession(c)

	RespondSuccess(c, gin.H{
		"username":  session.Username,
		"policies":  sessionPolicies(session),
		"loginTime": session.CreatedAt.UTC().Format(time.RFC3339),
		"ttl":       session.TokenTTL,
	})
}

func sessionPolicies(s *models.Session) []string {
	policies := []string{}
	if s.Policies != "" {
		_ = json.Unmarshal([]byte(s.Policies), &policies)
	}
	return policies
}
