package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/api/middleware"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/models"
	"github.com/adamscao/vaultdash/internal/vault"
)

// SecretsHandler proxies generic KV and sys requests to Vault with the
// caller's token. Vault's answer is passed through unchanged.
type SecretsHandler struct {
	config  *config.Config
	vault   *vault.Client
	auditor *Auditor
	logger  *slog.Logger
}

// NewSecretsHandler creates a new secrets handler
func NewSecretsHandler(cfg *config.Config, vc *vault.Client, auditor *Auditor, logger *slog.Logger) *SecretsHandler {
	return &SecretsHandler{
		config:  cfg,
		vault:   vc,
		auditor: auditor,
		logger:  logger,
	}
}

// passthrough relays a Vault answer, or maps a transport failure.
func (h *SecretsHandler) passthrough(c *gin.Context, resp *vault.Response, err error) {
	if err != nil {
		RespondFailure(c, err)
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if resp.Status == http.StatusNoContent || len(resp.Body) == 0 {
		c.JSON(resp.Status, gin.H{})
		return
	}
	c.Data(resp.Status, contentType, resp.Body)
}

// List lists keys under a prefix
// GET /api/list?mount=&prefix=
func (h *SecretsHandler) List(c *gin.Context) {
	mount := c.DefaultQuery("mount", h.config.Vault.KVMount)
	resp, err := h.vault.Raw(c.Request.Context(), vault.MethodList,
		vault.JoinPath(mount, "metadata", c.Query("prefix")), middleware.VaultToken(c), nil)
	h.passthrough(c, resp, err)
}

// Mounts lists the KV v2 mounts
// GET /api/mounts
func (h *SecretsHandler) Mounts(c *gin.Context) {
	mounts, err := h.vault.KVMounts(c.Request.Context(), middleware.VaultToken(c))
	if err != nil {
		var re *vault.ResponseError
		if errors.As(err, &re) {
			RespondErrorWithDetails(c, re.Status, "vault_error", err.Error(), gin.H{"errors": re.Errors})
			return
		}
		RespondFailure(c, err)
		return
	}
	RespondSuccess(c, gin.H{"mounts": mounts})
}

// GetSecret reads the current version of a secret
// GET /api/secret/:mount/*path
func (h *SecretsHandler) GetSecret(c *gin.Context) {
	mount, path, ok := secretTarget(c)
	if !ok {
		return
	}
	resp, err := h.vault.Raw(c.Request.Context(), http.MethodGet,
		vault.JoinPath(mount, "data", path), middleware.VaultToken(c), nil)
	h.passthrough(c, resp, err)
}

// PutSecret writes the JSON body as a new version of a secret
// POST /api/secret/:mount/*path
func (h *SecretsHandler) PutSecret(c *gin.Context) {
	mount, path, ok := secretTarget(c)
	if !ok {
		return
	}
	var data map[string]interface{}
	if err := c.ShouldBindJSON(&data); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Body must be a JSON object")
		return
	}

	resp, err := h.vault.Raw(c.Request.Context(), http.MethodPost,
		vault.JoinPath(mount, "data", path), middleware.VaultToken(c), gin.H{"data": data})
	h.auditor.Record(c, Event{Action: models.ActionSecretWrite, Mount: mount, Path: path, Err: proxyError(resp, err)})
	h.passthrough(c, resp, err)
}

// DeleteSecret removes a secret and all its versions
// DELETE /api/secret/:mount/*path
func (h *SecretsHandler) DeleteSecret(c *gin.Context) {
	mount, path, ok := secretTarget(c)
	if !ok {
		return
	}
	err := h.vault.KV(middleware.VaultToken(c), mount).Delete(c.Request.Context(), path)
	h.auditor.Record(c, Event{Action: models.ActionSecretDelete, Mount: mount, Path: path, Err: err})
	if err != nil {
		RespondFailure(c, err)
		return
	}
	RespondSuccess(c, gin.H{"ok": true, "message": "Secret deleted successfully"})
}

// AuditDevices lists Vault's audit devices
// GET /api/audit
func (h *SecretsHandler) AuditDevices(c *gin.Context) {
	resp, err := h.vault.AuditDevices(c.Request.Context(), middleware.VaultToken(c))
	h.passthrough(c, resp, err)
}

// Stats counts top level keys of each configured mount. A mount that cannot
// be listed counts as zero.
// GET /api/stats
func (h *SecretsHandler) Stats(c *gin.Context) {
	session := middleware.CurrentSession(c)
	token := middleware.VaultToken(c)

	secrets := make(map[string]int, len(h.config.Vault.StatsMounts))
	for _, mount := range h.config.Vault.StatsMounts {
		keys, err := h.vault.KV(token, mount).List(c.Request.Context(), "")
		if err != nil {
			h.logger.Debug("stats list failed", "mount", mount, "error", err)
		}
		secrets[mount] = len(keys)
	}

	RespondSuccess(c, gin.H{
		"username":  session.Username,
		"policies":  sessionPolicies(session),
		"secrets":   secrets,
		"loginTime": session.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// secretTarget extracts mount and path from /:mount/*path.
func secretTarget(c *gin.Context) (string, string, bool) {
	mount := c.Param("mount")
	path := strings.Trim(c.Param("path"), "/")
	if mount == "" || path == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Mount and path are required")
		return "", "", false
	}
	return mount, path, true
}

func proxyError(resp *vault.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return &vault.ResponseError{Status: resp.Status}
	}
	return nil
}
