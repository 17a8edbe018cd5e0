package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/api/middleware"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Auditor writes credential operations to the local audit ledger. Ledger
// failures are logged and never fail the request.
type Auditor struct {
	repo   *repository.AuditRepository
	logger *slog.Logger
}

// NewAuditor creates an auditor
func NewAuditor(repo *repository.AuditRepository, logger *slog.Logger) *Auditor {
	return &Auditor{repo: repo, logger: logger}
}

// Event describes one audited operation.
type Event struct {
	Action      string
	Username    string
	Mount       string
	Path        string
	Fingerprint string
	Err         error
	Details     map[string]interface{}
}

// Record stores ev with the request's client address.
func (a *Auditor) Record(c *gin.Context, ev Event) {
	username := ev.Username
	if username == "" {
		username = middleware.Username(c)
	}

	entry := &models.AuditLog{
		Action:      ev.Action,
		Username:    username,
		ClientIP:    c.ClientIP(),
		UserAgent:   c.GetHeader("User-Agent"),
		Mount:       ev.Mount,
		Path:        ev.Path,
		Fingerprint: ev.Fingerprint,
		Success:     ev.Err == nil,
	}
	if ev.Err != nil {
		entry.ErrorMsg = ev.Err.Error()
	}
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			entry.Details = string(b)
		}
	}

	if err := a.repo.Create(entry); err != nil {
		a.logger.Warn("failed to write audit log", "action", ev.Action, "error", err)
	}
}

// AuditHandler serves the local audit ledger
type AuditHandler struct {
	auditRepo *repository.AuditRepository
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(auditRepo *repository.AuditRepository) *AuditHandler {
	return &AuditHandler{auditRepo: auditRepo}
}

// ListEvents returns the caller's credential operations, or the trail of one
// record when mount and path are given.
// GET /api/audit/events
func (h *AuditHandler) ListEvents(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	var (
		events []*models.AuditLog
		err    error
	)
	if mount, path := c.Query("mount"), c.Query("path"); mount != "" && path != "" {
		events, err = h.auditRepo.ListByPath(mount, path, limit)
	} else {
		events, err = h.auditRepo.List(middleware.Username(c), c.Query("action"), limit)
	}
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to list audit events")
		return
	}
	if events == nil {
		events = []*models.AuditLog{}
	}

	RespondSuccess(c, gin.H{"events": events})
}

func parseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
