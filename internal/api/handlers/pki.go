package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/api/middleware"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/issuance"
	"github.com/adamscao/vaultdash/internal/models"
	"github.com/adamscao/vaultdash/internal/policy"
	"github.com/adamscao/vaultdash/internal/vault"
)

// PKIHandler handles certificate issuance through the PKI engine
type PKIHandler struct {
	config    *config.Config
	vault     *vault.Client
	validator *policy.Validator
	issuances *repository.IssuanceRepository
	auditor   *Auditor
	logger    *slog.Logger
}

// NewPKIHandler creates a new PKI handler
func NewPKIHandler(
	cfg *config.Config,
	vc *vault.Client,
	validator *policy.Validator,
	issuances *repository.IssuanceRepository,
	auditor *Auditor,
	logger *slog.Logger,
) *PKIHandler {
	return &PKIHandler{
		config:    cfg,
		vault:     vc,
		validator: validator,
		issuances: issuances,
		auditor:   auditor,
		logger:    logger,
	}
}

// IssueRequest represents a certificate issue request
type IssueRequest struct {
	Role       string          `json:"role"`
	CommonName string          `json:"common_name"`
	TTL        json.RawMessage `json:"ttl"`
}

// IssueResponse is returned once; the private key is not served again by
// this endpoint.
type IssueResponse struct {
	OK           bool       `json:"ok"`
	Certificate  string     `json:"certificate"`
	PrivateKey   string     `json:"private_key"`
	SerialNumber string     `json:"serial_number"`
	TTL          int64      `json:"ttl"`
	CommonName   string     `json:"common_name"`
	IssuingCA    string     `json:"issuing_ca,omitempty"`
	CAChain      []string   `json:"ca_chain,omitempty"`
	Expiration   *time.Time `json:"expiration,omitempty"`
	Mount        string     `json:"mount"`
	Path         string     `json:"path"`
	Fingerprint  string     `json:"fingerprint"`
}

// Issue requests a certificate and stores it under the certificate prefix
// POST /api/pki/issue
func (h *PKIHandler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	ttl, err := parseTTL(req.TTL)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_ttl", err.Error())
		return
	}

	token := middleware.VaultToken(c)
	mount := h.config.Vault.KVMount
	orchestrator := issuance.NewOrchestrator(
		h.vault.PKI(token, h.config.Vault.PKIMount),
		h.validator,
		h.issuances,
		mount,
		h.logger,
	)

	result, err := orchestrator.Issue(c.Request.Context(), h.vault.KV(token, mount), issuance.Request{
		Role:       req.Role,
		CommonName: req.CommonName,
		TTL:        ttl,
	}, provenance(c))

	details := map[string]interface{}{"role": req.Role, "common_name": req.CommonName}
	if err != nil {
		action := models.ActionCertIssue
		if errors.Is(err, issuance.ErrCARejected) {
			action = models.ActionCertRejected
		}
		h.auditor.Record(c, Event{Action: action, Mount: mount, Err: err, Details: details})
		RespondFailure(c, err)
		return
	}

	details["serial"] = result.SerialNumber
	h.auditor.Record(c, Event{
		Action:      models.ActionCertIssue,
		Mount:       mount,
		Path:        result.Path,
		Fingerprint: result.Fingerprint,
		Details:     details,
	})

	resp := IssueResponse{
		OK:           true,
		Certificate:  result.Certificate,
		PrivateKey:   result.PrivateKey,
		SerialNumber: result.SerialNumber,
		TTL:          result.TTLSeconds,
		CommonName:   result.CommonName,
		IssuingCA:    result.IssuingCA,
		CAChain:      result.CAChain,
		Mount:        mount,
		Path:         result.Path,
		Fingerprint:  result.Fingerprint,
	}
	if !result.Expiration.IsZero() {
		resp.Expiration = &result.Expiration
	}

	c.Header("Cache-Control", "no-store")
	RespondSuccess(c, resp)
}

// parseTTL accepts a JSON number of seconds, a string of digits (seconds)
// or a duration string such as "720h" or "30d". Absent means zero.
func parseTTL(raw json.RawMessage) (time.Duration, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, nil
	}

	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.New("ttl must be a number of seconds or a duration string")
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return 0, nil
		}
		if !isDigits(text) {
			d, err := config.ParseDuration(text)
			if err != nil || d <= 0 {
				return 0, fmt.Errorf("invalid ttl %q", text)
			}
			return d, nil
		}
	}

	secs, err := strconv.ParseInt(text, 10, 64)
	if err != nil || secs <= 0 || secs > math.MaxInt64/int64(time.Second) {
		return 0, fmt.Errorf("invalid ttl %s: want a positive whole number of seconds", text)
	}
	return time.Duration(secs) * time.Second, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// CA returns the CA certificate
// GET /api/pki/ca
func (h *PKIHandler) CA(c *gin.Context) {
	pem, err := h.vault.PKI(middleware.VaultToken(c), h.config.Vault.PKIMount).CAPEM(c.Request.Context())
	if err != nil {
		RespondFailure(c, err)
		return
	}

	// Return as plain text
	c.Data(http.StatusOK, "application/x-pem-file", pem)
}

// Issued lists the caller's certificates from the local ledger
// GET /api/pki/issued
func (h *PKIHandler) Issued(c *gin.Context) {
	recs, err := h.issuances.List(middleware.Username(c), parseLimit(c.Query("limit")))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to list issued certificates")
		return
	}
	if recs == nil {
		recs = []*models.IssuanceRecord{}
	}
	RespondSuccess(c, gin.H{"issuances": recs})
}
