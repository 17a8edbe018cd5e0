package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/api/middleware"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/credential"
	"github.com/adamscao/vaultdash/internal/models"
	"github.com/adamscao/vaultdash/internal/policy"
	"github.com/adamscao/vaultdash/internal/vault"
)

// multipartOverhead is the allowance for form boundaries and the text fields
// sent next to the file.
const multipartOverhead = 64 << 10

// PEMHandler handles credential upload, generation, download and verification
type PEMHandler struct {
	config    *config.Config
	vault     *vault.Client
	generator *credential.Generator
	validator *policy.Validator
	auditor   *Auditor
	logger    *slog.Logger
}

// NewPEMHandler creates a new PEM handler
func NewPEMHandler(
	cfg *config.Config,
	vc *vault.Client,
	generator *credential.Generator,
	validator *policy.Validator,
	auditor *Auditor,
	logger *slog.Logger,
) *PEMHandler {
	return &PEMHandler{
		config:    cfg,
		vault:     vc,
		generator: generator,
		validator: validator,
		auditor:   auditor,
		logger:    logger,
	}
}

func provenance(c *gin.Context) credential.Provenance {
	return credential.Provenance{Actor: middleware.Username(c), At: time.Now().UTC()}
}

// UploadResponse represents a PEM upload response
type UploadResponse struct {
	OK          bool   `json:"ok"`
	Fingerprint string `json:"fingerprint"`
	Kind        string `json:"kind"`
	Type        string `json:"type"`
	Mount       string `json:"mount"`
	Path        string `json:"path"`
	Size        int    `json:"size"`
	Filename    string `json:"filename"`
}

// UploadPEM stores an uploaded file as a credential record
// POST /api/upload-pem
func (h *PEMHandler) UploadPEM(c *gin.Context) {
	maxBytes := h.config.Upload.MaxBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(c, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("Upload exceeds %d bytes", maxBytes))
			return
		}
		RespondError(c, http.StatusBadRequest, "invalid_request", "A file field is required")
		return
	}
	if fileHeader.Size > maxBytes {
		RespondError(c, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("Upload exceeds %d bytes", maxBytes))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file")
		return
	}
	defer f.Close()
	material, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Failed to read uploaded file")
		return
	}

	mount := c.DefaultPostForm("mount", h.config.Vault.KVMount)
	recordPath, err := h.validator.SecretPath(c.PostForm("secretPath"), fileHeader.Filename)
	if err != nil {
		RespondFailure(c, err)
		return
	}

	record, err := credential.Pack(material, fileHeader.Filename, c.PostForm("description"), provenance(c))
	if err != nil {
		RespondFailure(c, err)
		return
	}

	store := h.vault.KV(middleware.VaultToken(c), mount)
	err = credential.Save(c.Request.Context(), store, recordPath, record)
	h.auditor.Record(c, Event{
		Action:      models.ActionPEMUpload,
		Mount:       mount,
		Path:        recordPath,
		Fingerprint: record.Fingerprint,
		Err:         err,
		Details:     map[string]interface{}{"kind": record.Kind, "size": record.Size},
	})
	if err != nil {
		RespondFailure(c, err)
		return
	}

	RespondSuccess(c, UploadResponse{
		OK:          true,
		Fingerprint: record.Fingerprint,
		Kind:        record.Kind.String(),
		Type:        record.Kind.String(),
		Mount:       mount,
		Path:        recordPath,
		Size:        record.Size,
		Filename:    record.Filename,
	})
}

// GenerateKeyPairRequest accepts both the current and the older field names.
type GenerateKeyPairRequest struct {
	Algorithm   string      `json:"algorithm"`
	KeyType     string      `json:"keyType"`
	Size        interface{} `json:"size"`
	KeySize     interface{} `json:"keySize"`
	Path        string      `json:"path"`
	SecretPath  string      `json:"secretPath"`
	Mount       string      `json:"mount"`
	Description string      `json:"description"`
	Filename    string      `json:"filename"`
}

// GenerateKeyPairResponse carries the private key. It is not stored anywhere.
type GenerateKeyPairResponse struct {
	OK               bool   `json:"ok"`
	Fingerprint      string `json:"fingerprint"`
	PublicKey        string `json:"publicKey"`
	PrivateKey       string `json:"privateKey"`
	PublicKeyOpenSSH string `json:"publicKeyOpenSSH,omitempty"`
	SSHFingerprint   string `json:"sshFingerprint,omitempty"`
	Algorithm        string `json:"algorithm"`
	Size             int    `json:"size"`
	Mount            string `json:"mount"`
	Path             string `json:"path"`
}

// GenerateKeyPair creates a key pair and stores its public half
// POST /api/generate-keypair
func (h *PEMHandler) GenerateKeyPair(c *gin.Context) {
	var req GenerateKeyPairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	algorithm := firstNonEmpty(req.Algorithm, req.KeyType)
	size := credential.ParseSize(req.Size)
	if size == 0 {
		size = credential.ParseSize(req.KeySize)
	}
	mount := firstNonEmpty(req.Mount, h.config.Vault.KVMount)

	fallback := "keypair-" + time.Now().UTC().Format("20060102-150405")
	recordPath, err := h.validator.SecretPath(firstNonEmpty(req.Path, req.SecretPath), fallback)
	if err != nil {
		RespondFailure(c, err)
		return
	}

	kp, err := h.generator.Generate(c.Request.Context(), algorithm, size)
	if err != nil {
		RespondFailure(c, err)
		return
	}

	record, err := credential.PackKeyPair(kp, req.Filename, req.Description, provenance(c))
	if err != nil {
		RespondFailure(c, err)
		return
	}

	store := h.vault.KV(middleware.VaultToken(c), mount)
	err = credential.Save(c.Request.Context(), store, recordPath, record)
	h.auditor.Record(c, Event{
		Action:      models.ActionKeyPairGenerate,
		Mount:       mount,
		Path:        recordPath,
		Fingerprint: kp.Fingerprint,
		Err:         err,
		Details:     map[string]interface{}{"algorithm": kp.Algorithm, "size": kp.Size},
	})
	if err != nil {
		// The private key dies with this request.
		RespondFailure(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	RespondSuccess(c, GenerateKeyPairResponse{
		OK:               true,
		Fingerprint:      kp.Fingerprint,
		PublicKey:        kp.PublicKey,
		PrivateKey:       kp.PrivateKey,
		PublicKeyOpenSSH: kp.PublicKeyOpenSSH,
		SSHFingerprint:   kp.SSHFingerprint,
		Algorithm:        kp.Algorithm,
		Size:             kp.Size,
		Mount:            mount,
		Path:             recordPath,
	})
}

// DownloadPEM returns the stored material, or an export of it
// GET /api/download-pem/:mount/*path?format=&password=
func (h *PEMHandler) DownloadPEM(c *gin.Context) {
	mount, recordPath, ok := secretTarget(c)
	if !ok {
		return
	}
	format := c.Query("format")

	store := h.vault.KV(middleware.VaultToken(c), mount)
	record, err := credential.Load(c.Request.Context(), store, recordPath)
	if err != nil {
		RespondFailure(c, err)
		return
	}

	export, err := credential.ExportRecord(record, recordPath, format, c.Query("password"))
	h.auditor.Record(c, Event{
		Action:      models.ActionPEMDownload,
		Mount:       mount,
		Path:        recordPath,
		Fingerprint: record.Fingerprint,
		Err:         err,
		Details:     map[string]interface{}{"format": firstNonEmpty(format, credential.FormatPEM)},
	})
	if err != nil {
		RespondFailure(c, err)
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename}))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, export.ContentType, export.Data)
}

// VerifyRequest carries PEM text to inspect.
type VerifyRequest struct {
	Content string `json:"content"`
	PEM     string `json:"pem"`
}

// VerifyPEM classifies and inspects PEM text without storing it
// POST /api/verify-pem
func (h *PEMHandler) VerifyPEM(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.Upload.MaxBytes)

	var text string
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
		text = firstNonEmpty(req.Content, req.PEM)
	} else {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			RespondError(c, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")
			return
		}
		text = string(body)
	}

	if strings.TrimSpace(text) == "" {
		RespondFailure(c, credential.ErrEmptyMaterial)
		return
	}

	RespondSuccess(c, credential.Inspect(text))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
