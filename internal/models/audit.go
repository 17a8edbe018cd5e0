package models

import "time"

// AuditLog represents an audit log entry for a credential operation
type AuditLog struct {
	ID          int64     `db:"id" json:"id"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Action      string    `db:"action" json:"action"`
	Username    string    `db:"username" json:"username,omitempty"`
	ClientIP    string    `db:"client_ip" json:"client_ip"`
	UserAgent   string    `db:"user_agent" json:"user_agent,omitempty"`
	Mount       string    `db:"mount" json:"mount,omitempty"`
	Path        string    `db:"path" json:"path,omitempty"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint,omitempty"`
	Success     bool      `db:"success" json:"success"`
	ErrorMsg    string    `db:"error_msg" json:"error_msg,omitempty"`
	Details     string    `db:"details" json:"details,omitempty"` // JSON
}

// Audit action constants
const (
	ActionLogin           = "login"
	ActionLoginFailed     = "login_failed"
	ActionLogout          = "logout"
	ActionPEMUpload       = "pem_upload"
	ActionPEMDownload     = "pem_download"
	ActionKeyPairGenerate = "keypair_generate"
	ActionCertIssue       = "cert_issue"
	ActionCertRejected    = "cert_rejected"
	ActionSecretWrite     = "secret_write"
	ActionSecretDelete    = "secret_delete"
)
