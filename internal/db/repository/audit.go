package repository

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/adamscao/vaultdash/internal/models"
)

// AuditRepository handles audit log data access
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(log *models.AuditLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	log.Timestamp = log.Timestamp.UTC()

	result, err := r.db.NamedExec(`
		INSERT INTO audit_logs (
			timestamp, action, username, client_ip, user_agent,
			mount, path, fingerprint, success, error_msg, details
		)
		VALUES (
			:timestamp, :action, :username, :client_ip, :user_agent,
			:mount, :path, :fingerprint, :success, :error_msg, :details
		)
	`, log)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	log.ID = id

	return nil
}

// List lists audit logs with optional filters
func (r *AuditRepository) List(username string, action string, limit int) ([]*models.AuditLog, error) {
	query := `SELECT * FROM audit_logs WHERE 1=1`
	args := []any{}

	if username != "" {
		query += " AND username = ?"
		args = append(args, username)
	}

	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}

	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var logs []*models.AuditLog
	if err := r.db.Select(&logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

// ListByPath lists the audit trail of a single secret path
func (r *AuditRepository) ListByPath(mount, path string, limit int) ([]*models.AuditLog, error) {
	var logs []*models.AuditLog
	err := r.db.Select(&logs, `
		SELECT * FROM audit_logs
		WHERE mount = ? AND path = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, mount, path, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

// CountByAction counts audit logs by action type
func (r *AuditRepository) CountByAction(action string, since time.Time) (int, error) {
	var count int
	err := r.db.Get(&count, `
		SELECT COUNT(*)
		FROM audit_logs
		WHERE action = ? AND timestamp >= ?
	`, action, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

// DeleteOld deletes audit logs older than the given date
func (r *AuditRepository) DeleteOld(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM audit_logs WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit logs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}
