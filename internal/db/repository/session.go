package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/adamscao/vaultdash/internal/models"
)

// SessionRepository handles dashboard session data access
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create creates a new session
func (r *SessionRepository) Create(s *models.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.NamedExec(`
		INSERT INTO sessions (token_hash, username, vault_token, policies, token_ttl, created_at, expires_at)
		VALUES (:token_hash, :username, :vault_token, :policies, :token_ttl, :created_at, :expires_at)
	`, s)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	s.ID = id

	return nil
}

// ValidateToken returns the unexpired session with the given token hash
func (r *SessionRepository) ValidateToken(tokenHash string) (*models.Session, error) {
	s := &models.Session{}
	err := r.db.Get(s, `
		SELECT * FROM sessions
		WHERE token_hash = ? AND expires_at > ?
	`, tokenHash, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
	return s, nil
}

// UpdateLastUsed updates the last used timestamp of a session
func (r *SessionRepository) UpdateLastUsed(id int64) error {
	_, err := r.db.Exec(`UPDATE sessions SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session last used: %w", err)
	}
	return nil
}

// DeleteByHash removes the session with the given token hash
func (r *SessionRepository) DeleteByHash(tokenHash string) error {
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired deletes expired sessions
func (r *SessionRepository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}
