package repository

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/adamscao/vaultdash/internal/models"
)

// IssuanceRepository handles the local certificate issuance ledger
type IssuanceRepository struct {
	db *sqlx.DB
}

// NewIssuanceRepository creates a new issuance repository
func NewIssuanceRepository(db *sqlx.DB) *IssuanceRepository {
	return &IssuanceRepository{db: db}
}

// Create records an issued certificate
func (r *IssuanceRepository) Create(rec *models.IssuanceRecord) error {
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now()
	}
	rec.IssuedAt = rec.IssuedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()

	result, err := r.db.NamedExec(`
		INSERT INTO issuances (
			actor, role, common_name, serial_number, fingerprint,
			mount, path, ttl_seconds, expires_at, issued_at
		)
		VALUES (
			:actor, :role, :common_name, :serial_number, :fingerprint,
			:mount, :path, :ttl_seconds, :expires_at, :issued_at
		)
	`, rec)
	if err != nil {
		return fmt.Errorf("failed to create issuance record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id

	return nil
}

// CountSince returns how many certificates actor was issued at or after since
func (r *IssuanceRepository) CountSince(actor string, since time.Time) (int, error) {
	var count int
	err := r.db.Get(&count, `
		SELECT COUNT(*)
		FROM issuances
		WHERE actor = ? AND issued_at >= ?
	`, actor, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to get issuance count: %w", err)
	}
	return count, nil
}

// List lists issuance records, newest first. An empty actor lists everyone's.
func (r *IssuanceRepository) List(actor string, limit int) ([]*models.IssuanceRecord, error) {
	query := `SELECT * FROM issuances WHERE 1=1`
	args := []any{}

	if actor != "" {
		query += " AND actor = ?"
		args = append(args, actor)
	}

	query += " ORDER BY issued_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var recs []*models.IssuanceRecord
	if err := r.db.Select(&recs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list issuances: %w", err)
	}
	return recs, nil
}

// ListExpiringSoon lists certificates expiring within the given duration
func (r *IssuanceRepository) ListExpiringSoon(within time.Duration) ([]*models.IssuanceRecord, error) {
	now := time.Now().UTC()

	var recs []*models.IssuanceRecord
	err := r.db.Select(&recs, `
		SELECT * FROM issuances
		WHERE expires_at < ? AND expires_at > ?
		ORDER BY expires_at ASC
	`, now.Add(within), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring certificates: %w", err)
	}
	return recs, nil
}
