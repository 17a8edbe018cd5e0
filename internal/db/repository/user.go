package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/adamscao/vaultdash/internal/models"
)

// UserRepository handles local user settings
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	result, err := r.db.NamedExec(`
		INSERT INTO users (username, totp_secret, enabled, max_certs_per_day, created_at, updated_at)
		VALUES (:username, :totp_secret, :enabled, :max_certs_per_day, :created_at, :updated_at)
	`, user)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	user.ID = id

	return nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(username string) (*models.User, error) {
	user := &models.User{}
	err := r.db.Get(user, `SELECT * FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetOrCreate returns the user row for username, creating an enabled row
// with no overrides if none exists yet.
func (r *UserRepository) GetOrCreate(username string) (*models.User, error) {
	user, err := r.GetByUsername(username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user = &models.User{Username: username, Enabled: true}
	if err := r.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Update updates a user
func (r *UserRepository) Update(user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	_, err := r.db.NamedExec(`
		UPDATE users
		SET totp_secret = :totp_secret, enabled = :enabled,
		    max_certs_per_day = :max_certs_per_day, updated_at = :updated_at
		WHERE id = :id
	`, user)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

// List lists all users
func (r *UserRepository) List() ([]*models.User, error) {
	var users []*models.User
	if err := r.db.Select(&users, `SELECT * FROM users ORDER BY username`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
