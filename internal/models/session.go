package models

import "time"

// Session is a dashboard login. The Vault token it refers to is stored
// sealed; the cookie value is stored only as a hash.
type Session struct {
	ID         int64      `db:"id" json:"id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	Username   string     `db:"username" json:"username"`
	VaultToken string     `db:"vault_token" json:"-"`
	Policies   string     `db:"policies" json:"policies"`
	TokenTTL   int64      `db:"token_ttl" json:"ttl"`
	CreatedAt  time.Time  `db:"created_at" json:"login_time"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}
