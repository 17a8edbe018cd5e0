package models

import "time"

// User holds local settings for a Vault user: an optional TOTP second factor
// and a per-user issuance ceiling. Passwords stay in Vault.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	TOTPSecret     string    `db:"totp_secret" json:"-"` // sealed, empty when not enrolled
	Enabled        bool      `db:"enabled" json:"enabled"`
	MaxCertsPerDay int       `db:"max_certs_per_day" json:"max_certs_per_day"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// MFAEnabled reports whether the user has enrolled a TOTP secret.
func (u *User) MFAEnabled() bool {
	return u.TOTPSecret != ""
}
