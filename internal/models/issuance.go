package models

import "time"

// IssuanceRecord is the local ledger entry for a certificate issued through
// the PKI engine. The certificate itself lives in the secret store.
type IssuanceRecord struct {
	ID           int64     `db:"id" json:"id"`
	Actor        string    `db:"actor" json:"actor"`
	Role         string    `db:"role" json:"role"`
	CommonName   string    `db:"common_name" json:"common_name"`
	SerialNumber string    `db:"serial_number" json:"serial_number"`
	Fingerprint  string    `db:"fingerprint" json:"fingerprint"`
	Mount        string    `db:"mount" json:"mount"`
	Path         string    `db:"path" json:"path"`
	TTLSeconds   int64     `db:"ttl_seconds" json:"ttl_seconds"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	IssuedAt     time.Time `db:"issued_at" json:"issued_at"`
}
