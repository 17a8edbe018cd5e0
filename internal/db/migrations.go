package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// currentSchemaVersion is the version initializeSchema creates.
const currentSchemaVersion = 1

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	var tableExists bool
	err := db.Get(&tableExists, `
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		if err := initializeSchema(db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	var version int
	err = db.Get(&version, `SELECT MAX(version) FROM schema_version`)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if version < 1 || version > currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %d", version)
	}

	return nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(db *DB) error {
	tx, err := db.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		schemaVersionTable,
		usersTable,
		usersIndexes,
		sessionsTable,
		sessionsIndexes,
		issuancesTable,
		issuancesIndexes,
		auditLogsTable,
		auditLogsIndexes,
	}
	for _, stmt := range statements {
		if err := execSQL(tx, stmt); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
		return err
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sqlx.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

// Schema definitions
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	usersTable = `
CREATE TABLE users (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    username          TEXT NOT NULL UNIQUE,
    totp_secret       TEXT NOT NULL DEFAULT '',
    enabled           INTEGER NOT NULL DEFAULT 1,
    max_certs_per_day INTEGER NOT NULL DEFAULT 0,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL
)`

	usersIndexes = `
CREATE INDEX idx_users_enabled ON users(enabled)`

	sessionsTable = `
CREATE TABLE sessions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    token_hash   TEXT NOT NULL UNIQUE,
    username     TEXT NOT NULL,
    vault_token  TEXT NOT NULL,
    policies     TEXT NOT NULL DEFAULT '[]',
    token_ttl    INTEGER NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL,
    expires_at   DATETIME NOT NULL,
    last_used_at DATETIME
)`

	sessionsIndexes = `
CREATE INDEX idx_sessions_username ON sessions(username);
CREATE INDEX idx_sessions_expires_at ON sessions(expires_at)`

	issuancesTable = `
CREATE TABLE issuances (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    actor         TEXT NOT NULL,
    role          TEXT NOT NULL,
    common_name   TEXT NOT NULL,
    serial_number TEXT NOT NULL,
    fingerprint   TEXT NOT NULL,
    mount         TEXT NOT NULL,
    path          TEXT NOT NULL,
    ttl_seconds   INTEGER NOT NULL,
    expires_at    DATETIME NOT NULL,
    issued_at     DATETIME NOT NULL
)`

	issuancesIndexes = `
CREATE INDEX idx_issuances_actor ON issuances(actor);
CREATE INDEX idx_issuances_serial ON issuances(serial_number);
CREATE INDEX idx_issuances_common_name ON issuances(common_name);
CREATE INDEX idx_issuances_issued_at ON issuances(issued_at)`

	auditLogsTable = `
CREATE TABLE audit_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   DATETIME NOT NULL,
    action      TEXT NOT NULL,
    username    TEXT NOT NULL DEFAULT '',
    client_ip   TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    mount       TEXT NOT NULL DEFAULT '',
    path        TEXT NOT NULL DEFAULT '',
    fingerprint TEXT NOT NULL DEFAULT '',
    success     INTEGER NOT NULL,
    error_msg   TEXT NOT NULL DEFAULT '',
    details     TEXT NOT NULL DEFAULT ''
)`

	auditLogsIndexes = `
CREATE INDEX idx_audit_timestamp ON audit_logs(timestamp);
CREATE INDEX idx_audit_action ON audit_logs(action);
CREATE INDEX idx_audit_username ON audit_logs(username);
CREATE INDEX idx_audit_success ON audit_logs(success)`
)
