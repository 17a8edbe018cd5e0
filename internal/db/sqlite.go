package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection
type DB struct {
	*sqlx.DB
}

// New creates a new database connection
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if path != ":memory:" && dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with recommended pragmas
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_temp_store=MEMORY&_foreign_keys=ON&_busy_timeout=5000", path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DB{DB: db}, nil
}

// Open creates the connection and brings the schema up to date.
func Open(path string) (*DB, error) {
	database, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// BeginTx starts a transaction
func (db *DB) BeginTx() (*sqlx.Tx, error) {
	return db.DB.Beginx()
}
