package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Database   DatabaseConfig   `yaml:"database"`
	Vault      VaultConfig      `yaml:"vault"`
	PKI        PKIConfig        `yaml:"pki"`
	Policy     PolicyConfig     `yaml:"policy"`
	Keygen     KeygenConfig     `yaml:"keygen"`
	Upload     UploadConfig     `yaml:"upload"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	StaticDir    string `yaml:"static_dir"`
	CookieName   string `yaml:"cookie_name"`
	CookieSecure bool   `yaml:"cookie_secure"`

	// Forwarding headers are honoured only from these addresses or CIDRs.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// SessionConfig contains dashboard session configuration
type SessionConfig struct {
	MaxAge string `yaml:"max_age"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// VaultConfig contains secret backend configuration
type VaultConfig struct {
	Addr        string   `yaml:"addr"`
	Timeout     string   `yaml:"timeout"`
	RetryMax    int      `yaml:"retry_max"`
	KVMount     string   `yaml:"kv_mount"`
	PKIMount    string   `yaml:"pki_mount"`
	StatsMounts []string `yaml:"stats_mounts"`
}

// PKIConfig contains certificate issuance configuration
type PKIConfig struct {
	DefaultTTL string `yaml:"default_ttl"`
	MaxTTL     string `yaml:"max_ttl"`
}

// PolicyConfig contains credential placement and issuance policy
type PolicyConfig struct {
	MaxCertsPerDay int    `yaml:"max_certs_per_day"`
	PEMPrefix      string `yaml:"pem_prefix"`
	CertPrefix     string `yaml:"cert_prefix"`
}

// KeygenConfig bounds key pair generation
type KeygenConfig struct {
	DefaultAlgorithm string `yaml:"default_algorithm"`
	DefaultRSASize   int    `yaml:"default_rsa_size"`
	MinRSASize       int    `yaml:"min_rsa_size"`
	MaxRSASize       int    `yaml:"max_rsa_size"`
	MaxConcurrent    int64  `yaml:"max_concurrent"`
}

// UploadConfig contains PEM upload limits
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// EncryptionConfig contains the key used to seal secrets at rest
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "0.0.0.0:8080",
			StaticDir:  "public",
			CookieName: "vaultdash_session",
		},
		Session:  SessionConfig{MaxAge: "24h"},
		Database: DatabaseConfig{Path: "/var/lib/vaultdash/vaultdash.db"},
		Vault: VaultConfig{
			Addr:        "http://vault:8200",
			Timeout:     "30s",
			RetryMax:    3,
			KVMount:     "secret",
			PKIMount:    "pki",
			StatsMounts: []string{"secret", "team"},
		},
		PKI: PKIConfig{DefaultTTL: "720h", MaxTTL: "8760h"},
		Policy: PolicyConfig{
			MaxCertsPerDay: 50,
			PEMPrefix:      "pem-files/",
			CertPrefix:     "certificates/",
		},
		Keygen: KeygenConfig{
			DefaultAlgorithm: "rsa",
			DefaultRSASize:   2048,
			MinRSASize:       2048,
			MaxRSASize:       8192,
			MaxConcurrent:    2,
		},
		Upload:  UploadConfig{MaxBytes: 1 << 20},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.CookieName == "" {
		return fmt.Errorf("server.cookie_name is required")
	}

	// Session validation
	if d, err := parseDuration(c.Session.MaxAge); err != nil || d <= 0 {
		return fmt.Errorf("session.max_age is invalid: %q", c.Session.MaxAge)
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Vault validation
	if !strings.HasPrefix(c.Vault.Addr, "http://") && !strings.HasPrefix(c.Vault.Addr, "https://") {
		return fmt.Errorf("vault.addr must be an http or https URL")
	}
	if _, err := parseDuration(c.Vault.Timeout); err != nil {
		return fmt.Errorf("vault.timeout is invalid: %w", err)
	}
	if c.Vault.RetryMax < 0 {
		return fmt.Errorf("vault.retry_max must not be negative")
	}
	if c.Vault.KVMount == "" || c.Vault.PKIMount == "" {
		return fmt.Errorf("vault.kv_mount and vault.pki_mount are required")
	}

	// PKI validation
	defaultTTL, err := parseDuration(c.PKI.DefaultTTL)
	if err != nil {
		return fmt.Errorf("pki.default_ttl is invalid: %w", err)
	}
	maxTTL, err := parseDuration(c.PKI.MaxTTL)
	if err != nil {
		return fmt.Errorf("pki.max_ttl is invalid: %w", err)
	}
	if defaultTTL > maxTTL {
		return fmt.Errorf("pki.default_ttl must not exceed pki.max_ttl")
	}

	// Policy validation
	if c.Policy.MaxCertsPerDay <= 0 {
		return fmt.Errorf("policy.max_certs_per_day must be positive")
	}
	if c.Policy.PEMPrefix == "" || c.Policy.CertPrefix == "" {
		return fmt.Errorf("policy.pem_prefix and policy.cert_prefix are required")
	}

	// Keygen validation
	switch c.Keygen.DefaultAlgorithm {
	case "rsa", "ec", "ed25519":
	default:
		return fmt.Errorf("keygen.default_algorithm must be 'rsa', 'ec' or 'ed25519'")
	}
	if c.Keygen.MinRSASize < 2048 {
		return fmt.Errorf("keygen.min_rsa_size must be at least 2048")
	}
	if c.Keygen.DefaultRSASize < c.Keygen.MinRSASize || c.Keygen.DefaultRSASize > c.Keygen.MaxRSASize {
		return fmt.Errorf("keygen.default_rsa_size must lie between min_rsa_size and max_rsa_size")
	}
	if c.Keygen.MaxConcurrent <= 0 {
		return fmt.Errorf("keygen.max_concurrent must be positive")
	}

	// Upload validation
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}

	// Encryption validation
	if len(c.Encryption.Key) != 64 { // 32 bytes = 64 hex chars
		return fmt.Errorf("encryption.key must be 64 hex characters (32 bytes)")
	}
	if _, err := hex.DecodeString(c.Encryption.Key); err != nil {
		return fmt.Errorf("encryption.key is not valid hex: %w", err)
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}

// GetSessionMaxAge returns the session lifetime as time.Duration
func (c *Config) GetSessionMaxAge() time.Duration {
	d, _ := parseDuration(c.Session.MaxAge)
	return d
}

// GetVaultTimeout returns the per-request Vault timeout as time.Duration
func (c *Config) GetVaultTimeout() time.Duration {
	d, _ := parseDuration(c.Vault.Timeout)
	return d
}

// GetDefaultTTL returns the default certificate TTL as time.Duration
func (c *Config) GetDefaultTTL() time.Duration {
	d, _ := parseDuration(c.PKI.DefaultTTL)
	return d
}

// GetMaxTTL returns the maximum certificate TTL as time.Duration
func (c *Config) GetMaxTTL() time.Duration {
	d, _ := parseDuration(c.PKI.MaxTTL)
	return d
}

// EncryptionKey returns the decoded sealing key
func (c *Config) EncryptionKey() []byte {
	key, _ := hex.DecodeString(c.Encryption.Key)
	return key
}

// ParseDuration parses a duration with support for days (e.g., "90d")
func ParseDuration(s string) (time.Duration, error) {
	return parseDuration(s)
}

// parseDuration parses duration with support for days (e.g., "90d")
func parseDuration(s string) (time.Duration, error) {
	// Handle "d" suffix for days
	if len(s) > 1 && s[len(s)-1] == 'd' {
		d, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid day count in %q", s)
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
