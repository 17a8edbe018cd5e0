package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides.
// A missing file is not an error when the environment supplies the rest.
func LoadWithEnv(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	// Validate after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = "0.0.0.0:" + port
	}

	if listenAddr := os.Getenv("VAULTDASH_LISTEN_ADDR"); listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		cfg.Vault.Addr = addr
	}

	if dbPath := os.Getenv("VAULTDASH_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if encKey := os.Getenv("VAULTDASH_ENCRYPTION_KEY"); encKey != "" {
		cfg.Encryption.Key = encKey
	}

	if level := os.Getenv("VAULTDASH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
