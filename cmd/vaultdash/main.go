package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamscao/vaultdash/internal/api"
	"github.com/adamscao/vaultdash/internal/auth"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/credential"
	"github.com/adamscao/vaultdash/internal/db"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/logging"
	"github.com/adamscao/vaultdash/internal/policy"
	"github.com/adamscao/vaultdash/internal/vault"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/vaultdash/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vaultdash\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting vaultdash", "version", Version, "commit", Commit, "config", *configPath)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Initialize database
	logger.Info("opening database", "path", cfg.Database.Path)
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	sealer, err := auth.NewSealer(cfg.EncryptionKey())
	if err != nil {
		return err
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	issuanceRepo := repository.NewIssuanceRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)

	vaultClient := vault.NewClient(vault.Options{
		Addr:     cfg.Vault.Addr,
		Timeout:  cfg.GetVaultTimeout(),
		RetryMax: cfg.Vault.RetryMax,
		Logger:   logger.With("component", "vault"),
	})
	logger.Info("using vault", "addr", vaultClient.Addr(), "kv_mount", cfg.Vault.KVMount, "pki_mount", cfg.Vault.PKIMount)

	generator := credential.NewGenerator(credential.GeneratorConfig{
		DefaultAlgorithm: cfg.Keygen.DefaultAlgorithm,
		DefaultRSASize:   cfg.Keygen.DefaultRSASize,
		MinRSASize:       cfg.Keygen.MinRSASize,
		MaxRSASize:       cfg.Keygen.MaxRSASize,
		MaxConcurrent:    cfg.Keygen.MaxConcurrent,
	})

	// Initialize policy validator
	validator := policy.NewValidator(cfg, issuanceRepo, userRepo)

	// Create HTTP server
	server := api.NewServer(cfg, api.Dependencies{
		Vault:     vaultClient,
		Generator: generator,
		Validator: validator,
		Users:     userRepo,
		Sessions:  sessionRepo,
		Issuances: issuanceRepo,
		Audit:     auditRepo,
		Sealer:    sealer,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepSessions(ctx, sessionRepo, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Server.ListenAddr)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// sweepSessions removes expired sessions once an hour.
func sweepSessions(ctx context.Context, sessions *repository.SessionRepository, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired()
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}
