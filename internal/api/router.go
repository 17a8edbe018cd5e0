// Package api wires the dashboard HTTP surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/api/handlers"
	"github.com/adamscao/vaultdash/internal/api/middleware"
	"github.com/adamscao/vaultdash/internal/auth"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/credential"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/policy"
	"github.com/adamscao/vaultdash/internal/vault"
)

// Dependencies are the collaborators the handlers share.
type Dependencies struct {
	Vault     *vault.Client
	Generator *credential.Generator
	Validator *policy.Validator
	Users     *repository.UserRepository
	Sessions  *repository.SessionRepository
	Issuances *repository.IssuanceRepository
	Audit     *repository.AuditRepository
	Sealer    *auth.Sealer
	Logger    *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("invalid trusted proxies, ignoring forwarding headers", "error", err)
		_ = router.SetTrustedProxies(nil)
	}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Create handlers
	auditor := handlers.NewAuditor(deps.Audit, logger)
	authHandler := handlers.NewAuthHandler(cfg, deps.Vault, deps.Users, deps.Sessions, deps.Sealer, auditor, logger)
	secretsHandler := handlers.NewSecretsHandler(cfg, deps.Vault, auditor, logger)
	pemHandler := handlers.NewPEMHandler(cfg, deps.Vault, deps.Generator, deps.Validator, auditor, logger)
	pkiHandler := handlers.NewPKIHandler(cfg, deps.Vault, deps.Validator, deps.Issuances, auditor, logger)
	auditHandler := handlers.NewAuditHandler(deps.Audit)

	apiGroup := router.Group("/api")
	{
		// Public endpoints
		apiGroup.POST("/login", authHandler.Login)
		apiGroup.POST("/logout", authHandler.Logout)

		// Session endpoints
		authed := apiGroup.Group("")
		authed.Use(middleware.RequireSession(deps.Sessions, deps.Sealer, cfg.Server.CookieName, logger))
		{
			authed.GET("/user", authHandler.User)

			authed.GET("/list", secretsHandler.List)
			authed.GET("/mounts", secretsHandler.Mounts)
			authed.GET("/secret/:mount/*path", secretsHandler.GetSecret)
			authed.POST("/secret/:mount/*path", secretsHandler.PutSecret)
			authed.DELETE("/secret/:mount/*path", secretsHandler.DeleteSecret)
			authed.GET("/audit", secretsHandler.AuditDevices)
			authed.GET("/audit/events", auditHandler.ListEvents)
			authed.GET("/stats", secretsHandler.Stats)

			authed.POST("/upload-pem", pemHandler.UploadPEM)
			authed.POST("/generate-keypair", pemHandler.GenerateKeyPair)
			authed.GET("/download-pem/:mount/*path", pemHandler.DownloadPEM)
			authed.POST("/verify-pem", pemHandler.VerifyPEM)

			pki := authed.Group("/pki")
			{
				pki.POST("/issue", pkiHandler.Issue)
				pki.GET("/ca", pkiHandler.CA)
				pki.GET("/issued", pkiHandler.Issued)
			}
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"vault":     deps.Vault.Addr(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	serveStatic(router, cfg.Server.StaticDir)

	return &Server{
		router: router,
		config: cfg,
		http: &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// serveStatic serves the dashboard assets for every path the API does not
// claim. Missing directories are skipped.
func serveStatic(router *gin.Engine, dir string) {
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}

	fs := http.Dir(dir)
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "not_found", "message": "No such endpoint"})
			return
		}
		name := filepath.Clean(c.Request.URL.Path)
		if f, err := fs.Open(name); err == nil {
			stat, statErr := f.Stat()
			f.Close()
			if statErr == nil && !stat.IsDir() {
				c.FileFromFS(name, fs)
				return
			}
		}
		c.FileFromFS("/", fs)
	})
}

// Run starts the HTTP server and blocks until it stops. A graceful
// Shutdown is not an error.
func (s *Server) Run() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
