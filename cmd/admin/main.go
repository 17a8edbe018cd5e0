package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adamscao/vaultdash/internal/auth"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/db"
)

var (
	configPath string
	cfg        *config.Config
	database   *db.DB
)

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "vaultdash administration tool",
	Long:          "Administrative tool for vaultdash local users, MFA, sessions, audit logs and offline PEM tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/vaultdash/config.yaml", "Config file path")

	rootCmd.AddCommand(userCmd, mfaCmd, auditCmd, issuedCmd, sessionCmd, pemCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
		os.Exit(1)
	}
}

func initDB() error {
	// Load configuration
	var err error
	cfg, err = config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Connect to database
	database, err = db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	return nil
}

func newSealer() (*auth.Sealer, error) {
	return auth.NewSealer(cfg.EncryptionKey())
}

func success(format string, args ...any) {
	fmt.Println(color.GreenString("✓") + " " + fmt.Sprintf(format, args...))
}

func hint(format string, args ...any) {
	fmt.Println(color.CyanString("→") + " " + fmt.Sprintf(format, args...))
}
