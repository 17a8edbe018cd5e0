package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adamscao/vaultdash/internal/auth"
	"github.com/adamscao/vaultdash/internal/db/repository"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local user settings",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with local settings",
	RunE:  listUsers,
}

var userLimitCmd = &cobra.Command{
	Use:   "limit",
	Short: "Set a user's daily certificate ceiling (0 uses the configured default)",
	RunE:  setUserLimit,
}

var userEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Allow a user to log in and issue certificates",
	RunE:  func(cmd *cobra.Command, args []string) error { return setUserEnabled(true) },
}

var userDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Block a user from logging in and issuing certificates",
	RunE:  func(cmd *cobra.Command, args []string) error { return setUserEnabled(false) },
}

var mfaCmd = &cobra.Command{
	Use:   "mfa",
	Short: "Manage TOTP second factors",
}

var mfaEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Generate a TOTP secret for a user",
	RunE:  enrollMFA,
}

var mfaDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove a user's TOTP secret",
	RunE:  disableMFA,
}

var (
	username       string
	maxCertsPerDay int
)

func init() {
	for _, c := range []*cobra.Command{userLimitCmd, userEnableCmd, userDisableCmd, mfaEnrollCmd, mfaDisableCmd} {
		c.Flags().StringVarP(&username, "username", "u", "", "Vault username (required)")
		_ = c.MarkFlagRequired("username")
	}
	userLimitCmd.Flags().IntVar(&maxCertsPerDay, "max-certs-per-day", 0, "Maximum certificates per day")

	userCmd.AddCommand(userListCmd, userLimitCmd, userEnableCmd, userDisableCmd)
	mfaCmd.AddCommand(mfaEnrollCmd, mfaDisableCmd)
}

func listUsers(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	userRepo := repository.NewUserRepository(database.DB)
	users, err := userRepo.List()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found")
		return nil
	}

	fmt.Printf("\nTotal users: %d\n\n", len(users))
	fmt.Printf("%-5s %-20s %-10s %-6s %-15s %s\n", "ID", "Username", "Enabled", "MFA", "Max Certs/Day", "Updated")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, user := range users {
		enabledStr := color.GreenString("%-10s", "Yes")
		if !user.Enabled {
			enabledStr = color.RedString("%-10s", "No")
		}
		mfaStr := "No"
		if user.MFAEnabled() {
			mfaStr = "Yes"
		}
		limit := fmt.Sprintf("%d", user.MaxCertsPerDay)
		if user.MaxCertsPerDay == 0 {
			limit = "default"
		}
		fmt.Printf("%-5d %-20s %s %-6s %-15s %s\n",
			user.ID,
			user.Username,
			enabledStr,
			mfaStr,
			limit,
			user.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	return nil
}

func setUserLimit(cmd *cobra.Command, args []string) error {
	if maxCertsPerDay < 0 {
		return errors.New("--max-certs-per-day must not be negative")
	}
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	userRepo := repository.NewUserRepository(database.DB)
	user, err := userRepo.GetOrCreate(username)
	if err != nil {
		return err
	}
	user.MaxCertsPerDay = maxCertsPerDay
	if err := userRepo.Update(user); err != nil {
		return err
	}

	success("Daily certificate limit for %s set to %d", username, maxCertsPerDay)
	return nil
}

func setUserEnabled(enabled bool) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	userRepo := repository.NewUserRepository(database.DB)
	user, err := userRepo.GetOrCreate(username)
	if err != nil {
		return err
	}
	user.Enabled = enabled
	if err := userRepo.Update(user); err != nil {
		return err
	}

	if enabled {
		success("User %s enabled", username)
	} else {
		success("User %s disabled", username)
	}
	return nil
}

func enrollMFA(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	sealer, err := newSealer()
	if err != nil {
		return err
	}

	enrollment, err := auth.GenerateTOTP(username)
	if err != nil {
		return err
	}
	sealed, err := sealer.Seal(enrollment.Secret)
	if err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(database.DB)
	user, err := userRepo.GetOrCreate(username)
	if err != nil {
		return err
	}
	user.TOTPSecret = sealed
	if err := userRepo.Update(user); err != nil {
		return err
	}

	success("TOTP enrolled for %s", username)
	fmt.Printf("\nTOTP Secret: %s\n", enrollment.Secret)
	fmt.Printf("TOTP URL:    %s\n\n", enrollment.URL)
	hint("Scan the URL with a TOTP app; the secret is not shown again")
	return nil
}

func disableMFA(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	userRepo := repository.NewUserRepository(database.DB)
	user, err := userRepo.GetByUsername(username)
	if err != nil {
		return err
	}
	user.TOTPSecret = ""
	if err := userRepo.Update(user); err != nil {
		return err
	}

	success("TOTP removed for %s", username)
	return nil
}
