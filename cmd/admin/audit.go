package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/models"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the local audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events, newest first",
	RunE:  listAudit,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit events older than a cutoff",
	RunE:  pruneAudit,
}

var issuedCmd = &cobra.Command{
	Use:   "issued",
	Short: "List certificates issued through the dashboard",
	RunE:  listIssued,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage dashboard sessions",
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired sessions",
	RunE:  pruneSessions,
}

var (
	auditUser   string
	auditAction string
	listLimit   int
	olderThan   string
	expiring    string
)

func init() {
	auditListCmd.Flags().StringVarP(&auditUser, "username", "u", "", "Only events of this user")
	auditListCmd.Flags().StringVarP(&auditAction, "action", "a", "", "Only events with this action")
	auditListCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of events")
	auditPruneCmd.Flags().StringVar(&olderThan, "older-than", "90d", "Age cutoff (e.g. 90d, 720h)")
	auditCmd.AddCommand(auditListCmd, auditPruneCmd)

	issuedCmd.Flags().StringVarP(&auditUser, "username", "u", "", "Only certificates of this user")
	issuedCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "Maximum number of records")
	issuedCmd.Flags().StringVar(&expiring, "expiring", "", "Only certificates expiring within this window (e.g. 30d)")

	sessionCmd.AddCommand(sessionPruneCmd)
}

func listAudit(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	auditRepo := repository.NewAuditRepository(database.DB)
	logs, err := auditRepo.List(auditUser, auditAction, listLimit)
	if err != nil {
		return err
	}

	failed, err := auditRepo.CountByAction(models.ActionLoginFailed, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if failed > 0 {
		fmt.Println(color.YellowString("!") + fmt.Sprintf(" %d failed logins in the last 24h", failed))
	}

	if len(logs) == 0 {
		fmt.Println("No audit events found")
		return nil
	}

	fmt.Printf("%-20s %-18s %-15s %-4s %s\n", "Time", "Action", "User", "OK", "Target")
	for _, l := range logs {
		ok := color.GreenString("%-4s", "yes")
		if !l.Success {
			ok = color.RedString("%-4s", "no")
		}
		target := l.Path
		if l.Mount != "" {
			target = l.Mount + "/" + l.Path
		}
		if l.ErrorMsg != "" {
			target += " (" + l.ErrorMsg + ")"
		}
		fmt.Printf("%-20s %-18s %-15s %s %s\n",
			l.Timestamp.Local().Format("2006-01-02 15:04:05"), l.Action, l.Username, ok, target)
	}
	return nil
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	age, err := config.ParseDuration(olderThan)
	if err != nil || age <= 0 {
		return fmt.Errorf("invalid --older-than %q", olderThan)
	}
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	n, err := repository.NewAuditRepository(database.DB).DeleteOld(time.Now().Add(-age))
	if err != nil {
		return err
	}
	success("Deleted %d audit events older than %s", n, olderThan)
	return nil
}

func listIssued(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	issuanceRepo := repository.NewIssuanceRepository(database.DB)

	recs, err := issuanceRepo.List(auditUser, listLimit)
	if expiring != "" {
		window, perr := config.ParseDuration(expiring)
		if perr != nil || window <= 0 {
			return fmt.Errorf("invalid --expiring %q", expiring)
		}
		recs, err = issuanceRepo.ListExpiringSoon(window)
	}
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No certificates found")
		return nil
	}

	fmt.Printf("%-30s %-15s %-12s %-20s %s\n", "Common Name", "Actor", "Role", "Expires", "Serial")
	for _, r := range recs {
		expires := r.ExpiresAt.Local().Format("2006-01-02 15:04")
		if time.Until(r.ExpiresAt) < 7*24*time.Hour {
			expires = color.YellowString("%-20s", expires)
		} else {
			expires = fmt.Sprintf("%-20s", expires)
		}
		fmt.Printf("%-30s %-15s %-12s %s %s\n", r.CommonName, r.Actor, r.Role, expires, r.SerialNumber)
	}
	return nil
}

func pruneSessions(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	n, err := repository.NewSessionRepository(database.DB).DeleteExpired()
	if err != nil {
		return err
	}
	success("Deleted %d expired sessions", n)
	return nil
}
