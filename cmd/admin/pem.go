package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/adamscao/vaultdash/internal/credential"
)

var pemCmd = &cobra.Command{
	Use:   "pem",
	Short: "Offline PEM tooling",
}

var pemInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Classify and inspect a PEM file",
	Args:  cobra.ExactArgs(1),
	RunE:  inspectPEM,
}

var pemKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key pair locally",
	RunE:  keygen,
}

var (
	inspectJSON  bool
	keyAlgorithm string
	keySize      int
	keyOut       string
	forceStdout  bool
)

func init() {
	pemInspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the inspection as JSON")

	pemKeygenCmd.Flags().StringVarP(&keyAlgorithm, "algorithm", "a", "rsa", "Key algorithm: rsa, ec or ed25519")
	pemKeygenCmd.Flags().IntVarP(&keySize, "size", "s", 0, "Key size (algorithm default when 0)")
	pemKeygenCmd.Flags().StringVarP(&keyOut, "out", "o", "", "Write <out>.pem and <out>.pub.pem instead of stdout")
	pemKeygenCmd.Flags().BoolVar(&forceStdout, "force", false, "Print the private key even when stdout is not a terminal")

	pemCmd.AddCommand(pemInspectCmd, pemKeygenCmd)
}

func inspectPEM(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	in := credential.Inspect(string(data))
	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(in)
	}

	status := color.GreenString("valid")
	if !in.Valid {
		status = color.RedString("invalid")
	}
	d := in.Details
	fmt.Printf("Kind:        %s (%s)\n", in.Kind, status)
	fmt.Printf("Fingerprint: %s\n", d.Fingerprint)
	if d.Subject != "" {
		fmt.Printf("Subject:     %s\n", d.Subject)
		fmt.Printf("Issuer:      %s\n", d.Issuer)
		notAfter := d.NotAfter
		if d.Expired {
			notAfter = color.RedString("%s (expired)", notAfter)
		}
		fmt.Printf("Not after:   %s\n", notAfter)
	}
	if d.KeyAlgorithm != "" {
		fmt.Printf("Key:         %s %s\n", d.KeyAlgorithm, d.KeySize)
	}
	if d.SSHFingerprint != "" {
		fmt.Printf("SSH:         %s\n", d.SSHFingerprint)
	}
	if d.Error != "" {
		fmt.Printf("Error:       %s\n", color.RedString(d.Error))
	}
	return nil
}

func keygen(cmd *cobra.Command, args []string) error {
	toTerminal := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if keyOut == "" && !toTerminal && !forceStdout {
		return errors.New("refusing to write a private key to a non-terminal stdout; use --out or --force")
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " Generating " + keyAlgorithm + " key..."
	s.Start()

	gen := credential.NewGenerator(credential.GeneratorConfig{MaxConcurrent: 1})
	kp, err := gen.Generate(context.Background(), keyAlgorithm, keySize)
	s.Stop()
	if err != nil {
		return err
	}

	if keyOut != "" {
		if err := os.WriteFile(keyOut+".pem", []byte(kp.PrivateKey), 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(keyOut+".pub.pem", []byte(kp.PublicKey), 0o644); err != nil {
			return err
		}
		success("Wrote %s.pem and %s.pub.pem", keyOut, keyOut)
	} else {
		fmt.Print(kp.PrivateKey)
		fmt.Print(kp.PublicKey)
	}

	fmt.Fprintf(os.Stderr, "%s %s/%d fingerprint %s (%s)\n",
		color.GreenString("✓"), kp.Algorithm, kp.Size, kp.Fingerprint, kp.SSHFingerprint)
	return nil
}
