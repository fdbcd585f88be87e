// Command rsakit generates, converts and uses multi-prime RSA keys.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/rsakit/internal/audit"
	"github.com/remiblancher/rsakit/internal/config"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath   string
	auditLogPath string
)

// cfg is the configuration loaded for the running command.
var cfg = config.Default()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = audit.Close()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rsakit",
	Short: "rsakit - multi-prime RSA key toolkit",
	Long: `rsakit generates and validates RSA keys with two or more primes,
and uses them for PKCS #1 v1.5 encryption and signatures.

Keys are stored as PKCS #1 PEM or DER, or as JSON / CBOR arrays of
little-endian 32-bit limbs.

Examples:
  # Generate a 3-prime 3072-bit key
  rsakit key gen --bits 3072 --primes 3 --out key.pem

  # Sign and verify
  rsakit sign --key key.pem --in doc.txt --out doc.sig
  rsakit verify --key key.pem --in doc.txt --sig doc.sig

  # Encrypt and decrypt a short secret
  rsakit encrypt --key key.pem --in secret.bin --out secret.enc
  rsakit decrypt --key key.pem --in secret.enc --out secret.out`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		// The flag wins over both the config file and RSAKIT_AUDIT_LOG.
		if auditLogPath != "" {
			cfg.AuditLog = auditLogPath
		}
		if err := audit.InitFile(cfg.AuditLog); err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file (or set "+config.EnvConfig+")")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set "+config.EnvAuditLog+")")

	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(auditCmd)
}
