package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/rsakit/internal/audit"
	"github.com/remiblancher/rsakit/internal/keyfile"
	"github.com/remiblancher/rsakit/pkg/rsa"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Key management commands",
	Long:  `Commands for generating, inspecting, validating and converting RSA keys.`,
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate an RSA key",
	Long: `Generate a new RSA key whose modulus has exactly --bits bits and is the
product of --primes distinct primes.

Defaults come from the config file (keygen.bits, keygen.primes,
keygen.public_exponent, key_format).

With --seed the key is derived deterministically from the hex seed. The
same seed and parameters always give the same key: use it for fixtures,
never for production keys.

Examples:
  rsakit key gen --bits 2048 --out key.pem
  rsakit key gen --bits 4096 --primes 4 --format cbor --out key.cbor
  rsakit key gen --bits 64 --seed 00ff --format json --out tiny.json
  rsakit key gen --out enc.pem --passphrase secret --public-out key.pub`,
	RunE: runKeyGen,
}

var keyPubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Extract public key from private key",
	Long: `Extract the public key from a private key file.

Examples:
  rsakit key pub --key key.pem --out key.pub
  rsakit key pub --key key.cbor --format json --out key.pub.json`,
	RunE: runKeyPub,
}

var keyInfoCmd = &cobra.Command{
	Use:   "info <keyfile>",
	Short: "Display information about a key",
	Long: `Display the format, size, prime count, public exponent and
fingerprint of a private or public key file.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyInfo,
}

var keyValidateCmd = &cobra.Command{
	Use:   "validate <keyfile>",
	Short: "Check key consistency",
	Long: `Check that a key is well formed.

For private keys: each prime is odd, probably prime and distinct, their
product is the modulus, d is smaller than the modulus and d·e ≡ 1 modulo
every p-1. For public keys: 1 < e < n.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyValidate,
}

var keyConvertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Convert key format",
	Long: `Convert a key between pem, der, json and cbor.

Examples:
  # PEM to CBOR
  rsakit key convert key.pem --format cbor --out key.cbor

  # Add a passphrase
  rsakit key convert key.pem --new-passphrase secret --out enc.pem`,
	Args: cobra.ExactArgs(1),
	RunE: runKeyConvert,
}

var (
	keyGenBits       int
	keyGenPrimes     int
	keyGenOutput     string
	keyGenPublicOut  string
	keyGenFormat     string
	keyGenSeed       string
	keyGenPassphrase string

	keyPubKey        string
	keyPubOut        string
	keyPubFormat     string
	keyPubPassphrase string

	keyInfoPassphrase string

	keyValidatePassphrase string

	keyConvertOut        string
	keyConvertFormat     string
	keyConvertPassphrase string
	keyConvertNewPass    string
)

func init() {
	keyCmd.AddCommand(keyGenCmd)
	keyCmd.AddCommand(keyPubCmd)
	keyCmd.AddCommand(keyInfoCmd)
	keyCmd.AddCommand(keyValidateCmd)
	keyCmd.AddCommand(keyConvertCmd)

	// gen flags
	flags := keyGenCmd.Flags()
	flags.IntVarP(&keyGenBits, "bits", "b", 0, "Modulus size in bits (default from config)")
	flags.IntVar(&keyGenPrimes, "primes", 0, "Number of primes (default from config)")
	flags.StringVarP(&keyGenOutput, "out", "o", "", "Output private key file (required)")
	flags.StringVar(&keyGenPublicOut, "public-out", "", "Also write the public key to this file")
	flags.StringVarP(&keyGenFormat, "format", "f", "", "Output format: pem, der, json, cbor (default from config)")
	flags.StringVar(&keyGenSeed, "seed", "", "Hex seed for deterministic generation")
	flags.StringVarP(&keyGenPassphrase, "passphrase", "p", "", "Passphrase for PEM encryption")
	_ = keyGenCmd.MarkFlagRequired("out")

	// pub flags
	keyPubCmd.Flags().StringVarP(&keyPubKey, "key", "k", "", "Input private key file (required)")
	keyPubCmd.Flags().StringVarP(&keyPubOut, "out", "o", "", "Output public key file (required)")
	keyPubCmd.Flags().StringVarP(&keyPubFormat, "format", "f", "", "Output format (default from config)")
	keyPubCmd.Flags().StringVarP(&keyPubPassphrase, "passphrase", "p", "", "Passphrase for encrypted key")
	_ = keyPubCmd.MarkFlagRequired("key")
	_ = keyPubCmd.MarkFlagRequired("out")

	// info flags
	keyInfoCmd.Flags().StringVarP(&keyInfoPassphrase, "passphrase", "p", "", "Passphrase for encrypted key")

	// validate flags
	keyValidateCmd.Flags().StringVarP(&keyValidatePassphrase, "passphrase", "p", "", "Passphrase for encrypted key")

	// convert flags
	keyConvertCmd.Flags().StringVarP(&keyConvertOut, "out", "o", "", "Output file (required)")
	keyConvertCmd.Flags().StringVarP(&keyConvertFormat, "format", "f", "", "Output format (default from config)")
	keyConvertCmd.Flags().StringVarP(&keyConvertPassphrase, "passphrase", "p", "", "Input passphrase")
	keyConvertCmd.Flags().StringVar(&keyConvertNewPass, "new-passphrase", "", "Output passphrase (PEM only)")
	_ = keyConvertCmd.MarkFlagRequired("out")
}

func runKeyGen(cmd *cobra.Command, args []string) error {
	bits, primes := keyGenBits, keyGenPrimes
	if bits == 0 {
		bits = cfg.Keygen.Bits
	}
	if primes == 0 {
		primes = cfg.Keygen.Primes
	}
	format, err := resolveFormat(keyGenFormat)
	if err != nil {
		return err
	}
	random, err := randomSource(keyGenSeed)
	if err != nil {
		return err
	}
	pass, err := resolvePassphrase(keyGenPassphrase, true)
	if err != nil {
		return err
	}
	if len(pass) > 0 && format != keyfile.FormatPEM {
		return fmt.Errorf("passphrase encryption requires --format pem, got %s", format)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generating %d-bit RSA key with %d primes...\n", bits, primes)

	priv, err := rsa.GenerateMultiPrimeKeyWithOptions(random, primes, bits, cfg.GenerateOptions())
	if err != nil {
		if aerr := audit.LogKeyGenerated(privateRef(keyGenOutput, nil), bits, primes, string(format), err); aerr != nil {
			return aerr
		}
		return fmt.Errorf("failed to generate key: %w", err)
	}

	if err := keyfile.SavePrivateKey(keyGenOutput, priv, format, pass); err != nil {
		return err
	}
	ref := privateRef(keyGenOutput, priv)
	if err := audit.LogKeyGenerated(ref, bits, primes, string(format), nil); err != nil {
		return err
	}

	fmt.Fprintf(out, "Private key saved to: %s\n", keyGenOutput)
	if keyGenPublicOut != "" {
		if err := keyfile.SavePublicKey(keyGenPublicOut, priv.PublicKeyCopy(), format); err != nil {
			return err
		}
		fmt.Fprintf(out, "Public key saved to:  %s\n", keyGenPublicOut)
	}
	fmt.Fprintf(out, "Fingerprint: %s\n", ref.Fingerprint)
	if len(pass) == 0 {
		fmt.Fprintln(out, "WARNING: Private key is not encrypted.")
	}
	return nil
}

func runKeyPub(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(keyPubFormat)
	if err != nil {
		return err
	}
	priv, _, err := loadPrivateKey(keyPubKey, keyPubPassphrase)
	if err != nil {
		return err
	}

	ref := publicRef(keyPubOut, &priv.PublicKey)
	saveErr := keyfile.SavePublicKey(keyPubOut, priv.PublicKeyCopy(), format)
	if err := audit.LogKeyExported(ref, string(format), saveErr); err != nil {
		return err
	}
	if saveErr != nil {
		return saveErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Public key saved to: %s\n", keyPubOut)
	fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", ref.Fingerprint)
	return nil
}

func runKeyInfo(cmd *cobra.Command, args []string) error {
	priv, pub, ref, format, err := loadAnyKey(args[0], keyInfoPassphrase)
	if err != nil {
		return err
	}
	printKeyInfo(cmd.OutOrStdout(), args[0], priv, pub, ref, format)
	return nil
}

func printKeyInfo(w io.Writer, path string, priv *rsa.PrivateKey, pub *rsa.PublicKey, ref audit.KeyRef, format keyfile.Format) {
	kind := "public"
	if priv != nil {
		kind = "private"
		pub = &priv.PublicKey
	}

	fmt.Fprintf(w, "Key:         %s\n", path)
	fmt.Fprintf(w, "Type:        RSA %s key\n", kind)
	fmt.Fprintf(w, "Format:      %s\n", strings.ToUpper(string(format)))
	fmt.Fprintf(w, "Size:        %d bits\n", pub.N.BitLen())
	fmt.Fprintf(w, "Exponent:    %s\n", pub.E)
	if priv != nil {
		fmt.Fprintf(w, "Primes:      %d\n", len(priv.Primes))
		for i, p := range priv.Primes {
			fmt.Fprintf(w, "  prime %d:   %d bits\n", i, p.BitLen())
		}
		crt := "no"
		if priv.Precomputed() != nil {
			crt = "yes"
		}
		fmt.Fprintf(w, "CRT:         %s\n", crt)
	}
	fmt.Fprintf(w, "Fingerprint: %s\n", ref.Fingerprint)
}

func runKeyValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	priv, pub, ref, _, err := loadAnyKey(path, keyValidatePassphrase)
	if err != nil {
		return err
	}

	var bits, primes int
	var verr error
	if priv != nil {
		bits, primes = priv.N.BitLen(), len(priv.Primes)
		verr = priv.Validate()
	} else {
		bits = pub.N.BitLen()
		verr = pub.Validate()
	}
	if err := audit.LogKeyValidated(ref, bits, primes, verr); err != nil {
		return err
	}
	if verr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "INVALID: %s\n", path)
		return fmt.Errorf("key validation failed: %w", verr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s is a valid %d-bit RSA key\n", path, bits)
	return nil
}

func runKeyConvert(cmd *cobra.Command, args []string) error {
	format, err := resolveFormat(keyConvertFormat)
	if err != nil {
		return err
	}
	if keyConvertNewPass != "" && format != keyfile.FormatPEM {
		return fmt.Errorf("--new-passphrase requires --format pem, got %s", format)
	}

	priv, pub, ref, _, err := loadAnyKey(args[0], keyConvertPassphrase)
	if err != nil {
		return err
	}

	var saveErr error
	if priv != nil {
		saveErr = keyfile.SavePrivateKey(keyConvertOut, priv, format, []byte(keyConvertNewPass))
		ref.Path = keyConvertOut
	} else {
		if keyConvertNewPass != "" {
			return fmt.Errorf("public keys cannot be encrypted")
		}
		saveErr = keyfile.SavePublicKey(keyConvertOut, pub, format)
		ref.Path = keyConvertOut
	}
	if err := audit.LogKeyExported(ref, string(format), saveErr); err != nil {
		return err
	}
	if saveErr != nil {
		return saveErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Converted %s to %s (%s)\n", args[0], keyConvertOut, format)
	return nil
}
