package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/rsakit/internal/audit"
	"github.com/remiblancher/rsakit/pkg/rsa"
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign data with PKCS #1 v1.5",
	Long: `Create a PKCS #1 v1.5 signature.

The input is hashed with --hash (default from config) and the digest is
wrapped in a DigestInfo. With --prehashed the input already is the digest.
With --hash none the input bytes are signed as they are, without a
DigestInfo.

Without --out the signature is printed as hex.

Supported hashes: md5, sha1, sha224, sha256, sha384, sha512, sha3-256,
sha3-384, sha3-512, md5-sha1, ripemd160, none.

Examples:
  rsakit sign --key key.pem --in doc.txt --out doc.sig
  rsakit sign --key key.pem --in digest.bin --prehashed --hash sha384 --out doc.sig`,
	RunE: runSign,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a PKCS #1 v1.5 signature",
	Long: `Verify a PKCS #1 v1.5 signature against the input, with the same
--hash and --prehashed semantics as sign.

--key accepts a public key or a private key file.

Examples:
  rsakit verify --key key.pub --in doc.txt --sig doc.sig`,
	RunE: runVerify,
}

var (
	signKey        string
	signInput      string
	signOutput     string
	signHash       string
	signPrehashed  bool
	signNoBlinding bool
	signPassphrase string

	verifyKey        string
	verifyInput      string
	verifySignature  string
	verifyHash       string
	verifyPrehashed  bool
	verifyPassphrase string
)

func init() {
	signCmd.Flags().StringVarP(&signKey, "key", "k", "", "Private key file (required)")
	signCmd.Flags().StringVarP(&signInput, "in", "i", "", "Input file (required)")
	signCmd.Flags().StringVarP(&signOutput, "out", "o", "", "Signature output file (default: hex to stdout)")
	signCmd.Flags().StringVar(&signHash, "hash", "", "Hash algorithm, or none (default from config)")
	signCmd.Flags().BoolVar(&signPrehashed, "prehashed", false, "Input is already the digest")
	signCmd.Flags().BoolVar(&signNoBlinding, "no-blinding", false, "Disable blinding of the private-key operation")
	signCmd.Flags().StringVarP(&signPassphrase, "passphrase", "p", "", "Passphrase for encrypted key")
	_ = signCmd.MarkFlagRequired("key")
	_ = signCmd.MarkFlagRequired("in")

	verifyCmd.Flags().StringVarP(&verifyKey, "key", "k", "", "Public or private key file (required)")
	verifyCmd.Flags().StringVarP(&verifyInput, "in", "i", "", "Input file (required)")
	verifyCmd.Flags().StringVarP(&verifySignature, "sig", "s", "", "Signature file (required)")
	verifyCmd.Flags().StringVar(&verifyHash, "hash", "", "Hash algorithm, or none (default from config)")
	verifyCmd.Flags().BoolVar(&verifyPrehashed, "prehashed", false, "Input is already the digest")
	verifyCmd.Flags().StringVarP(&verifyPassphrase, "passphrase", "p", "", "Passphrase if --key is an encrypted private key")
	_ = verifyCmd.MarkFlagRequired("key")
	_ = verifyCmd.MarkFlagRequired("in")
	_ = verifyCmd.MarkFlagRequired("sig")
}

func runSign(cmd *cobra.Command, args []string) error {
	h, err := resolveHash(signHash)
	if err != nil {
		return err
	}
	priv, ref, err := loadPrivateKey(signKey, signPassphrase)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(signInput)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	digest, err := digestInput(h, data, signPrehashed)
	if err != nil {
		return err
	}

	random := blindingSource(signNoBlinding)
	sig, signErr := rsa.SignPKCS1v15(random, priv, h, digest)
	if err := audit.LogSign(ref, h.String(), random != nil, signErr); err != nil {
		return err
	}
	if signErr != nil {
		return fmt.Errorf("signing failed: %w", signErr)
	}

	if signOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sig))
		return nil
	}
	if err := writeFile(signOutput, sig, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signature (%s) saved to: %s\n", h, signOutput)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	h, err := resolveHash(verifyHash)
	if err != nil {
		return err
	}
	pub, ref, err := loadPublicKey(verifyKey, verifyPassphrase)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(verifyInput)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	sig, err := os.ReadFile(verifySignature)
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}
	digest, err := digestInput(h, data, verifyPrehashed)
	if err != nil {
		return err
	}

	verifyErr := rsa.VerifyPKCS1v15(pub, h, digest, sig)
	if err := audit.LogVerify(ref, h.String(), verifyErr); err != nil {
		return err
	}
	if verifyErr != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "INVALID signature")
		return verifyErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signature valid (%s)\n", h)
	return nil
}
