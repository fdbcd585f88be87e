// Package keyfile reads and writes RSA keys on disk.
//
// Four encodings are supported:
//   - pem: PKCS #1 DER inside "RSA PRIVATE KEY" / "RSA PUBLIC KEY" blocks,
//     optionally encrypted with a passphrase
//   - der: bare PKCS #1 DER
//   - json: the 32-bit limb object form of package rsa
//   - cbor: the canonical CBOR limb array form of package rsa
//
// Multi-prime keys survive every encoding; PKCS #1 stores the extra primes
// in otherPrimeInfos.
package keyfile

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/rsakit/pkg/rsa"
)

// Format identifies a key encoding.
type Format string

const (
	FormatPEM  Format = "pem"
	FormatDER  Format = "der"
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// PEM block types.
const (
	PEMTypePrivate = "RSA PRIVATE KEY"
	PEMTypePublic  = "RSA PUBLIC KEY"
)

var (
	// ErrUnknownFormat indicates an unsupported format name.
	ErrUnknownFormat = errors.New("unknown key format")

	// ErrPassphraseRequired indicates an encrypted PEM key was read without
	// a passphrase.
	ErrPassphraseRequired = errors.New("private key is encrypted but no passphrase provided")

	// ErrIncorrectPassphrase indicates an encrypted PEM key could not be
	// decrypted with the given passphrase.
	ErrIncorrectPassphrase = errors.New("incorrect passphrase")
)

// AllFormats lists the supported formats.
func AllFormats() []Format {
	return []Format{FormatPEM, FormatDER, FormatJSON, FormatCBOR}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatPEM, FormatDER, FormatJSON, FormatCBOR:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Detect guesses the encoding of data.
func Detect(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("-----BEGIN")):
		return FormatPEM
	case len(trimmed) > 0 && trimmed[0] == '{':
		return FormatJSON
	case len(data) > 0 && (data[0] == 0x82 || data[0] == 0x84):
		// CBOR definite-length arrays of 2 (public) or 4 (private) items.
		return FormatCBOR
	default:
		return FormatDER
	}
}

// EncodePrivateKey encodes priv. A passphrase is only honoured for PEM.
func EncodePrivateKey(priv *rsa.PrivateKey, format Format, passphrase []byte) ([]byte, error) {
	if len(passphrase) > 0 && format != FormatPEM {
		return nil, fmt.Errorf("passphrase protection requires the pem format, got %s", format)
	}
	switch format {
	case FormatPEM:
		der, err := MarshalPKCS1PrivateKey(priv)
		if err != nil {
			return nil, err
		}
		block := &pem.Block{Type: PEMTypePrivate, Bytes: der}
		if len(passphrase) > 0 {
			block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, passphrase, x509.PEMCipherAES256) //nolint:staticcheck // legacy PEM encryption is the only PKCS #1 option
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt private key: %w", err)
			}
		}
		return pem.EncodeToMemory(block), nil
	case FormatDER:
		return MarshalPKCS1PrivateKey(priv)
	case FormatJSON:
		data, err := json.MarshalIndent(priv, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatCBOR:
		return cbor.Marshal(priv)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// EncodePublicKey encodes pub.
func EncodePublicKey(pub *rsa.PublicKey, format Format) ([]byte, error) {
	switch format {
	case FormatPEM:
		der, err := MarshalPKCS1PublicKey(pub)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: PEMTypePublic, Bytes: der}), nil
	case FormatDER:
		return MarshalPKCS1PublicKey(pub)
	case FormatJSON:
		data, err := json.MarshalIndent(pub, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatCBOR:
		return cbor.Marshal(pub)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// DecodePrivateKey decodes a private key in any supported format.
func DecodePrivateKey(data, passphrase []byte) (*rsa.PrivateKey, error) {
	switch Detect(data) {
	case FormatPEM:
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no PEM block found", rsa.ErrSerialization)
		}
		if block.Type != PEMTypePrivate {
			return nil, fmt.Errorf("%w: unexpected PEM type %q", rsa.ErrSerialization, block.Type)
		}
		der := block.Bytes
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
			if len(passphrase) == 0 {
				return nil, ErrPassphraseRequired
			}
			var err error
			der, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt private key: %w: %v", ErrIncorrectPassphrase, err)
			}
		}
		return ParsePKCS1PrivateKey(der)
	case FormatJSON:
		priv := new(rsa.PrivateKey)
		if err := json.Unmarshal(data, priv); err != nil {
			return nil, wrapSerialization(err)
		}
		return priv, nil
	case FormatCBOR:
		priv := new(rsa.PrivateKey)
		if err := cbor.Unmarshal(data, priv); err != nil {
			return nil, wrapSerialization(err)
		}
		return priv, nil
	default:
		return ParsePKCS1PrivateKey(data)
	}
}

// DecodePublicKey decodes a public key in any supported format. Private-key
// encodings are accepted and projected to their public part.
func DecodePublicKey(data []byte) (*rsa.PublicKey, error) {
	switch Detect(data) {
	case FormatPEM:
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no PEM block found", rsa.ErrSerialization)
		}
		switch block.Type {
		case PEMTypePublic:
			return ParsePKCS1PublicKey(block.Bytes)
		case PEMTypePrivate:
			if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
				return nil, ErrPassphraseRequired
			}
			priv, err := ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return priv.PublicKeyCopy(), nil
		default:
			return nil, fmt.Errorf("%w: unexpected PEM type %q", rsa.ErrSerialization, block.Type)
		}
	case FormatJSON:
		pub := new(rsa.PublicKey)
		if err := json.Unmarshal(data, pub); err != nil {
			return nil, wrapSerialization(err)
		}
		return pub, nil
	case FormatCBOR:
		pub := new(rsa.PublicKey)
		if err := cbor.Unmarshal(data, pub); err == nil {
			return pub, nil
		}
		priv := new(rsa.PrivateKey)
		if err := cbor.Unmarshal(data, priv); err != nil {
			return nil, wrapSerialization(err)
		}
		return priv.PublicKeyCopy(), nil
	default:
		if pub, err := ParsePKCS1PublicKey(data); err == nil {
			return pub, nil
		}
		priv, err := ParsePKCS1PrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: neither RSAPublicKey nor RSAPrivateKey", rsa.ErrSerialization)
		}
		return priv.PublicKeyCopy(), nil
	}
}

// SavePrivateKey writes priv to path with mode 0600.
func SavePrivateKey(path string, priv *rsa.PrivateKey, format Format, passphrase []byte) error {
	data, err := EncodePrivateKey(priv, format, passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// SavePublicKey writes pub to path with mode 0644.
func SavePublicKey(path string, pub *rsa.PublicKey, format Format) error {
	data, err := EncodePublicKey(pub, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// LoadPrivateKey reads a private key file in any supported format.
func LoadPrivateKey(path string, passphrase []byte) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	priv, err := DecodePrivateKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return priv, nil
}

// LoadPublicKey reads a public key, or the public part of a private key,
// from a file in any supported format.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	pub, err := DecodePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pub, nil
}

func wrapSerialization(err error) error {
	if errors.Is(err, rsa.ErrSerialization) {
		return err
	}
	return fmt.Errorf("%w: %v", rsa.ErrSerialization, err)
}
