package rsa

import (
	"fmt"
	"strings"
)

// PaddingScheme selects the padding used by the method forms of the
// encrypt, decrypt, sign and verify operations.
type PaddingScheme uint8

const (
	// PaddingPKCS1v15 is the RSAES-PKCS1-v1_5 / RSASSA-PKCS1-v1_5 scheme of
	// RFC 8017.
	PaddingPKCS1v15 PaddingScheme = iota + 1
)

// String returns the scheme name.
func (s PaddingScheme) String() string {
	switch s {
	case PaddingPKCS1v15:
		return "pkcs1v15"
	default:
		return fmt.Sprintf("PaddingScheme(%d)", uint8(s))
	}
}

// IsValid returns true if s names a supported scheme.
func (s PaddingScheme) IsValid() bool {
	switch s {
	case PaddingPKCS1v15:
		return true
	default:
		return false
	}
}

// ParsePaddingScheme parses a scheme name. "pkcs1", "pkcs1v15" and
// "pkcs1-v1_5" are accepted.
func ParsePaddingScheme(name string) (PaddingScheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pkcs1", "pkcs1v15", "pkcs1-v1_5", "pkcs1-v1.5":
		return PaddingPKCS1v15, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedPadding, name)
	}
}
