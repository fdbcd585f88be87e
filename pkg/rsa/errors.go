package rsa

import (
	"errors"
	"fmt"
)

// KeyError represents a key operation error with structured context.
// It supports errors.Is() and errors.As() through Unwrap.
type KeyError struct {
	Op  string // Operation: "generate", "validate", "decode"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("rsa %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *KeyError) Unwrap() error { return e.Err }

func newKeyError(op string, err error) *KeyError {
	return &KeyError{Op: op, Err: err}
}

// Sentinel errors for RSA operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrInvalidKey indicates the key failed validation.
	ErrInvalidKey = errors.New("invalid key")

	// ErrKeyTooSmall indicates the requested key size cannot hold the
	// requested number of primes.
	ErrKeyTooSmall = errors.New("key size too small")

	// ErrInfeasibleParameters indicates key generation could not satisfy its
	// constraints within the attempt budget.
	ErrInfeasibleParameters = errors.New("infeasible key generation parameters")

	// ErrMessageTooLong indicates the message does not fit the modulus once padded.
	ErrMessageTooLong = errors.New("message too long for RSA key size")

	// ErrDecryption is the single error returned for every decryption failure.
	ErrDecryption = errors.New("decryption error")

	// ErrVerification indicates the signature does not match.
	ErrVerification = errors.New("verification error")

	// ErrSerialization indicates a malformed encoded key.
	ErrSerialization = errors.New("malformed serialized key")

	// ErrUnsupportedPadding indicates an unknown padding scheme.
	ErrUnsupportedPadding = errors.New("unsupported padding scheme")

	// ErrUnsupportedHash indicates an unknown hash identifier.
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")

	// ErrInvalidDigest indicates the digest length does not match the hash.
	ErrInvalidDigest = errors.New("input must be hashed message")

	// ErrRandomSource indicates the random source failed or kept returning
	// unusable values.
	ErrRandomSource = errors.New("random source failure")
)
