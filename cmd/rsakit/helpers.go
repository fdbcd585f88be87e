package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/remiblancher/rsakit/internal/audit"
	"github.com/remiblancher/rsakit/internal/drbg"
	"github.com/remiblancher/rsakit/internal/keyfile"
	"github.com/remiblancher/rsakit/pkg/rsa"
)

// randomSource returns the system CSPRNG, or a deterministic stream when a
// hex seed is given.
func randomSource(seedHex string) (io.Reader, error) {
	if seedHex == "" {
		return rand.Reader, nil
	}
	r, err := drbg.NewFromHex(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid --seed: %w", err)
	}
	return r, nil
}

// blindingSource returns the random source for private-key operations, or
// nil when blinding is turned off by flag or config.
func blindingSource(noBlinding bool) io.Reader {
	if noBlinding || !cfg.BlindingEnabled() {
		return nil
	}
	return rand.Reader
}

// resolvePassphrase returns the --passphrase value, or the one from the
// environment variable named by passphrase_env. When writing a key, an
// unset configured variable is an error; when reading, it just means no
// passphrase.
func resolvePassphrase(flag string, forWrite bool) ([]byte, error) {
	if flag != "" {
		return []byte(flag), nil
	}
	pass, err := cfg.GetPassphrase()
	if err != nil && forWrite {
		return nil, err
	}
	return pass, nil
}

func resolveHash(flag string) (rsa.Hash, error) {
	if flag == "" {
		return cfg.SignatureHash()
	}
	return rsa.ParseHash(flag)
}

func resolveFormat(flag string) (keyfile.Format, error) {
	if flag == "" {
		return cfg.Format()
	}
	return keyfile.ParseFormat(flag)
}

func privateRef(path string, priv *rsa.PrivateKey) audit.KeyRef {
	ref := audit.KeyRef{Path: path, Private: true}
	if priv != nil {
		ref.Fingerprint, _ = keyfile.Fingerprint(&priv.PublicKey)
	}
	return ref
}

func publicRef(path string, pub *rsa.PublicKey) audit.KeyRef {
	ref := audit.KeyRef{Path: path}
	if pub != nil {
		ref.Fingerprint, _ = keyfile.Fingerprint(pub)
	}
	return ref
}

// loadedRef describes a key read by a key-usage command. The fingerprint
// only feeds the journal, so it is skipped when auditing is off.
func loadedRef(path string, pub *rsa.PublicKey, private bool) audit.KeyRef {
	ref := audit.KeyRef{Path: path, Private: private}
	if pub != nil && audit.Enabled() {
		ref.Fingerprint, _ = keyfile.Fingerprint(pub)
	}
	return ref
}

func isAuthError(err error) bool {
	return errors.Is(err, keyfile.ErrPassphraseRequired) || errors.Is(err, keyfile.ErrIncorrectPassphrase)
}

// loadPrivateKey reads a private key in any format and records the load.
func loadPrivateKey(path, passFlag string) (*rsa.PrivateKey, audit.KeyRef, error) {
	ref := privateRef(path, nil)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ref, fmt.Errorf("failed to read key file: %w", err)
	}
	format := keyfile.Detect(data)

	pass, err := resolvePassphrase(passFlag, false)
	if err != nil {
		return nil, ref, err
	}
	priv, err := keyfile.DecodePrivateKey(data, pass)
	if err != nil {
		var aerr error
		if isAuthError(err) {
			aerr = audit.LogAuthFailed(path, err.Error())
		} else {
			aerr = audit.LogKeyLoaded(ref, string(format), err)
		}
		if aerr != nil {
			return nil, ref, aerr
		}
		return nil, ref, fmt.Errorf("failed to load private key %s: %w", path, err)
	}

	ref = loadedRef(path, &priv.PublicKey, true)
	if err := audit.LogKeyLoaded(ref, string(format), nil); err != nil {
		return nil, ref, err
	}
	return priv, ref, nil
}

// loadPublicKey reads a public key, or the public half of a private key
// file. Encrypted private keys are unlocked with the passphrase.
func loadPublicKey(path, passFlag string) (*rsa.PublicKey, audit.KeyRef, error) {
	ref := publicRef(path, nil)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ref, fmt.Errorf("failed to read key file: %w", err)
	}
	format := keyfile.Detect(data)

	pub, err := keyfile.DecodePublicKey(data)
	if errors.Is(err, keyfile.ErrPassphraseRequired) {
		// loadPrivateKey records the load itself.
		priv, pref, perr := loadPrivateKey(path, passFlag)
		if perr != nil {
			return nil, ref, perr
		}
		return priv.PublicKeyCopy(), pref, nil
	}
	if err != nil {
		if aerr := audit.LogKeyLoaded(ref, string(format), err); aerr != nil {
			return nil, ref, aerr
		}
		return nil, ref, fmt.Errorf("failed to load public key %s: %w", path, err)
	}

	ref = loadedRef(path, pub, false)
	if err := audit.LogKeyLoaded(ref, string(format), nil); err != nil {
		return nil, ref, err
	}
	return pub, ref, nil
}

// loadAnyKey reads a private key if the file holds one, else a public key.
// Exactly one of the returned keys is non-nil on success.
func loadAnyKey(path, passFlag string) (*rsa.PrivateKey, *rsa.PublicKey, audit.KeyRef, keyfile.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, audit.KeyRef{Path: path}, "", fmt.Errorf("failed to read key file: %w", err)
	}
	format := keyfile.Detect(data)

	pass, _ := resolvePassphrase(passFlag, false)
	priv, privErr := keyfile.DecodePrivateKey(data, pass)
	if privErr == nil {
		ref := privateRef(path, priv)
		return priv, nil, ref, format, audit.LogKeyLoaded(ref, string(format), nil)
	}
	if isAuthError(privErr) {
		if aerr := audit.LogAuthFailed(path, privErr.Error()); aerr != nil {
			return nil, nil, audit.KeyRef{Path: path}, format, aerr
		}
		return nil, nil, audit.KeyRef{Path: path}, format, fmt.Errorf("failed to load key %s: %w", path, privErr)
	}

	pub, pubErr := keyfile.DecodePublicKey(data)
	if pubErr != nil {
		ref := audit.KeyRef{Path: path}
		if aerr := audit.LogKeyLoaded(ref, string(format), privErr); aerr != nil {
			return nil, nil, ref, format, aerr
		}
		return nil, nil, ref, format, fmt.Errorf("failed to load key %s: %w", path, privErr)
	}
	ref := publicRef(path, pub)
	return nil, pub, ref, format, audit.LogKeyLoaded(ref, string(format), nil)
}

// digestInput returns what gets signed for data: its digest, or data itself
// when it is already a digest or the hash is none.
func digestInput(h rsa.Hash, data []byte, prehashed bool) ([]byte, error) {
	if prehashed {
		return data, nil
	}
	return h.Digest(data)
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
