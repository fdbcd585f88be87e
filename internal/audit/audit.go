package audit

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalWriter Writer = NopWriter{}
	enabled      bool
)

// Init installs w as the process-wide journal, closing the previous one. A
// nil w disables auditing.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalWriter != w {
		_ = globalWriter.Close()
	}
	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}
	globalWriter = w
	enabled = true
	return nil
}

// InitFile opens the journal at path. An empty path disables auditing.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	return Init(w)
}

// Close closes the process-wide journal and disables auditing.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

// Enabled reports whether a journal is installed.
func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes event to the process-wide journal.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog is Log with an error suitable for failing the audited operation:
//
//	if err := audit.MustLog(event); err != nil {
//	    return err
//	}
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// KeyRef identifies the key an event is about.
type KeyRef struct {
	Path        string
	Fingerprint string
	Private     bool
}

func (k KeyRef) object() Object {
	typ := "public_key"
	if k.Private {
		typ = "private_key"
	}
	return Object{Type: typ, Path: k.Path, Fingerprint: k.Fingerprint}
}

func logKeyEvent(typ EventType, key KeyRef, ctx Context, opErr error) error {
	if opErr != nil {
		ctx.Reason = opErr.Error()
	}
	return MustLog(NewEvent(typ, ResultOf(opErr == nil)).
		WithObject(key.object()).
		WithContext(ctx))
}

// LogKeyGenerated records a key generation.
func LogKeyGenerated(key KeyRef, bits, primes int, format string, opErr error) error {
	return logKeyEvent(EventKeyGenerated, key, Context{Bits: bits, Primes: primes, Format: format}, opErr)
}

// LogKeyLoaded records a key being read from disk.
func LogKeyLoaded(key KeyRef, format string, opErr error) error {
	return logKeyEvent(EventKeyLoaded, key, Context{Format: format}, opErr)
}

// LogKeyValidated records a key validation and its verdict.
func LogKeyValidated(key KeyRef, bits, primes int, opErr error) error {
	return logKeyEvent(EventKeyValidated, key, Context{Bits: bits, Primes: primes}, opErr)
}

// LogKeyExported records a key being written in another format.
func LogKeyExported(key KeyRef, format string, opErr error) error {
	return logKeyEvent(EventKeyExported, key, Context{Format: format}, opErr)
}

// LogEncrypt records a public-key encryption.
func LogEncrypt(key KeyRef, padding string, opErr error) error {
	return logKeyEvent(EventEncrypt, key, Context{Padding: padding}, opErr)
}

// LogDecrypt records a private-key decryption. The reason of a failed
// decryption is always the generic decryption error.
func LogDecrypt(key KeyRef, padding string, blinded bool, opErr error) error {
	return logKeyEvent(EventDecrypt, key, Context{Padding: padding, Blinded: blinded}, opErr)
}

// LogSign records a signature.
func LogSign(key KeyRef, hash string, blinded bool, opErr error) error {
	return logKeyEvent(EventSign, key, Context{Hash: hash, Blinded: blinded}, opErr)
}

// LogVerify records a signature check. A rejected signature is a failure.
func LogVerify(key KeyRef, hash string, opErr error) error {
	return logKeyEvent(EventVerify, key, Context{Hash: hash, Verified: opErr == nil}, opErr)
}

// LogAuthFailed records a key file that could not be unlocked.
func LogAuthFailed(path, reason string) error {
	event := NewEvent(EventAuthFailed, ResultFailure).
		WithObject(Object{Type: "private_key", Path: path}).
		WithContext(Context{Reason: reason})
	return MustLog(event)
}
