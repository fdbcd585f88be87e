// Package audit records security-relevant key operations in an append-only
// JSONL journal.
//
// Every event carries the hash of its predecessor, so any edit, deletion or
// reordering of lines breaks the chain and is detected by VerifyChain.
//
// Rules:
//   - A failed audit write fails the operation being audited
//   - Key material, plaintexts and passphrases are never recorded
//   - Timestamps are RFC 3339 in UTC
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType represents the category of audit event.
type EventType string

const (
	// Key lifecycle events
	EventKeyGenerated EventType = "KEY_GENERATED"
	EventKeyLoaded    EventType = "KEY_LOADED"
	EventKeyValidated EventType = "KEY_VALIDATED"
	EventKeyExported  EventType = "KEY_EXPORTED"

	// Key usage events
	EventEncrypt EventType = "ENCRYPT"
	EventDecrypt EventType = "DECRYPT"
	EventSign    EventType = "SIGN"
	EventVerify  EventType = "VERIFY"

	// Security events
	EventAuthFailed EventType = "AUTH_FAILED"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ResultOf maps a success flag to a Result.
func ResultOf(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// Actor represents who performed the action.
type Actor struct {
	Type string `json:"type"`           // "user", "system", "service"
	ID   string `json:"id"`             // username or service identifier
	Host string `json:"host,omitempty"` // hostname where action occurred
}

// Object represents the key acted upon.
type Object struct {
	Type        string `json:"type"`                  // "private_key", "public_key"
	Path        string `json:"path,omitempty"`        // key file path
	Fingerprint string `json:"fingerprint,omitempty"` // SHA-256 of the PKCS #1 public key
}

// Context provides additional details about the operation.
type Context struct {
	Bits     int    `json:"bits,omitempty"`     // modulus size
	Primes   int    `json:"primes,omitempty"`   // number of prime factors
	Format   string `json:"format,omitempty"`   // key file format
	Padding  string `json:"padding,omitempty"`  // padding scheme
	Hash     string `json:"hash,omitempty"`     // signature hash
	Blinded  bool   `json:"blinded,omitempty"`  // private operation was blinded
	Verified bool   `json:"verified,omitempty"` // signature verification result
	Reason   string `json:"reason,omitempty"`   // failure reason
}

// Event represents a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"`
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash,omitempty"`
}

// NewEvent creates an event stamped with the current time and the local
// user and host.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "unknown"
	}

	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor:     Actor{Type: "user", ID: username, Host: hostname},
		Result:    result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return fmt.Errorf("event_type is required")
	case e.Timestamp == "":
		return fmt.Errorf("timestamp is required")
	case e.Actor.Type == "" || e.Actor.ID == "":
		return fmt.Errorf("actor type and id are required")
	case e.Result != ResultSuccess && e.Result != ResultFailure:
		return fmt.Errorf("result must be %q or %q", ResultSuccess, ResultFailure)
	}
	return nil
}

// CanonicalJSON returns the bytes that are hashed into the chain: the event
// without its own Hash.
func (e *Event) CanonicalJSON() ([]byte, error) {
	c := *e
	c.Hash = ""
	return json.Marshal(&c)
}

// JSON returns the full event as a single JSONL line, without the newline.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
