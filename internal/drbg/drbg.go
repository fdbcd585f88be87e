// Package drbg provides a deterministic random byte stream derived from a
// seed. The same seed always yields the same stream, so key material built
// from it is reproducible. It is meant for tests, fixtures and explicitly
// seeded key generation; never use a low-entropy seed for real keys.
package drbg

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cloudflare/circl/xof"
)

// Label domain-separates the stream from other SHAKE-256 uses of the seed.
const Label = "rsakit/drbg/v1"

// Reader is a SHAKE-256 output stream. It never returns an error.
type Reader struct {
	x xof.XOF
}

// New returns a Reader over SHAKE-256(Label || seed).
func New(seed []byte) *Reader {
	x := xof.SHAKE256.New()
	_, _ = x.Write([]byte(Label))
	_, _ = x.Write(seed)
	return &Reader{x: x}
}

// NewFromHex decodes a hex seed and returns New(seed).
func NewFromHex(seed string) (*Reader, error) {
	b, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex seed: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty seed")
	}
	return New(b), nil
}

// Read fills p with the next bytes of the stream.
func (r *Reader) Read(p []byte) (int, error) {
	return r.x.Read(p)
}

var _ io.Reader = (*Reader)(nil)
