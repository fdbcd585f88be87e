package rsa

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Keys serialize as their integer components, each a little-endian sequence
// of 32-bit limbs: public keys as (n, e), private keys as (n, e, d, primes).
// JSON uses an object with those keys in that order. CBOR uses a fixed-length
// array in the same order with canonical encoding, so the bytes of a given
// key never vary.

type publicKeyWire struct {
	_ struct{} `cbor:",toarray"`
	N []uint32 `json:"n"`
	E []uint32 `json:"e"`
}

type privateKeyWire struct {
	_      struct{}   `cbor:",toarray"`
	N      []uint32   `json:"n"`
	E      []uint32   `json:"e"`
	D      []uint32   `json:"d"`
	Primes [][]uint32 `json:"primes"`
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Limbs returns the magnitude of x as little-endian 32-bit limbs with no
// trailing zero limb. Zero (and nil) encode as an empty, non-nil slice.
func Limbs(x *big.Int) []uint32 {
	if x == nil {
		return []uint32{}
	}
	b := x.Bytes()
	limbs := make([]uint32, 0, (len(b)+3)/4)
	for end := len(b); end > 0; end -= 4 {
		start := max(end-4, 0)
		var w uint32
		for _, c := range b[start:end] {
			w = w<<8 | uint32(c)
		}
		limbs = append(limbs, w)
	}
	return limbs
}

// FromLimbs is the inverse of Limbs. Trailing zero limbs are accepted.
func FromLimbs(limbs []uint32) *big.Int {
	b := make([]byte, 4*len(limbs))
	for i, w := range limbs {
		binary.BigEndian.PutUint32(b[len(b)-4*(i+1):], w)
	}
	return new(big.Int).SetBytes(b)
}

func (pub *PublicKey) wire() publicKeyWire {
	return publicKeyWire{N: Limbs(pub.N), E: Limbs(pub.E)}
}

func (w *publicKeyWire) key() (*PublicKey, error) {
	if len(w.N) == 0 {
		return nil, fmt.Errorf("%w: missing modulus", ErrSerialization)
	}
	if len(w.E) == 0 {
		return nil, fmt.Errorf("%w: missing public exponent", ErrSerialization)
	}
	return &PublicKey{N: FromLimbs(w.N), E: FromLimbs(w.E)}, nil
}

func (priv *PrivateKey) wire() privateKeyWire {
	w := privateKeyWire{
		N:      Limbs(priv.N),
		E:      Limbs(priv.E),
		D:      Limbs(priv.D),
		Primes: make([][]uint32, len(priv.Primes)),
	}
	for i, p := range priv.Primes {
		w.Primes[i] = Limbs(p)
	}
	return w
}

// set replaces the contents of priv with the decoded key and refreshes the
// CRT cache.
func (w *privateKeyWire) set(priv *PrivateKey) error {
	pw := publicKeyWire{N: w.N, E: w.E}
	pub, err := pw.key()
	if err != nil {
		return err
	}
	if len(w.D) == 0 {
		return fmt.Errorf("%w: missing private exponent", ErrSerialization)
	}
	primes := make([]*big.Int, len(w.Primes))
	for i, p := range w.Primes {
		if len(p) == 0 {
			return fmt.Errorf("%w: prime %d is empty", ErrSerialization, i)
		}
		primes[i] = FromLimbs(p)
	}

	priv.N, priv.E = pub.N, pub.E
	priv.D = FromLimbs(w.D)
	priv.Primes = primes
	priv.precomputed.Store(nil)
	priv.Precompute()
	return nil
}

// MarshalJSON encodes the key as {"n": [...], "e": [...]}.
func (pub *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pub.wire())
}

// UnmarshalJSON decodes a key written by MarshalJSON.
func (pub *PublicKey) UnmarshalJSON(data []byte) error {
	var w publicKeyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	k, err := w.key()
	if err != nil {
		return err
	}
	pub.N, pub.E = k.N, k.E
	return nil
}

// MarshalCBOR encodes the key as the canonical CBOR array [n, e].
func (pub *PublicKey) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(pub.wire())
}

// UnmarshalCBOR decodes a key written by MarshalCBOR.
func (pub *PublicKey) UnmarshalCBOR(data []byte) error {
	var w publicKeyWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	k, err := w.key()
	if err != nil {
		return err
	}
	pub.N, pub.E = k.N, k.E
	return nil
}

// MarshalJSON encodes the key as {"n", "e", "d", "primes"}. Precomputed
// values are not serialized.
func (priv *PrivateKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(priv.wire())
}

// UnmarshalJSON decodes a key written by MarshalJSON. The key is not
// validated.
func (priv *PrivateKey) UnmarshalJSON(data []byte) error {
	var w privateKeyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return w.set(priv)
}

// MarshalCBOR encodes the key as the canonical CBOR array [n, e, d, primes].
func (priv *PrivateKey) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(priv.wire())
}

// UnmarshalCBOR decodes a key written by MarshalCBOR. The key is not
// validated.
func (priv *PrivateKey) UnmarshalCBOR(data []byte) error {
	var w privateKeyWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return w.set(priv)
}
