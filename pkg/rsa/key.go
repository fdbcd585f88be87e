// Package rsa implements multi-prime RSA keys, their generation and
// validation, the raw RSA transform with optional blinding, and the
// PKCS #1 v1.5 padding scheme for encryption and signatures.
//
// Every operation that needs randomness takes an io.Reader supplied by the
// caller. There is no implicit global random source, which makes the whole
// package reproducible under a seeded reader.
//
// Private-key exponentiation runs per prime through constant-time modular
// arithmetic and is recombined with the Chinese remainder theorem. The CRT
// values are a derived cache: they are computed on first use (or by
// [PrivateKey.Precompute]) and never treated as a source of truth.
//
// Example:
//
//	priv, err := rsa.GenerateKey(rand.Reader, 2048)
//	if err != nil {
//	    return err
//	}
//	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, rsa.SHA256, digest)
package rsa

import (
	"crypto"
	"math/big"
	"sync/atomic"
)

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
)

// DefaultPublicExponent is the public exponent used by the generator.
const DefaultPublicExponent = 65537

// PublicKey represents the public part of an RSA key.
type PublicKey struct {
	N *big.Int // modulus
	E *big.Int // public exponent
}

// PrivateKey represents an RSA key with any number (≥ 2) of primes.
type PrivateKey struct {
	PublicKey
	D      *big.Int   // private exponent
	Primes []*big.Int // prime factors of N

	precomputed atomic.Pointer[PrecomputedValues]
}

// NewPublicKey creates a public key from its modulus and exponent.
func NewPublicKey(n, e *big.Int) *PublicKey {
	return &PublicKey{
		N: new(big.Int).Set(n),
		E: new(big.Int).Set(e),
	}
}

// NewPrivateKey creates a private key from explicit components, for loading
// externally generated keys and test fixtures. The components are copied and
// not validated; call Validate before trusting the key. CRT values are
// computed when the primes allow it.
func NewPrivateKey(n, e, d *big.Int, primes []*big.Int) *PrivateKey {
	priv := &PrivateKey{
		PublicKey: PublicKey{
			N: new(big.Int).Set(n),
			E: new(big.Int).Set(e),
		},
		D:      new(big.Int).Set(d),
		Primes: make([]*big.Int, len(primes)),
	}
	for i, p := range primes {
		priv.Primes[i] = new(big.Int).Set(p)
	}
	priv.Precompute()
	return priv
}

// Size returns the modulus size in bytes. Ciphertexts and signatures are
// exactly this size.
func (pub *PublicKey) Size() int {
	return (pub.N.BitLen() + 7) / 8
}

// Equal reports whether pub and x have the same value.
func (pub *PublicKey) Equal(x crypto.PublicKey) bool {
	xx, ok := x.(*PublicKey)
	if !ok || xx == nil {
		return false
	}
	return bigEqual(pub.N, xx.N) && bigEqual(pub.E, xx.E)
}

// Public returns the public key corresponding to priv. The result shares no
// memory with priv.
func (priv *PrivateKey) Public() crypto.PublicKey {
	return priv.PublicKeyCopy()
}

// PublicKeyCopy is Public with a concrete return type.
func (priv *PrivateKey) PublicKeyCopy() *PublicKey {
	return NewPublicKey(priv.N, priv.E)
}

// Equal reports whether priv and x have equivalent values. Precomputed
// values are ignored.
func (priv *PrivateKey) Equal(x crypto.PrivateKey) bool {
	xx, ok := x.(*PrivateKey)
	if !ok || xx == nil {
		return false
	}
	if !priv.PublicKey.Equal(&xx.PublicKey) || !bigEqual(priv.D, xx.D) {
		return false
	}
	if len(priv.Primes) != len(xx.Primes) {
		return false
	}
	for i := range priv.Primes {
		if !bigEqual(priv.Primes[i], xx.Primes[i]) {
			return false
		}
	}
	return true
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
