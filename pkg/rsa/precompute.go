package rsa

import (
	"math/big"

	"github.com/cronokirby/saferith"
)

// PrecomputedValues holds the CRT data that speeds up private-key
// operations. It is derived entirely from the primes and D and is immutable
// once published on a key.
type PrecomputedValues struct {
	// CRTValues has one entry per prime, in the order of PrivateKey.Primes.
	CRTValues []CRTValue

	// moduli caches the constant-time modulus for each prime.
	moduli []*saferith.Modulus
}

// CRTValue contains the precomputed Chinese remainder theorem values for one
// prime. For the first prime R and Coeff are both 1.
type CRTValue struct {
	Exp   *big.Int // D mod (prime-1)
	Coeff *big.Int // R·Coeff ≡ 1 mod prime
	R     *big.Int // product of the primes before this one
}

// Precompute derives the CRT values if they are not present yet. It is safe
// to call concurrently: racing callers may compute the values redundantly but
// only one result is published and readers never see a partial value.
//
// Keys whose primes cannot support CRT (fewer than two, even, or not
// pairwise coprime) are left without precomputed values and use the plain
// private exponent instead.
func (priv *PrivateKey) Precompute() {
	if priv.precomputed.Load() != nil {
		return
	}
	pre := computeCRT(priv)
	if pre == nil {
		return
	}
	priv.precomputed.CompareAndSwap(nil, pre)
}

// Precomputed returns the CRT values, computing them on first use. It
// returns nil when the key cannot support CRT.
func (priv *PrivateKey) Precomputed() *PrecomputedValues {
	if pre := priv.precomputed.Load(); pre != nil {
		return pre
	}
	priv.Precompute()
	return priv.precomputed.Load()
}

func computeCRT(priv *PrivateKey) *PrecomputedValues {
	if priv.D == nil || len(priv.Primes) < 2 {
		return nil
	}
	for _, p := range priv.Primes {
		if p == nil || p.Cmp(bigOne) <= 0 || p.Bit(0) == 0 {
			return nil
		}
	}

	pre := &PrecomputedValues{
		CRTValues: make([]CRTValue, len(priv.Primes)),
		moduli:    make([]*saferith.Modulus, len(priv.Primes)),
	}
	r := new(big.Int).Set(bigOne)
	for i, prime := range priv.Primes {
		values := &pre.CRTValues[i]

		values.Exp = new(big.Int).Sub(prime, bigOne)
		values.Exp.Mod(priv.D, values.Exp)

		values.R = new(big.Int).Set(r)
		if i == 0 {
			values.Coeff = new(big.Int).Set(bigOne)
		} else {
			values.Coeff = new(big.Int).ModInverse(r, prime)
			if values.Coeff == nil {
				return nil
			}
		}

		pre.moduli[i] = saferith.ModulusFromBytes(prime.Bytes())
		r.Mul(r, prime)
	}
	return pre
}
