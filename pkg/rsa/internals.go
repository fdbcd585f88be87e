package rsa

import (
	"fmt"
	"io"
	"math/big"

	"github.com/cronokirby/saferith"
)

// maxBlindingAttempts bounds the search for a blinding factor coprime to N.
// A random r shares a factor with N with probability about Σ 1/p_i.
const maxBlindingAttempts = 64

// EncryptInt performs the raw public-key operation m^e mod n.
//
// m must be smaller than N. This is not checked here; the padding layer
// guarantees it by construction.
func EncryptInt(pub *PublicKey, m *big.Int) *big.Int {
	return new(big.Int).Exp(m, pub.E, pub.N)
}

// DecryptInt performs the raw private-key operation c^d mod n. If random is
// not nil the operation is blinded: c is multiplied by r^e for a fresh random
// r before exponentiation and the factor r is removed afterwards. The result
// is the same with or without blinding.
func DecryptInt(random io.Reader, priv *PrivateKey, c *big.Int) (*big.Int, error) {
	if priv.N == nil || priv.N.Sign() <= 0 || priv.D == nil {
		return nil, ErrDecryption
	}
	if c.Sign() < 0 || c.Cmp(priv.N) >= 0 {
		return nil, ErrDecryption
	}

	var ir *big.Int
	if random != nil {
		var err error
		c, ir, err = blind(random, &priv.PublicKey, c)
		if err != nil {
			return nil, err
		}
	}

	m := privateExp(priv, c)

	if ir != nil {
		m.Mul(m, ir)
		m.Mod(m, priv.N)
	}
	return m, nil
}

// DecryptAndCheckInt is DecryptInt followed by a re-encryption of the result,
// which must give back c. This catches faults in the CRT computation before a
// wrong result can leak the factorization.
func DecryptAndCheckInt(random io.Reader, priv *PrivateKey, c *big.Int) (*big.Int, error) {
	m, err := DecryptInt(random, priv, c)
	if err != nil {
		return nil, err
	}
	if EncryptInt(&priv.PublicKey, m).Cmp(c) != 0 {
		return nil, ErrDecryption
	}
	return m, nil
}

// blind returns c·r^e mod n and r⁻¹ mod n for a random r coprime to n.
func blind(random io.Reader, pub *PublicKey, c *big.Int) (*big.Int, *big.Int, error) {
	for i := 0; i < maxBlindingAttempts; i++ {
		r, err := randomBelow(random, pub.N)
		if err != nil {
			return nil, nil, err
		}
		if r.Sign() == 0 {
			continue
		}
		ir := new(big.Int).ModInverse(r, pub.N)
		if ir == nil {
			continue
		}
		blinded := new(big.Int).Exp(r, pub.E, pub.N)
		blinded.Mul(blinded, c)
		blinded.Mod(blinded, pub.N)
		return blinded, ir, nil
	}
	return nil, nil, fmt.Errorf("%w: no blinding factor found after %d attempts", ErrRandomSource, maxBlindingAttempts)
}

// randomBelow returns a uniform value in [0, max) by rejection sampling.
func randomBelow(random io.Reader, max *big.Int) (*big.Int, error) {
	bitLen := max.BitLen()
	buf := make([]byte, (bitLen+7)/8)
	mask := byte(0xff)
	if extra := uint(len(buf)*8 - bitLen); extra > 0 {
		mask >>= extra
	}
	n := new(big.Int)
	// Each draw succeeds with probability above 1/2.
	for i := 0; i < 128; i++ {
		if _, err := io.ReadFull(random, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRandomSource, err)
		}
		buf[0] &= mask
		n.SetBytes(buf)
		if n.Cmp(max) < 0 {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: rejection sampling did not converge", ErrRandomSource)
}

// privateExp computes c^d mod n, through the CRT when the key supports it.
func privateExp(priv *PrivateKey, c *big.Int) *big.Int {
	pre := priv.Precomputed()
	if pre == nil {
		return new(big.Int).Exp(c, priv.D, priv.N)
	}

	size := priv.N.BitLen()
	cNat := new(saferith.Nat).SetBig(c, size)

	// Garner's recombination: m accumulates the value mod R_i·p_i.
	var m *big.Int
	for i, prime := range priv.Primes {
		values := &pre.CRTValues[i]
		mod := pre.moduli[i]
		primeBits := prime.BitLen()

		exp := new(saferith.Nat).SetBig(values.Exp, primeBits)
		reduced := new(saferith.Nat).Mod(cNat, mod)
		mi := new(saferith.Nat).Exp(reduced, exp, mod)

		if i == 0 {
			m = mi.Big()
			continue
		}

		// h = (m_i - m) · coeff mod p_i. ModSub keeps the difference in
		// [0, p_i) even when m mod p_i is larger than m_i.
		acc := new(saferith.Nat).Mod(new(saferith.Nat).SetBig(m, size), mod)
		diff := new(saferith.Nat).ModSub(mi, acc, mod)
		coeff := new(saferith.Nat).SetBig(values.Coeff, primeBits)
		h := new(saferith.Nat).ModMul(diff, coeff, mod)

		term := h.Big()
		term.Mul(term, values.R)
		m.Add(m, term)
	}
	return m
}
