package rsa

import (
	"fmt"
	"math/big"
)

// primalityRounds is the Miller-Rabin round count used by Validate.
const primalityRounds = 20

// Validate performs sanity checks on the public key.
func (pub *PublicKey) Validate() error {
	if err := checkPub(pub); err != nil {
		return newKeyError("validate", err)
	}
	return nil
}

func checkPub(pub *PublicKey) error {
	if pub.N == nil || pub.N.Cmp(bigOne) <= 0 {
		return fmt.Errorf("%w: missing or invalid modulus", ErrInvalidKey)
	}
	if pub.E == nil || pub.E.Cmp(big.NewInt(2)) < 0 {
		return fmt.Errorf("%w: public exponent too small", ErrInvalidKey)
	}
	if pub.E.Cmp(pub.N) >= 0 {
		return fmt.Errorf("%w: public exponent not smaller than modulus", ErrInvalidKey)
	}
	return nil
}

// Validate checks the private key invariants: the primes are distinct odd
// probable primes whose product is N, D is smaller than N, and D is the
// inverse of E modulo p-1 for every prime, which is equivalent to
// d·e ≡ 1 mod λ(n). The returned error wraps ErrInvalidKey and names the
// failed check.
func (priv *PrivateKey) Validate() error {
	if err := priv.validate(); err != nil {
		return newKeyError("validate", err)
	}
	return nil
}

func (priv *PrivateKey) validate() error {
	if err := checkPub(&priv.PublicKey); err != nil {
		return err
	}
	if priv.D == nil || priv.D.Sign() <= 0 {
		return fmt.Errorf("%w: missing private exponent", ErrInvalidKey)
	}
	if priv.D.Cmp(priv.N) >= 0 {
		return fmt.Errorf("%w: private exponent not smaller than modulus", ErrInvalidKey)
	}
	if len(priv.Primes) < 2 {
		return fmt.Errorf("%w: need at least 2 primes, have %d", ErrInvalidKey, len(priv.Primes))
	}

	modulus := new(big.Int).Set(bigOne)
	for i, prime := range priv.Primes {
		// Primes ≤ 1 would cause division by zero further on.
		if prime == nil || prime.Cmp(bigOne) <= 0 {
			return fmt.Errorf("%w: prime %d is not greater than 1", ErrInvalidKey, i)
		}
		if prime.Bit(0) == 0 {
			return fmt.Errorf("%w: prime %d is even", ErrInvalidKey, i)
		}
		if !prime.ProbablyPrime(primalityRounds) {
			return fmt.Errorf("%w: factor %d is not prime", ErrInvalidKey, i)
		}
		for j := 0; j < i; j++ {
			if prime.Cmp(priv.Primes[j]) == 0 {
				return fmt.Errorf("%w: primes %d and %d are equal", ErrInvalidKey, j, i)
			}
		}
		modulus.Mul(modulus, prime)
	}
	if modulus.Cmp(priv.N) != 0 {
		return fmt.Errorf("%w: modulus is not the product of the primes", ErrInvalidKey)
	}

	// de ≡ 1 mod p-1 for each prime implies e is invertible modulo
	// lcm(p_i - 1) = λ(n), and that a^de ≡ a mod n for all a.
	de := new(big.Int).Mul(priv.E, priv.D)
	congruence := new(big.Int)
	pminus1 := new(big.Int)
	for i, prime := range priv.Primes {
		pminus1.Sub(prime, bigOne)
		congruence.Mod(de, pminus1)
		if congruence.Cmp(bigOne) != 0 {
			return fmt.Errorf("%w: private exponent is not the inverse of e modulo prime %d - 1", ErrInvalidKey, i)
		}
	}
	return nil
}
