package rsa

import (
	"fmt"
	"io"
	"math"
	"math/big"
)

// DefaultMaxAttempts is the number of candidate prime sets the generator
// draws before giving up with ErrInfeasibleParameters.
const DefaultMaxAttempts = 4096

// GenerateOptions tunes key generation. The zero value selects the defaults.
type GenerateOptions struct {
	// PublicExponent is e. Must be odd and at least 3. Default 65537.
	PublicExponent int

	// MaxAttempts bounds the number of prime sets drawn. Default 4096.
	MaxAttempts int
}

func (o *GenerateOptions) resolve() (int, int) {
	e, attempts := DefaultPublicExponent, DefaultMaxAttempts
	if o != nil {
		if o.PublicExponent != 0 {
			e = o.PublicExponent
		}
		if o.MaxAttempts > 0 {
			attempts = o.MaxAttempts
		}
	}
	return e, attempts
}

// GenerateKey generates a two-prime RSA key whose modulus has exactly bits
// bits, reading randomness from random.
func GenerateKey(random io.Reader, bits int) (*PrivateKey, error) {
	return GenerateMultiPrimeKeyWithOptions(random, 2, bits, nil)
}

// GenerateMultiPrimeKey generates an RSA key with nprimes distinct primes
// whose product has exactly bits bits.
//
// Multi-prime keys are indistinguishable from two-prime keys on the public
// side. Table 1 in "On the Security of Multi-prime RSA" suggests the maximum
// number of primes for a given modulus size.
func GenerateMultiPrimeKey(random io.Reader, nprimes, bits int) (*PrivateKey, error) {
	return GenerateMultiPrimeKeyWithOptions(random, nprimes, bits, nil)
}

// GenerateMultiPrimeKeyWithOptions is GenerateMultiPrimeKey with explicit
// options. Generation never loops without bound: infeasible sizes fail fast
// with ErrKeyTooSmall and an exhausted attempt budget returns
// ErrInfeasibleParameters.
func GenerateMultiPrimeKeyWithOptions(random io.Reader, nprimes, bits int, opts *GenerateOptions) (*PrivateKey, error) {
	e, maxAttempts := opts.resolve()
	if e < 3 || e%2 == 0 {
		return nil, newKeyError("generate", fmt.Errorf("%w: public exponent must be odd and at least 3, got %d", ErrInfeasibleParameters, e))
	}
	if nprimes < 2 {
		return nil, newKeyError("generate", fmt.Errorf("%w: nprimes must be >= 2, got %d", ErrInfeasibleParameters, nprimes))
	}
	bigE := big.NewInt(int64(e))
	if err := checkFeasible(nprimes, bits, bigE); err != nil {
		return nil, newKeyError("generate", err)
	}

	primes := make([]*big.Int, nprimes)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		todo := bits
		// Each prime has its two top bits set, so each contributes a factor
		// of about 7/8 to the leading digits of the product. With many primes
		// the product would often come out short; compensate up front.
		if nprimes >= 7 {
			todo += (nprimes - 2) / 5
		}
		for i := 0; i < nprimes; i++ {
			p, err := randomPrime(random, todo/(nprimes-i))
			if err != nil {
				return nil, newKeyError("generate", err)
			}
			primes[i] = p
			todo -= p.BitLen()
		}

		if !pairwiseDistinct(primes) {
			continue
		}

		n := new(big.Int).Set(bigOne)
		for _, p := range primes {
			n.Mul(n, p)
		}
		if n.BitLen() != bits || n.Cmp(bigE) <= 0 {
			continue
		}

		d := new(big.Int).ModInverse(bigE, carmichael(primes))
		if d == nil {
			continue
		}

		priv := &PrivateKey{
			PublicKey: PublicKey{N: n, E: new(big.Int).Set(bigE)},
			D:         d,
			Primes:    append([]*big.Int(nil), primes...),
		}
		priv.Precompute()
		return priv, nil
	}

	return nil, newKeyError("generate", fmt.Errorf("%w: no %d-prime %d-bit key found after %d attempts",
		ErrInfeasibleParameters, nprimes, bits, maxAttempts))
}

// checkFeasible rejects sizes that cannot hold nprimes usable primes.
func checkFeasible(nprimes, bits int, e *big.Int) error {
	if bits/nprimes < 2 {
		return fmt.Errorf("%w: %d bits cannot hold %d primes", ErrKeyTooSmall, bits, nprimes)
	}
	if bits < e.BitLen() {
		return fmt.Errorf("%w: %d-bit modulus cannot exceed the public exponent", ErrKeyTooSmall, bits)
	}
	// Small primes can run out even inside a large modulus split across
	// many primes.
	if perPrime := bits / nprimes; perPrime < 64 {
		primeLimit := float64(uint64(1) << uint(perPrime))
		// pi approximates the number of primes below primeLimit.
		pi := primeLimit / (math.Log(primeLimit) - 1)
		// Only primes with the two top bits set are drawn: a quarter of them.
		pi /= 4
		// Keep a factor of two so generation finishes in reasonable time.
		pi /= 2
		if pi <= float64(nprimes) {
			return fmt.Errorf("%w: too few %d-bit primes for a %d-prime key", ErrKeyTooSmall, perPrime, nprimes)
		}
	}
	return nil
}

// randomPrime returns a probable prime of exactly bits bits with its two top
// bits set, so that the product of two such primes never loses a bit.
func randomPrime(random io.Reader, bits int) (*big.Int, error) {
	if bits < 2 {
		return nil, fmt.Errorf("%w: prime size must be at least 2 bits, got %d", ErrKeyTooSmall, bits)
	}

	b := uint(bits % 8)
	if b == 0 {
		b = 8
	}
	buf := make([]byte, (bits+7)/8)
	p := new(big.Int)

	budget := 64*bits + 1024
	for i := 0; i < budget; i++ {
		if _, err := io.ReadFull(random, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRandomSource, err)
		}

		buf[0] &= uint8(int(1<<b) - 1)
		if b >= 2 {
			buf[0] |= 3 << (b - 2)
		} else {
			buf[0] |= 1
			if len(buf) > 1 {
				buf[1] |= 0x80
			}
		}
		buf[len(buf)-1] |= 1

		p.SetBytes(buf)
		if p.ProbablyPrime(20) {
			return new(big.Int).Set(p), nil
		}
	}
	return nil, fmt.Errorf("%w: no %d-bit prime after %d candidates", ErrInfeasibleParameters, bits, budget)
}

func pairwiseDistinct(primes []*big.Int) bool {
	for i := range primes {
		for j := 0; j < i; j++ {
			if primes[i].Cmp(primes[j]) == 0 {
				return false
			}
		}
	}
	return true
}

// carmichael returns λ(n) = lcm(p_i - 1) for n = ∏ p_i.
func carmichael(primes []*big.Int) *big.Int {
	lambda := new(big.Int).Set(bigOne)
	pminus1 := new(big.Int)
	g := new(big.Int)
	for _, p := range primes {
		pminus1.Sub(p, bigOne)
		g.GCD(nil, nil, lambda, pminus1)
		lambda.Mul(lambda, pminus1)
		lambda.Quo(lambda, g)
	}
	return lambda
}
