package keyfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/rsakit/pkg/rsa"
)

// PKCS #1 (RFC 8017 appendix A.1) structures:
//
//	RSAPublicKey ::= SEQUENCE {
//	    modulus           INTEGER,
//	    publicExponent    INTEGER }
//
//	RSAPrivateKey ::= SEQUENCE {
//	    version           Version,
//	    modulus           INTEGER,
//	    publicExponent    INTEGER,
//	    privateExponent   INTEGER,
//	    prime1            INTEGER,
//	    prime2            INTEGER,
//	    exponent1         INTEGER,
//	    exponent2         INTEGER,
//	    coefficient       INTEGER,
//	    otherPrimeInfos   OtherPrimeInfos OPTIONAL }
//
//	OtherPrimeInfo ::= SEQUENCE {
//	    prime             INTEGER,
//	    exponent          INTEGER,
//	    coefficient       INTEGER }

const (
	versionTwoPrime   = 0
	versionMultiPrime = 1
)

// MarshalPKCS1PrivateKey encodes priv as a DER RSAPrivateKey. Keys with more
// than two primes use version 1 with otherPrimeInfos. The CRT fields come
// from the key's precomputed values.
func MarshalPKCS1PrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	if priv.N == nil || priv.E == nil || priv.D == nil {
		return nil, fmt.Errorf("%w: incomplete private key", rsa.ErrSerialization)
	}
	if len(priv.Primes) < 2 {
		return nil, fmt.Errorf("%w: PKCS #1 needs at least two primes, have %d", rsa.ErrSerialization, len(priv.Primes))
	}

	pre := priv.Precomputed()
	if pre == nil {
		return nil, fmt.Errorf("%w: primes do not support CRT values", rsa.ErrSerialization)
	}

	// PKCS #1 defines the two-prime coefficient as q⁻¹ mod p, the inverse
	// of the CRT recombination order used for the other primes.
	p, q := priv.Primes[0], priv.Primes[1]
	qInv := new(big.Int).ModInverse(q, p)
	if qInv == nil {
		return nil, fmt.Errorf("%w: primes are not coprime", rsa.ErrSerialization)
	}

	version := int64(versionTwoPrime)
	if len(priv.Primes) > 2 {
		version = versionMultiPrime
	}

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(version)
		b.AddASN1BigInt(priv.N)
		b.AddASN1BigInt(priv.E)
		b.AddASN1BigInt(priv.D)
		b.AddASN1BigInt(p)
		b.AddASN1BigInt(q)
		b.AddASN1BigInt(pre.CRTValues[0].Exp)
		b.AddASN1BigInt(pre.CRTValues[1].Exp)
		b.AddASN1BigInt(qInv)
		if version == versionMultiPrime {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				for i := 2; i < len(priv.Primes); i++ {
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1BigInt(priv.Primes[i])
						b.AddASN1BigInt(pre.CRTValues[i].Exp)
						b.AddASN1BigInt(pre.CRTValues[i].Coeff)
					})
				}
			})
		}
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rsa.ErrSerialization, err)
	}
	return der, nil
}

// ParsePKCS1PrivateKey decodes a DER RSAPrivateKey. The stored CRT fields
// are skipped and recomputed from the primes. The key is not validated.
func ParsePKCS1PrivateKey(der []byte) (*rsa.PrivateKey, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: not a DER RSAPrivateKey", rsa.ErrSerialization)
	}

	var version int64
	if !seq.ReadASN1Integer(&version) {
		return nil, fmt.Errorf("%w: malformed version", rsa.ErrSerialization)
	}
	if version != versionTwoPrime && version != versionMultiPrime {
		return nil, fmt.Errorf("%w: unsupported RSAPrivateKey version %d", rsa.ErrSerialization, version)
	}

	n, e, d := new(big.Int), new(big.Int), new(big.Int)
	p, q := new(big.Int), new(big.Int)
	var skip big.Int
	if !seq.ReadASN1Integer(n) || !seq.ReadASN1Integer(e) || !seq.ReadASN1Integer(d) ||
		!seq.ReadASN1Integer(p) || !seq.ReadASN1Integer(q) ||
		!seq.ReadASN1Integer(&skip) || !seq.ReadASN1Integer(&skip) || !seq.ReadASN1Integer(&skip) {
		return nil, fmt.Errorf("%w: malformed RSAPrivateKey", rsa.ErrSerialization)
	}
	primes := []*big.Int{p, q}

	if version == versionMultiPrime {
		var others cryptobyte.String
		if !seq.ReadASN1(&others, cbasn1.SEQUENCE) || others.Empty() {
			return nil, fmt.Errorf("%w: version 1 key without otherPrimeInfos", rsa.ErrSerialization)
		}
		for !others.Empty() {
			var info cryptobyte.String
			prime := new(big.Int)
			if !others.ReadASN1(&info, cbasn1.SEQUENCE) ||
				!info.ReadASN1Integer(prime) || !info.ReadASN1Integer(&skip) || !info.ReadASN1Integer(&skip) ||
				!info.Empty() {
				return nil, fmt.Errorf("%w: malformed OtherPrimeInfo", rsa.ErrSerialization)
			}
			primes = append(primes, prime)
		}
	}
	if !seq.Empty() {
		return nil, fmt.Errorf("%w: trailing data in RSAPrivateKey", rsa.ErrSerialization)
	}

	for _, v := range append([]*big.Int{n, e, d}, primes...) {
		if v.Sign() <= 0 {
			return nil, fmt.Errorf("%w: non-positive key component", rsa.ErrSerialization)
		}
	}
	return rsa.NewPrivateKey(n, e, d, primes), nil
}

// MarshalPKCS1PublicKey encodes pub as a DER RSAPublicKey.
func MarshalPKCS1PublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub.N == nil || pub.E == nil {
		return nil, fmt.Errorf("%w: incomplete public key", rsa.ErrSerialization)
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(pub.N)
		b.AddASN1BigInt(pub.E)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rsa.ErrSerialization, err)
	}
	return der, nil
}

// ParsePKCS1PublicKey decodes a DER RSAPublicKey.
func ParsePKCS1PublicKey(der []byte) (*rsa.PublicKey, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	n, e := new(big.Int), new(big.Int)
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadASN1Integer(n) || !seq.ReadASN1Integer(e) || !seq.Empty() {
		return nil, fmt.Errorf("%w: not a DER RSAPublicKey", rsa.ErrSerialization)
	}
	if n.Sign() <= 0 || e.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive key component", rsa.ErrSerialization)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

// Fingerprint returns "sha256:" followed by the hex SHA-256 of the PKCS #1
// RSAPublicKey encoding of pub.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := MarshalPKCS1PublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
