package rsa

import (
	"crypto"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
)

// minPaddingLen is the shortest PS string accepted when decrypting. RFC 8017
// requires at least 8 bytes of non-zero padding.
const minPaddingLen = 8

// maxNonZeroDraws bounds how often a single padding byte is redrawn.
const maxNonZeroDraws = 1024

var (
	_ crypto.Signer    = (*PrivateKey)(nil)
	_ crypto.Decrypter = (*PrivateKey)(nil)
)

// PKCS1v15DecryptOptions is passed to PrivateKey.Decrypt to select PKCS #1
// v1.5 decryption. A non-zero SessionKeyLen switches to the session-key mode
// of DecryptPKCS1v15SessionKey: on a padding error a random key of that
// length is returned instead of an error.
type PKCS1v15DecryptOptions struct {
	SessionKeyLen int
}

// EncryptPKCS1v15 encrypts msg with pub using the RSAES-PKCS1-v1_5 scheme.
// msg must be no longer than the modulus size minus 11 bytes. The output is
// always exactly pub.Size() bytes.
func EncryptPKCS1v15(random io.Reader, pub *PublicKey, msg []byte) ([]byte, error) {
	if err := checkPub(pub); err != nil {
		return nil, err
	}
	k := pub.Size()
	if len(msg) > k-11 {
		return nil, ErrMessageTooLong
	}

	// EM = 0x00 || 0x02 || PS || 0x00 || M
	em := make([]byte, k)
	em[1] = 2
	ps, mm := em[2:len(em)-len(msg)-1], em[len(em)-len(msg):]
	if err := nonZeroRandomBytes(ps, random); err != nil {
		return nil, err
	}
	em[len(em)-len(msg)-1] = 0
	copy(mm, msg)

	c := EncryptInt(pub, new(big.Int).SetBytes(em))
	return c.FillBytes(em), nil
}

// DecryptPKCS1v15 decrypts ciphertext with priv using the RSAES-PKCS1-v1_5
// scheme. If random is not nil the private-key operation is blinded.
//
// Every malformed input produces the same ErrDecryption, and the padding
// check runs in constant time. Whether the padding was valid can still leak
// through the protocol that uses the result; see DecryptPKCS1v15SessionKey.
func DecryptPKCS1v15(random io.Reader, priv *PrivateKey, ciphertext []byte) ([]byte, error) {
	valid, em, index, err := decryptPKCS1v15(random, priv, ciphertext)
	if err != nil {
		return nil, err
	}
	if valid == 0 {
		return nil, ErrDecryption
	}
	return em[index:], nil
}

// DecryptPKCS1v15SessionKey decrypts a session key into key. It returns an
// error only if the ciphertext length is wrong or the key cannot decrypt at
// all. When the padding is invalid, or the recovered message is not exactly
// len(key) bytes, key is left untouched, so the caller should fill it with
// random bytes first. Either way the running time does not depend on the
// padding, which defeats the Bleichenbacher oracle as long as the protocol
// itself does not reveal whether key was overwritten.
func DecryptPKCS1v15SessionKey(random io.Reader, priv *PrivateKey, ciphertext []byte, key []byte) error {
	k := priv.Size()
	if k-(len(key)+3+minPaddingLen) < 0 {
		return ErrDecryption
	}

	valid, em, index, err := decryptPKCS1v15(random, priv, ciphertext)
	if err != nil {
		return err
	}
	if len(em) != k {
		return ErrDecryption
	}

	valid &= subtle.ConstantTimeEq(int32(len(em)-index), int32(len(key)))
	subtle.ConstantTimeCopy(valid, key, em[len(em)-len(key):])
	return nil
}

// decryptPKCS1v15 returns valid == 1 when the block is well formed, the
// padded block em, and the index of the message inside it. Any error here
// concerns the ciphertext as a whole, never the padding bytes.
func decryptPKCS1v15(random io.Reader, priv *PrivateKey, ciphertext []byte) (valid int, em []byte, index int, err error) {
	if priv.N == nil {
		return 0, nil, 0, ErrDecryption
	}
	k := priv.Size()
	if k < 11 || len(ciphertext) != k {
		return 0, nil, 0, ErrDecryption
	}

	c := new(big.Int).SetBytes(ciphertext)
	m, err := DecryptAndCheckInt(random, priv, c)
	if err != nil {
		return 0, nil, 0, ErrDecryption
	}
	em = m.FillBytes(make([]byte, k))

	firstByteIsZero := subtle.ConstantTimeByteEq(em[0], 0)
	secondByteIsTwo := subtle.ConstantTimeByteEq(em[1], 2)

	// The scan always runs to the end of the block. lookingForIndex drops
	// to 0 at the first zero byte after the header.
	lookingForIndex := 1
	for i := 2; i < len(em); i++ {
		equals0 := subtle.ConstantTimeByteEq(em[i], 0)
		index = subtle.ConstantTimeSelect(lookingForIndex&equals0, i, index)
		lookingForIndex = subtle.ConstantTimeSelect(equals0, 0, lookingForIndex)
	}

	validPS := subtle.ConstantTimeLessOrEq(2+minPaddingLen, index)

	valid = firstByteIsZero & secondByteIsTwo & (^lookingForIndex & 1) & validPS
	index = subtle.ConstantTimeSelect(valid, index+1, 0)
	return valid, em, index, nil
}

// nonZeroRandomBytes fills s with random non-zero bytes. Zero bytes are
// redrawn one at a time, at most maxNonZeroDraws times each.
func nonZeroRandomBytes(s []byte, random io.Reader) error {
	if len(s) == 0 {
		return nil
	}
	if random == nil {
		return fmt.Errorf("%w: no random source", ErrRandomSource)
	}
	if _, err := io.ReadFull(random, s); err != nil {
		return fmt.Errorf("%w: %v", ErrRandomSource, err)
	}

	for i := range s {
		for draws := 0; s[i] == 0; draws++ {
			if draws == maxNonZeroDraws {
				return fmt.Errorf("%w: random source keeps returning zero bytes", ErrRandomSource)
			}
			if _, err := io.ReadFull(random, s[i:i+1]); err != nil {
				return fmt.Errorf("%w: %v", ErrRandomSource, err)
			}
		}
	}
	return nil
}

// SignPKCS1v15 signs hashed with priv using RSASSA-PKCS1-v1_5. hashed must
// be the output of hash over the message; with Unprefixed it is signed as is.
//
// If random is nil the signature is computed without blinding. Otherwise
// the private-key operation is blinded with randomness from random. The
// signature is the same in both cases.
func SignPKCS1v15(random io.Reader, priv *PrivateKey, hash Hash, hashed []byte) ([]byte, error) {
	t, err := encodeDigest(hash, hashed)
	if err != nil {
		return nil, err
	}
	if priv.N == nil {
		return nil, newKeyError("sign", fmt.Errorf("%w: missing modulus", ErrInvalidKey))
	}

	k := priv.Size()
	em, err := signatureBlock(k, t)
	if err != nil {
		return nil, err
	}

	s, err := DecryptAndCheckInt(random, priv, new(big.Int).SetBytes(em))
	if err != nil {
		return nil, err
	}
	return s.FillBytes(em), nil
}

// VerifyPKCS1v15 verifies an RSASSA-PKCS1-v1_5 signature. A valid signature
// is indicated by returning a nil error; every failure wraps ErrVerification.
func VerifyPKCS1v15(pub *PublicKey, hash Hash, hashed []byte, sig []byte) error {
	if err := checkPub(pub); err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	t, err := encodeDigest(hash, hashed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}

	k := pub.Size()
	if len(sig) != k {
		return ErrVerification
	}
	expected, err := signatureBlock(k, t)
	if err != nil {
		return ErrVerification
	}

	s := new(big.Int).SetBytes(sig)
	if s.Cmp(pub.N) >= 0 {
		return ErrVerification
	}
	em := EncryptInt(pub, s).FillBytes(make([]byte, k))

	if subtle.ConstantTimeCompare(em, expected) != 1 {
		return ErrVerification
	}
	return nil
}

// signatureBlock returns EM = 0x00 || 0x01 || PS || 0x00 || T with PS made
// of 0xff bytes.
func signatureBlock(k int, t []byte) ([]byte, error) {
	if k < len(t)+11 {
		return nil, ErrMessageTooLong
	}
	em := make([]byte, k)
	em[1] = 1
	for i := 2; i < k-len(t)-1; i++ {
		em[i] = 0xff
	}
	copy(em[k-len(t):], t)
	return em, nil
}

// Encrypt encrypts msg under the given padding scheme.
func (pub *PublicKey) Encrypt(random io.Reader, scheme PaddingScheme, msg []byte) ([]byte, error) {
	switch scheme {
	case PaddingPKCS1v15:
		return EncryptPKCS1v15(random, pub, msg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPadding, scheme)
	}
}

// Verify checks sig over hashed under the given padding scheme.
func (pub *PublicKey) Verify(scheme PaddingScheme, hash Hash, hashed, sig []byte) error {
	switch scheme {
	case PaddingPKCS1v15:
		return VerifyPKCS1v15(pub, hash, hashed, sig)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedPadding, scheme)
	}
}

// Decrypt implements crypto.Decrypter. opts may be nil, a nil
// *PKCS1v15DecryptOptions or a PaddingScheme, all selecting PKCS #1 v1.5,
// or a *PKCS1v15DecryptOptions. random, when not nil, blinds the
// private-key operation.
func (priv *PrivateKey) Decrypt(random io.Reader, ciphertext []byte, opts crypto.DecrypterOpts) ([]byte, error) {
	switch opts := opts.(type) {
	case nil:
		return DecryptPKCS1v15(random, priv, ciphertext)
	case PaddingScheme:
		switch opts {
		case PaddingPKCS1v15:
			return DecryptPKCS1v15(random, priv, ciphertext)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPadding, opts)
		}
	case *PKCS1v15DecryptOptions:
		if opts == nil {
			return DecryptPKCS1v15(random, priv, ciphertext)
		}
		if l := opts.SessionKeyLen; l > 0 {
			plaintext := make([]byte, l)
			if random == nil {
				return nil, fmt.Errorf("%w: session key mode needs a random source", ErrRandomSource)
			}
			if _, err := io.ReadFull(random, plaintext); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRandomSource, err)
			}
			if err := DecryptPKCS1v15SessionKey(random, priv, ciphertext, plaintext); err != nil {
				return nil, err
			}
			return plaintext, nil
		}
		return DecryptPKCS1v15(random, priv, ciphertext)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPadding, opts)
	}
}

// Sign implements crypto.Signer with PKCS #1 v1.5. opts may be a Hash, any
// crypto.SignerOpts whose HashFunc maps to a known Hash, or nil for an
// unprefixed signature. The signature is blinded when random is not nil.
func (priv *PrivateKey) Sign(random io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	hash := Unprefixed
	switch o := opts.(type) {
	case nil:
	case Hash:
		hash = o
	default:
		var err error
		if hash, err = HashFromCrypto(o.HashFunc()); err != nil {
			return nil, err
		}
	}
	return SignPKCS1v15(random, priv, hash, digest)
}

// SignWith signs hashed without blinding.
func (priv *PrivateKey) SignWith(scheme PaddingScheme, hash Hash, hashed []byte) ([]byte, error) {
	return priv.SignBlinded(nil, scheme, hash, hashed)
}

// SignBlinded signs hashed, blinding the private-key operation with
// randomness from random.
func (priv *PrivateKey) SignBlinded(random io.Reader, scheme PaddingScheme, hash Hash, hashed []byte) ([]byte, error) {
	switch scheme {
	case PaddingPKCS1v15:
		return SignPKCS1v15(random, priv, hash, hashed)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPadding, scheme)
	}
}
