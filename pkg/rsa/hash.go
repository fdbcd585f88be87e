package rsa

import (
	"crypto"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// Hash identifies the digest algorithm named in a PKCS #1 v1.5 signature.
//
// The zero value, Unprefixed, signs the supplied bytes as they are, with no
// DigestInfo wrapping.
type Hash uint8

const (
	Unprefixed Hash = iota
	MD5
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
	SHA3_256
	SHA3_384
	SHA3_512
	MD5SHA1
	RIPEMD160
)

// hashInfo holds metadata about a hash algorithm.
type hashInfo struct {
	Name   string
	Size   int
	OID    asn1.ObjectIdentifier
	Params bool // AlgorithmIdentifier carries an explicit NULL parameter
	Crypto crypto.Hash
	New    func() hash.Hash
}

// hashes maps Hash to its metadata.
var hashes = map[Hash]hashInfo{
	MD5: {
		Name: "md5", Size: md5.Size, Params: true, Crypto: crypto.MD5,
		OID: asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 5},
		New: md5.New,
	},
	SHA1: {
		Name: "sha1", Size: sha1.Size, Params: true, Crypto: crypto.SHA1,
		OID: asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26},
		New: sha1.New,
	},
	SHA224: {
		Name: "sha224", Size: sha256.Size224, Params: true, Crypto: crypto.SHA224,
		OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4},
		New: sha256.New224,
	},
	SHA256: {
		Name: "sha256", Size: sha256.Size, Params: true, Crypto: crypto.SHA256,
		OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1},
		New: sha256.New,
	},
	SHA384: {
		Name: "sha384", Size: sha512.Size384, Params: true, Crypto: crypto.SHA384,
		OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2},
		New: sha512.New384,
	},
	SHA512: {
		Name: "sha512", Size: sha512.Size, Params: true, Crypto: crypto.SHA512,
		OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3},
		New: sha512.New,
	},
	SHA3_256: {
		Name: "sha3-256", Size: 32, Params: true, Crypto: crypto.SHA3_256,
		OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8},
		New: sha3.New256,
	},
	SHA3_384: {
		Name: "sha3-384", Size: 48, Params: true, Crypto: crypto.SHA3_384,
		OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9},
		New: sha3.New384,
	},
	SHA3_512: {
		Name: "sha3-512", Size: 64, Params: true, Crypto: crypto.SHA3_512,
		OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10},
		New: sha3.New512,
	},
	// TLS 1.0/1.1 style: the two digests concatenated, no DigestInfo.
	MD5SHA1: {
		Name: "md5-sha1", Size: md5.Size + sha1.Size, Crypto: crypto.MD5SHA1,
		New: newMD5SHA1,
	},
	RIPEMD160: {
		Name: "ripemd160", Size: ripemd160.Size, Crypto: crypto.RIPEMD160,
		OID: asn1.ObjectIdentifier{1, 0, 10118, 3, 0, 49},
		New: ripemd160.New,
	},
}

// ParseHash parses a hash name such as "sha256". "none", "raw" and the empty
// string select Unprefixed.
func ParseHash(name string) (Hash, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "none", "raw", "unprefixed":
		return Unprefixed, nil
	case "sha-1":
		return SHA1, nil
	case "sha-256":
		return SHA256, nil
	case "sha-384":
		return SHA384, nil
	case "sha-512":
		return SHA512, nil
	}
	for h, info := range hashes {
		if info.Name == name {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedHash, name)
}

// HashFromCrypto maps a crypto.Hash to a Hash. crypto.Hash(0) maps to
// Unprefixed.
func HashFromCrypto(h crypto.Hash) (Hash, error) {
	if h == 0 {
		return Unprefixed, nil
	}
	for id, info := range hashes {
		if info.Crypto == h {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrUnsupportedHash, h)
}

// IsValid returns true if h is a known identifier.
func (h Hash) IsValid() bool {
	if h == Unprefixed {
		return true
	}
	_, ok := hashes[h]
	return ok
}

// String returns the hash name.
func (h Hash) String() string {
	if h == Unprefixed {
		return "none"
	}
	if info, ok := hashes[h]; ok {
		return info.Name
	}
	return fmt.Sprintf("Hash(%d)", uint8(h))
}

// Size returns the digest length in bytes, or 0 for Unprefixed.
func (h Hash) Size() int {
	return hashes[h].Size
}

// HashFunc implements crypto.SignerOpts, so a Hash can be passed directly
// to PrivateKey.Sign.
func (h Hash) HashFunc() crypto.Hash {
	return hashes[h].Crypto
}

// New returns a new hash.Hash computing the digest. It returns nil for
// Unprefixed and unknown values.
func (h Hash) New() hash.Hash {
	info, ok := hashes[h]
	if !ok {
		return nil
	}
	return info.New()
}

// Digest hashes msg. For Unprefixed it returns msg unchanged.
func (h Hash) Digest(msg []byte) ([]byte, error) {
	if h == Unprefixed {
		return msg, nil
	}
	hh := h.New()
	if hh == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, h)
	}
	hh.Write(msg)
	return hh.Sum(nil), nil
}

// Prefix returns the DER encoding of the DigestInfo structure up to, and
// including, the OCTET STRING header of the digest. Unprefixed and MD5SHA1
// have an empty prefix.
func (h Hash) Prefix() ([]byte, error) {
	info, ok := hashes[h]
	if !ok {
		if h == Unprefixed {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, h)
	}
	if info.OID == nil {
		return nil, nil
	}
	t, err := digestInfo(info, make([]byte, info.Size))
	if err != nil {
		return nil, err
	}
	return t[:len(t)-info.Size], nil
}

// encodeDigest returns the T value of EMSA-PKCS1-v1_5: the DER DigestInfo
// for hashed, or hashed itself when h carries no AlgorithmIdentifier.
func encodeDigest(h Hash, hashed []byte) ([]byte, error) {
	if h == Unprefixed {
		return hashed, nil
	}
	info, ok := hashes[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, h)
	}
	if len(hashed) != info.Size {
		return nil, fmt.Errorf("%w: %s digest must be %d bytes, got %d", ErrInvalidDigest, h, info.Size, len(hashed))
	}
	if info.OID == nil {
		return hashed, nil
	}
	return digestInfo(info, hashed)
}

// digestInfo encodes
//
//	DigestInfo ::= SEQUENCE {
//	    digestAlgorithm AlgorithmIdentifier,
//	    digest OCTET STRING }
func digestInfo(info hashInfo, digest []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(info.OID)
			if info.Params {
				b.AddASN1NULL()
			}
		})
		b.AddASN1OctetString(digest)
	})
	return b.Bytes()
}

type md5sha1 struct {
	md5, sha1 hash.Hash
}

func newMD5SHA1() hash.Hash {
	return &md5sha1{md5: md5.New(), sha1: sha1.New()}
}

func (h *md5sha1) Write(p []byte) (int, error) {
	h.md5.Write(p)
	return h.sha1.Write(p)
}

func (h *md5sha1) Sum(b []byte) []byte {
	return h.sha1.Sum(h.md5.Sum(b))
}

func (h *md5sha1) Reset() {
	h.md5.Reset()
	h.sha1.Reset()
}

func (h *md5sha1) Size() int      { return md5.Size + sha1.Size }
func (h *md5sha1) BlockSize() int { return h.sha1.BlockSize() }
