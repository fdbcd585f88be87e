package rsa

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/remiblancher/rsakit/internal/drbg"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func mustBig(t testing.TB, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid integer literal %q", s)
	}
	return n
}

func mustBase64(t testing.TB, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid base64 %q: %v", s, err)
	}
	return b
}

// testKey512 returns the 512-bit two-prime key used by the PKCS #1 v1.5
// known-answer tests.
func testKey512(t testing.TB) *PrivateKey {
	t.Helper()
	return NewPrivateKey(
		mustBig(t, "9353930466774385905609975137998169297361893554149986716853295022578535724979677252958524466350471210367835187480748268864277464700638583474144061408845077"),
		big.NewInt(65537),
		mustBig(t, "7266398431328116344057699379749222532279343923819063639497049039389899328538543087657733766554155839834519529439851673014800261285757759040931985506583861"),
		[]*big.Int{
			mustBig(t, "98920366548084643601728869055592650835572950932266967461790948584315647051443"),
			mustBig(t, "94560208308847015747498523884063394671606671904944666360068158221458669711639"),
		},
	)
}

// testKey64 returns a 64-bit key with known limb encodings.
func testKey64() *PrivateKey {
	return NewPrivateKey(
		FromLimbs([]uint32{1296829443, 2444363981}),
		FromLimbs([]uint32{65537}),
		FromLimbs([]uint32{298985985, 2349628418}),
		[]*big.Int{
			FromLimbs([]uint32{3238068481}),
			FromLimbs([]uint32{3242199299}),
		},
	)
}

// testKeyNegativeCRT returns a 128-bit key whose CRT recombination produces
// a negative difference for many inputs.
func testKeyNegativeCRT() *PrivateKey {
	le := func(b ...byte) *big.Int {
		be := make([]byte, len(b))
		for i, c := range b {
			be[len(b)-1-i] = c
		}
		return new(big.Int).SetBytes(be)
	}
	return NewPrivateKey(
		le(99, 192, 208, 179, 0, 220, 7, 29, 49, 151, 75, 107, 75, 73, 200, 180),
		le(1, 0, 1),
		le(81, 163, 254, 144, 171, 159, 144, 42, 244, 133, 51, 249, 28, 12, 63, 65),
		[]*big.Int{
			le(105, 101, 60, 173, 19, 153, 3, 192),
			le(235, 65, 160, 134, 32, 136, 6, 241),
		},
	)
}

// checkKeyBasics validates priv and round-trips a small value through the
// raw transform with and without blinding.
func checkKeyBasics(t testing.TB, priv *PrivateKey) {
	t.Helper()

	if err := priv.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if priv.D.Cmp(priv.N) >= 0 {
		t.Fatal("private exponent too large")
	}

	m := big.NewInt(42)
	c := EncryptInt(priv.PublicKeyCopy(), m)

	m2, err := DecryptInt(nil, priv, c)
	if err != nil {
		t.Fatalf("DecryptInt(unblinded) error = %v", err)
	}
	if m2.Cmp(m) != 0 {
		t.Fatalf("DecryptInt(unblinded) = %v, want %v", m2, m)
	}

	m3, err := DecryptInt(rand.Reader, priv, c)
	if err != nil {
		t.Fatalf("DecryptInt(blinded) error = %v", err)
	}
	if m3.Cmp(m) != 0 {
		t.Fatalf("DecryptInt(blinded) = %v, want %v", m3, m)
	}
}

func seeded(seed string) *drbg.Reader {
	return drbg.New([]byte(seed))
}

// zeroReader returns only zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// errReader always fails.
type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errTestRead
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestRead = testError("read failed")
