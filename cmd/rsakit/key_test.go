package main

import (
	"bytes"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remiblancher/rsakit/internal/keyfile"
	"github.com/remiblancher/rsakit/pkg/rsa"
)

// =============================================================================
// Key Gen Tests (Table-Driven)
// =============================================================================

func TestF_KeyGen(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		primes  int
		format  keyfile.Format
		wantErr error
	}{
		{"[Functional] KeyGen: default pem", []string{"--bits", "512"}, 2, keyfile.FormatPEM, nil},
		{"[Functional] KeyGen: der 3 primes", []string{"--bits", "768", "--primes", "3", "--format", "der"}, 3, keyfile.FormatDER, nil},
		{"[Functional] KeyGen: json", []string{"--bits", "512", "--format", "json"}, 2, keyfile.FormatJSON, nil},
		{"[Functional] KeyGen: cbor 4 primes", []string{"--bits", "1024", "--primes", "4", "--format", "cbor"}, 4, keyfile.FormatCBOR, nil},
		{"[Functional] KeyGen: too small", []string{"--bits", "8", "--primes", "5"}, 0, "", rsa.ErrKeyTooSmall},
		{"[Functional] KeyGen: single prime", []string{"--bits", "512", "--primes", "1"}, 0, "", rsa.ErrInfeasibleParameters},
		{"[Functional] KeyGen: unknown format", []string{"--bits", "512", "--format", "xml"}, 0, "", keyfile.ErrUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestContext(t)
			out := tc.path("key")

			args := append([]string{"key", "gen", "--out", out}, tt.args...)
			stdout, err := tc.runErr(args...)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
					t.Error("no key file should be written on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v\n%s", err, stdout)
			}

			assertFileNotEmpty(t, out)
			data, _ := os.ReadFile(out)
			if got := keyfile.Detect(data); got != tt.format {
				t.Errorf("format = %s, want %s", got, tt.format)
			}
			priv := tc.loadPrivate(out, "")
			if len(priv.Primes) != tt.primes {
				t.Errorf("primes = %d, want %d", len(priv.Primes), tt.primes)
			}
			if err := priv.Validate(); err != nil {
				t.Errorf("generated key invalid: %v", err)
			}
			if !strings.Contains(stdout, "Fingerprint: sha256:") {
				t.Errorf("output lacks fingerprint:\n%s", stdout)
			}

			info, err := os.Stat(out)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("private key mode = %o, want 600", info.Mode().Perm())
			}
		})
	}
}

func TestF_KeyGen_Seeded(t *testing.T) {
	tc := newTestContext(t)
	a, b, c := tc.path("a.json"), tc.path("b.json"), tc.path("c.json")

	tc.run("key", "gen", "--bits", "512", "--format", "json", "--seed", "00ff", "--out", a)
	tc.run("key", "gen", "--bits", "512", "--format", "json", "--seed", "00ff", "--out", b)
	tc.run("key", "gen", "--bits", "512", "--format", "json", "--seed", "0100", "--out", c)

	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	dc, _ := os.ReadFile(c)
	if !bytes.Equal(da, db) {
		t.Error("same seed produced different keys")
	}
	if bytes.Equal(da, dc) {
		t.Error("different seeds produced the same key")
	}

	if _, err := tc.runErr("key", "gen", "--bits", "512", "--seed", "xyz", "--out", tc.path("d")); err == nil {
		t.Error("invalid hex seed accepted")
	}
}

func TestF_KeyGen_WithPassphrase(t *testing.T) {
	tc := newTestContext(t)
	key, pub := tc.path("enc.pem"), tc.path("enc.pub")

	out := tc.run("key", "gen", "--bits", "512", "--out", key, "--public-out", pub, "--passphrase", "secret123")
	if strings.Contains(out, "WARNING") {
		t.Error("encrypted key reported as unencrypted")
	}

	if _, err := tc.runErr("key", "info", key); !errors.Is(err, keyfile.ErrPassphraseRequired) {
		t.Errorf("info without passphrase error = %v, want ErrPassphraseRequired", err)
	}
	info := tc.run("key", "info", key, "--passphrase", "secret123")
	if !strings.Contains(info, "RSA private key") {
		t.Errorf("unexpected info output:\n%s", info)
	}

	// The public key written alongside needs no passphrase.
	info = tc.run("key", "info", pub)
	if !strings.Contains(info, "RSA public key") {
		t.Errorf("unexpected info output:\n%s", info)
	}

	if _, err := tc.runErr("key", "gen", "--bits", "512", "--format", "json", "--passphrase", "x", "--out", tc.path("k.json")); err == nil {
		t.Error("passphrase accepted for json output")
	}
}

func TestF_KeyGen_FromConfig(t *testing.T) {
	tc := newTestContext(t)
	cfgPath := tc.writeFile("rsakit.yaml", `
keygen:
  bits: 768
  primes: 3
key_format: cbor
passphrase_env: RSAKIT_TEST_UNUSED
`)
	out := tc.path("key.cbor")

	// passphrase_env names an unset variable: writing a key must fail.
	t.Setenv("RSAKIT_TEST_UNUSED", "")
	if _, err := tc.runErr("--config", cfgPath, "key", "gen", "--seed", "01", "--out", out); err == nil {
		t.Fatal("expected error with an unset passphrase variable")
	}

	cfgPath = tc.writeFile("rsakit2.yaml", `
keygen:
  bits: 768
  primes: 3
key_format: cbor
`)
	tc.run("--config", cfgPath, "key", "gen", "--seed", "01", "--out", out)

	data, _ := os.ReadFile(out)
	if keyfile.Detect(data) != keyfile.FormatCBOR {
		t.Error("config key_format not applied")
	}
	priv := tc.loadPrivate(out, "")
	if priv.N.BitLen() != 768 || len(priv.Primes) != 3 {
		t.Errorf("got %d bits / %d primes, want 768 / 3", priv.N.BitLen(), len(priv.Primes))
	}

	bad := tc.writeFile("bad.yaml", "keygen:\n  primes: 1\n")
	if _, err := tc.runErr("--config", bad, "key", "gen", "--out", tc.path("x")); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestF_KeyGen_PassphraseFromEnvFile(t *testing.T) {
	const variable = "RSAKIT_TEST_CLI_DOTENV"
	os.Unsetenv(variable)
	t.Cleanup(func() { os.Unsetenv(variable) })

	tc := newTestContext(t)
	tc.writeFile("secrets.env", variable+"=dotenv-pass\n")
	cfgPath := tc.writeFile("rsakit.yaml", "passphrase_env: "+variable+"\nenv_file: secrets.env\n")
	out := tc.path("key.pem")

	tc.run("--config", cfgPath, "key", "gen", "--bits", "512", "--seed", "02", "--out", out)

	data, _ := os.ReadFile(out)
	if !strings.Contains(string(data), "ENCRYPTED") {
		t.Fatal("key written without the env_file passphrase")
	}
	if _, err := keyfile.DecodePrivateKey(data, nil); !errors.Is(err, keyfile.ErrPassphraseRequired) {
		t.Errorf("DecodePrivateKey(no passphrase) error = %v", err)
	}
	priv := tc.loadPrivate(out, "dotenv-pass")
	if priv.N.BitLen() != 512 {
		t.Errorf("N.BitLen() = %d, want 512", priv.N.BitLen())
	}
}

// =============================================================================
// Key Pub / Info / Validate / Convert Tests
// =============================================================================

func TestF_KeyPub(t *testing.T) {
	tc := newTestContext(t)
	key := tc.genKey("key.pem", 512, 2, "pem")

	for _, format := range keyfile.AllFormats() {
		t.Run("[Functional] KeyPub: "+string(format), func(t *testing.T) {
			tc := tc.withT(t)
			out := tc.path("pub." + string(format))
			tc.run("key", "pub", "--key", key, "--out", out, "--format", string(format))
			assertFileExists(t, out)

			pub, err := keyfile.LoadPublicKey(out)
			if err != nil {
				t.Fatalf("LoadPublicKey() error = %v", err)
			}
			if !pub.Equal(&tc.loadPrivate(key, "").PublicKey) {
				t.Error("extracted public key differs")
			}
			if _, err := keyfile.LoadPrivateKey(out, nil); err == nil {
				t.Error("public key file parsed as a private key")
			}
		})
	}
}

func TestF_KeyInfo(t *testing.T) {
	tc := newTestContext(t)
	key := tc.genKey("key.json", 768, 3, "json")

	out := tc.run("key", "info", key)
	for _, want := range []string{"RSA private key", "JSON", "768 bits", "Primes:      3", "Exponent:    65537", "CRT:         yes", "sha256:"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output lacks %q:\n%s", want, out)
		}
	}

	if _, err := tc.runErr("key", "info", tc.writeFile("junk", "not a key")); err == nil {
		t.Error("junk accepted as a key")
	}
	if _, err := tc.runErr("key", "info", tc.path("missing")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestF_KeyValidate(t *testing.T) {
	tc := newTestContext(t)
	key := tc.genKey("key.pem", 512, 2, "pem")

	out := tc.run("key", "validate", key)
	if !strings.Contains(out, "OK:") {
		t.Errorf("unexpected output:\n%s", out)
	}

	pub := tc.path("key.pub")
	tc.run("key", "pub", "--key", key, "--out", pub)
	tc.run("key", "validate", pub)

	// d+2 breaks d·e ≡ 1 mod p-1.
	priv := tc.loadPrivate(key, "")
	broken := rsa.NewPrivateKey(priv.N, priv.E, new(big.Int).Add(priv.D, big.NewInt(2)), priv.Primes)
	brokenPath := tc.path("broken.json")
	if err := keyfile.SavePrivateKey(brokenPath, broken, keyfile.FormatJSON, nil); err != nil {
		t.Fatal(err)
	}
	out, err := tc.runErr("key", "validate", brokenPath)
	if !errors.Is(err, rsa.ErrInvalidKey) {
		t.Fatalf("validate error = %v, want ErrInvalidKey", err)
	}
	if !strings.Contains(out, "INVALID") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestF_KeyConvert(t *testing.T) {
	tc := newTestContext(t)
	src := tc.genKey("key.pem", 1024, 3, "pem")
	want := tc.loadPrivate(src, "")

	prev := src
	for _, format := range []keyfile.Format{keyfile.FormatCBOR, keyfile.FormatDER, keyfile.FormatJSON, keyfile.FormatPEM} {
		next := filepath.Join(tc.tempDir, "conv."+string(format))
		tc.run("key", "convert", prev, "--format", string(format), "--out", next)

		data, _ := os.ReadFile(next)
		if keyfile.Detect(data) != format {
			t.Errorf("%s: wrong output format", format)
		}
		if got := tc.loadPrivate(next, ""); !got.Equal(want) {
			t.Errorf("%s: key changed during conversion", format)
		}
		prev = next
	}

	enc := tc.path("enc.pem")
	tc.run("key", "convert", src, "--new-passphrase", "pw", "--out", enc)
	if got := tc.loadPrivate(enc, "pw"); !got.Equal(want) {
		t.Error("passphrase conversion changed the key")
	}
	plain := tc.path("plain.der")
	tc.run("key", "convert", enc, "--passphrase", "pw", "--format", "der", "--out", plain)
	if got := tc.loadPrivate(plain, ""); !got.Equal(want) {
		t.Error("passphrase removal changed the key")
	}

	if _, err := tc.runErr("key", "convert", src, "--format", "json", "--new-passphrase", "pw", "--out", tc.path("x")); err == nil {
		t.Error("passphrase accepted for json output")
	}
}
