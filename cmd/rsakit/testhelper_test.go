package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/cobra"

	"github.com/remiblancher/rsakit/internal/audit"
	"github.com/remiblancher/rsakit/internal/config"
	"github.com/remiblancher/rsakit/internal/keyfile"
	"github.com/remiblancher/rsakit/pkg/rsa"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext resets global CLI state and creates a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvAuditLog, "")
	resetFlags()
	t.Cleanup(func() {
		_ = audit.Close()
		resetFlags()
	})
	return &testContext{t: t, tempDir: t.TempDir()}
}

// withT returns a context sharing the temp directory but reporting to t.
// Subtests use it so failures stop the subtest, not its parent.
func (tc *testContext) withT(t *testing.T) *testContext {
	return &testContext{t: t, tempDir: tc.tempDir}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// run executes rsakit and fails the test on error.
func (tc *testContext) run(args ...string) string {
	tc.t.Helper()
	resetFlags()
	out, err := executeCommand(rootCmd, args...)
	if err != nil {
		tc.t.Fatalf("rsakit %v: %v\n%s", args, err, out)
	}
	return out
}

// runErr executes rsakit and returns its error.
func (tc *testContext) runErr(args ...string) (string, error) {
	tc.t.Helper()
	resetFlags()
	return executeCommand(rootCmd, args...)
}

// genKey generates a deterministic key file and returns its path.
func (tc *testContext) genKey(name string, bits, primes int, format string) string {
	tc.t.Helper()
	path := tc.path(name)
	tc.run("key", "gen", "--bits", strconv.Itoa(bits), "--primes", strconv.Itoa(primes),
		"--format", format, "--seed", fmt.Sprintf("5eed%04x%02x", bits, primes), "--out", path)
	return path
}

func (tc *testContext) loadPrivate(path string, pass string) *rsa.PrivateKey {
	tc.t.Helper()
	priv, err := keyfile.LoadPrivateKey(path, []byte(pass))
	if err != nil {
		tc.t.Fatalf("LoadPrivateKey(%s) error = %v", path, err)
	}
	return priv
}

// resetFlags restores every flag variable to its default. Cobra keeps
// flag values between executions of the same command tree.
func resetFlags() {
	configPath = ""
	auditLogPath = ""
	cfg = config.Default()

	keyGenBits = 0
	keyGenPrimes = 0
	keyGenOutput = ""
	keyGenPublicOut = ""
	keyGenFormat = ""
	keyGenSeed = ""
	keyGenPassphrase = ""

	keyPubKey = ""
	keyPubOut = ""
	keyPubFormat = ""
	keyPubPassphrase = ""

	keyInfoPassphrase = ""
	keyValidatePassphrase = ""

	keyConvertOut = ""
	keyConvertFormat = ""
	keyConvertPassphrase = ""
	keyConvertNewPass = ""

	encryptKey = ""
	encryptInput = ""
	encryptOutput = ""
	encryptPassphrase = ""

	decryptKey = ""
	decryptInput = ""
	decryptOutput = ""
	decryptPassphrase = ""
	decryptNoBlinding = false
	decryptSessionKeyLen = 0

	signKey = ""
	signInput = ""
	signOutput = ""
	signHash = ""
	signPrehashed = false
	signNoBlinding = false
	signPassphrase = ""

	verifyKey = ""
	verifyInput = ""
	verifySignature = ""
	verifyHash = ""
	verifyPrehashed = false
	verifyPassphrase = ""

	auditLogFile = ""
	auditTailNum = 10
	auditShowJSON = false
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// assertFileExists verifies that a file exists at the given path.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("file %s does not exist", path)
	}
}

// assertFileNotEmpty verifies that a file exists and is not empty.
func assertFileNotEmpty(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	if len(data) == 0 {
		t.Errorf("file %s is empty", path)
	}
}

// assertError fails the test if err is nil.
func assertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
