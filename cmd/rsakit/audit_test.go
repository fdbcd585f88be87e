package main

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/remiblancher/rsakit/internal/audit"
	"github.com/remiblancher/rsakit/internal/config"
	"github.com/remiblancher/rsakit/pkg/rsa"
)

// =============================================================================
// Audit Log Tests
// =============================================================================

func readAuditEvents(t *testing.T, path string) []audit.Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read audit log: %v", err)
	}
	var events []audit.Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var e audit.Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid audit line %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func TestF_Audit_KeyLifecycle(t *testing.T) {
	tc := newTestContext(t)
	log := tc.path("audit.jsonl")
	key := tc.path("key.pem")
	doc := tc.writeFile("doc", "audited payload")
	sig := tc.path("sig")
	ct := tc.path("ct")
	pt := tc.path("pt")

	tc.run("--audit-log", log, "key", "gen", "--bits", "512", "--seed", "a0d1", "--out", key)
	tc.run("--audit-log", log, "sign", "--key", key, "--in", doc, "--out", sig)
	tc.run("--audit-log", log, "verify", "--key", key, "--in", doc, "--sig", sig)
	tc.run("--audit-log", log, "encrypt", "--key", key, "--in", doc, "--out", ct)
	tc.run("--audit-log", log, "decrypt", "--key", key, "--in", ct, "--out", pt, "--no-blinding")

	events := readAuditEvents(t, log)
	want := []audit.EventType{
		audit.EventKeyGenerated,
		audit.EventKeyLoaded, audit.EventSign,
		audit.EventKeyLoaded, audit.EventVerify,
		audit.EventKeyLoaded, audit.EventEncrypt,
		audit.EventKeyLoaded, audit.EventDecrypt,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	fingerprint := events[0].Object.Fingerprint
	if !strings.HasPrefix(fingerprint, "sha256:") {
		t.Fatalf("generation event lacks fingerprint: %+v", events[0])
	}
	for i, e := range events {
		if e.EventType != want[i] {
			t.Errorf("event %d = %s, want %s", i, e.EventType, want[i])
		}
		if e.Result != audit.ResultSuccess {
			t.Errorf("event %d result = %s", i, e.Result)
		}
		if e.Object.Fingerprint != fingerprint {
			t.Errorf("event %d fingerprint = %q, want %q", i, e.Object.Fingerprint, fingerprint)
		}
	}
	if !events[2].Context.Blinded {
		t.Error("sign should be blinded by default")
	}
	if events[8].Context.Blinded {
		t.Error("decrypt ran with --no-blinding")
	}
	if events[2].Context.Hash != "sha256" {
		t.Errorf("sign hash = %q, want sha256", events[2].Context.Hash)
	}

	out := tc.run("audit", "verify", "--log", log)
	if !strings.Contains(out, "VERIFICATION PASSED") || !strings.Contains(out, "Total events: 9") {
		t.Errorf("unexpected verify output:\n%s", out)
	}

	out = tc.run("audit", "tail", "--log", log, "-n", "2")
	if !strings.Contains(out, "DECRYPT") || strings.Contains(out, "KEY_GENERATED") {
		t.Errorf("unexpected tail output:\n%s", out)
	}

	out = tc.run("audit", "tail", "--log", log, "--json", "-n", "3")
	var tail []audit.Event
	if err := json.Unmarshal([]byte(out), &tail); err != nil {
		t.Fatalf("tail --json is not a JSON array: %v\n%s", err, out)
	}
	if len(tail) != 3 {
		t.Errorf("tail --json returned %d events, want 3", len(tail))
	}
}

func TestF_Audit_EncryptedKeyLoadedOnce(t *testing.T) {
	tc := newTestContext(t)
	log := tc.path("audit.jsonl")
	key := tc.path("enc.pem")
	doc := tc.writeFile("doc", "payload")

	tc.run("--audit-log", log, "key", "gen", "--bits", "512", "--seed", "0ce1", "--out", key, "--passphrase", "pw")
	tc.run("--audit-log", log, "encrypt", "--key", key, "--passphrase", "pw", "--in", doc, "--out", tc.path("ct"))

	events := readAuditEvents(t, log)
	want := []audit.EventType{audit.EventKeyGenerated, audit.EventKeyLoaded, audit.EventEncrypt}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.EventType != want[i] {
			t.Errorf("event %d = %s, want %s", i, e.EventType, want[i])
		}
		if e.Object.Fingerprint != events[0].Object.Fingerprint {
			t.Errorf("event %d fingerprint = %q, want %q", i, e.Object.Fingerprint, events[0].Object.Fingerprint)
		}
	}
}

func TestU_LoadedRef_FingerprintOnlyWhenAuditing(t *testing.T) {
	tc := newTestContext(t)
	priv := tc.loadPrivate(tc.genKey("key.pem", 512, 2, "pem"), "")

	if ref := loadedRef("key.pem", &priv.PublicKey, true); ref.Fingerprint != "" {
		t.Errorf("fingerprint computed with auditing off: %q", ref.Fingerprint)
	}

	if err := audit.Init(audit.NewMemoryWriter()); err != nil {
		t.Fatalf("audit.Init() error = %v", err)
	}
	ref := loadedRef("key.pem", &priv.PublicKey, true)
	if !strings.HasPrefix(ref.Fingerprint, "sha256:") || !ref.Private {
		t.Errorf("loadedRef() = %+v, want a private ref with fingerprint", ref)
	}
}

func TestF_Audit_Failures(t *testing.T) {
	tc := newTestContext(t)
	log := tc.path("audit.jsonl")
	key := tc.path("enc.pem")

	tc.run("--audit-log", log, "key", "gen", "--bits", "512", "--seed", "beef", "--out", key, "--passphrase", "pw")

	if _, err := tc.runErr("--audit-log", log, "sign", "--key", key, "--in", key); err == nil {
		t.Fatal("signing with a locked key succeeded")
	}

	ct := tc.writeFile("ct", strings.Repeat("A", 64))
	_, err := tc.runErr("--audit-log", log, "decrypt", "--key", key, "--passphrase", "pw", "--in", ct, "--out", tc.path("pt"))
	if !errors.Is(err, rsa.ErrDecryption) {
		t.Fatalf("decrypt error = %v, want ErrDecryption", err)
	}

	events := readAuditEvents(t, log)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[1].EventType != audit.EventAuthFailed || events[1].Result != audit.ResultFailure {
		t.Errorf("locked key not recorded as AUTH_FAILED: %+v", events[1])
	}
	last := events[3]
	if last.EventType != audit.EventDecrypt || last.Result != audit.ResultFailure {
		t.Errorf("failed decrypt not recorded: %+v", last)
	}
	if last.Context.Reason != rsa.ErrDecryption.Error() {
		t.Errorf("decrypt failure reason = %q", last.Context.Reason)
	}

	if _, err := audit.VerifyChain(log); err != nil {
		t.Errorf("chain broken after failures: %v", err)
	}
}

func TestF_Audit_VerifyTampered(t *testing.T) {
	tc := newTestContext(t)
	log := tc.path("audit.jsonl")
	key := tc.path("key.json")

	tc.run("--audit-log", log, "key", "gen", "--bits", "512", "--format", "json", "--seed", "c0de", "--out", key)
	tc.run("--audit-log", log, "key", "validate", key)
	tc.run("--audit-log", log, "key", "info", key)

	data, _ := os.ReadFile(log)
	tampered := strings.Replace(string(data), `"bits":512`, `"bits":4096`, 1)
	if tampered == string(data) {
		t.Fatal("nothing to tamper with")
	}
	if err := os.WriteFile(log, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	out, err := tc.runErr("audit", "verify", "--log", log)
	if !errors.Is(err, audit.ErrChainBroken) {
		t.Fatalf("error = %v, want ErrChainBroken", err)
	}
	if !strings.Contains(out, "VERIFICATION FAILED") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestF_Audit_EnvOverride(t *testing.T) {
	tc := newTestContext(t)
	log := tc.path("env-audit.jsonl")
	t.Setenv(config.EnvAuditLog, log)

	tc.run("key", "gen", "--bits", "512", "--seed", "e0", "--out", tc.path("key.pem"))

	n, err := audit.VerifyChain(log)
	if err != nil || n != 1 {
		t.Errorf("VerifyChain() = %d, %v; want 1, nil", n, err)
	}
}
