package contacts

import (
	"os"
	"path/filepath"
	"testing"

	logx "courier/pkg/logx"
)

const sampleDirectory = `
recipients:
  emp-1042:
    telegram: "8841523"
    sms: "+15550123"
    email: "b.siregar@example.com"
  emp-2000:
    email: "only.email@example.com"
  "  ":
    telegram: "ignored"
  emp-3000:
    telegram: "   "
`

func writeDirectory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadAndResolve(t *testing.T) {
	t.Parallel()
	d, err := Load(writeDirectory(t, sampleDirectory), logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := d.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2 (blank entries dropped)", got)
	}

	addr, ok := d.Resolve("emp-1042", "sms")
	if !ok || addr != "+15550123" {
		t.Fatalf("Resolve sms = %q, %v", addr, ok)
	}
	if _, ok := d.Resolve("emp-2000", "telegram"); ok {
		t.Fatal("emp-2000 has no telegram address")
	}
	if _, ok := d.Resolve("ghost", "email"); ok {
		t.Fatal("unknown recipient must not resolve")
	}
}

func TestAddressesReturnsCopy(t *testing.T) {
	t.Parallel()
	d, err := Load(writeDirectory(t, sampleDirectory), logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := d.Addresses("emp-1042")
	if len(m) != 3 {
		t.Fatalf("Addresses = %v", m)
	}
	m["telegram"] = "tampered"
	if addr, _ := d.Resolve("emp-1042", "telegram"); addr != "8841523" {
		t.Fatal("Addresses must return a copy")
	}

	if d.Addresses("ghost") != nil {
		t.Fatal("unknown recipient should return nil")
	}
}

func TestReloadKeepsOldCacheOnError(t *testing.T) {
	t.Parallel()
	path := writeDirectory(t, sampleDirectory)
	d, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(path, []byte("recipients: [broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := d.Reload(); err == nil {
		t.Fatal("expected parse error")
	}
	// Old data still answers.
	if _, ok := d.Resolve("emp-1042", "email"); !ok {
		t.Fatal("previous cache must survive a failed reload")
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	t.Parallel()
	path := writeDirectory(t, sampleDirectory)
	d, err := Load(path, logx.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	next := "recipients:\n  emp-9000:\n    telegram: \"777\"\n"
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := d.Resolve("emp-1042", "sms"); ok {
		t.Fatal("removed recipient still resolves")
	}
	if addr, ok := d.Resolve("emp-9000", "telegram"); !ok || addr != "777" {
		t.Fatalf("new recipient: %q, %v", addr, ok)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), logx.Nop()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
