package certs

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestRefreshCoversDomains(t *testing.T) {
	m := NewManager("")
	if err := m.Refresh([]string{"app.test", "api.test"}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	cert, err := m.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	for _, name := range []string{"app.test", "api.test", "localhost"} {
		if err := cert.Leaf.VerifyHostname(name); err != nil {
			t.Errorf("certificate does not cover %s: %v", name, err)
		}
	}
}

func TestRefreshSkipsUnchangedSet(t *testing.T) {
	m := NewManager("")
	if err := m.Refresh([]string{"app.test"}); err != nil {
		t.Fatal(err)
	}
	first, _ := m.GetCertificate(nil)

	// same set, different order
	if err := m.Refresh([]string{"app.test"}); err != nil {
		t.Fatal(err)
	}
	second, _ := m.GetCertificate(nil)
	if first != second {
		t.Fatal("unchanged domain set re-minted the certificate")
	}

	if err := m.Refresh([]string{"app.test", "new.test"}); err != nil {
		t.Fatal(err)
	}
	third, _ := m.GetCertificate(nil)
	if third == second {
		t.Fatal("changed domain set did not re-mint the certificate")
	}
}

func TestGetCertificateBeforeRefresh(t *testing.T) {
	m := NewManager("")
	if _, err := m.GetCertificate(nil); err == nil {
		t.Fatal("expected error before any Refresh")
	}
}

func TestWritePEM(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	m := NewManager(dir)
	if err := m.Refresh([]string{"app.test"}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	for _, name := range []string{"devgate.crt", "devgate.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	info, err := os.Stat(filepath.Join(dir, "devgate.key"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}
}
