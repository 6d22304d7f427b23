package tlscert

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestIssueSelfSigned(t *testing.T) {
	cert, err := IssueSelfSigned("192.168.1.20", 0)
	if err != nil {
		t.Fatalf("failed to issue cert: %v", err)
	}
	if _, err := tls.X509KeyPair(cert.CertPEM, cert.KeyPEM); err != nil {
		t.Fatalf("expected a usable key pair: %v", err)
	}

	block, _ := pem.Decode(cert.CertPEM)
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if err := parsed.VerifyHostname("192.168.1.20"); err != nil {
		t.Fatalf("expected cert to cover the host ip: %v", err)
	}
	if err := parsed.VerifyHostname("localhost"); err != nil {
		t.Fatalf("expected cert to cover localhost: %v", err)
	}
	found := false
	for _, ip := range parsed.IPAddresses {
		if ip.Equal(net.ParseIP("127.0.0.1")) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected loopback ip in %v", parsed.IPAddresses)
	}
}

func TestEnsureSelfSignedKeepsValidCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "server.crt")
	keyFile := filepath.Join(dir, "tls", "server.key")

	if err := EnsureSelfSigned(certFile, keyFile, "papermc.example.com"); err != nil {
		t.Fatalf("failed to generate cert: %v", err)
	}
	first, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("failed to read cert: %v", err)
	}
	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatalf("failed to stat key: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected key to be private, got %v", info.Mode().Perm())
	}

	if err := EnsureSelfSigned(certFile, keyFile, "papermc.example.com"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	second, _ := os.ReadFile(certFile)
	if string(first) != string(second) {
		t.Fatalf("expected existing certificate to be reused")
	}
}

func TestEnsureSelfSignedRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	os.WriteFile(certFile, []byte("not a certificate"), 0644)

	if err := EnsureSelfSigned(certFile, filepath.Join(dir, "server.key"), ""); err == nil {
		t.Fatalf("expected an unreadable certificate to be reported")
	}
}
