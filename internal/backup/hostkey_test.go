package backup

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestKnownHostsCallbackTrustOnFirstUse(t *testing.T) {
	knownHostsPath := filepath.Join(t.TempDir(), "ssh", "known_hosts")

	callback, err := knownHostsCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	key1 := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}

	if err := callback("backup.example.com:2222", addr, key1); err != nil {
		t.Fatalf("expected first key to be accepted, got %v", err)
	}

	data, err := os.ReadFile(knownHostsPath)
	if err != nil {
		t.Fatalf("expected known_hosts file: %v", err)
	}
	if !strings.Contains(string(data), "[backup.example.com]:2222") {
		t.Fatalf("unexpected known_hosts content: %s", data)
	}

	callback, err = knownHostsCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to recreate callback: %v", err)
	}
	if err := callback("backup.example.com:2222", addr, key1); err != nil {
		t.Fatalf("expected recorded key to verify, got %v", err)
	}
	if err := callback("backup.example.com:2222", addr, generateTestPublicKey(t)); !errors.Is(err, ErrHostKeyChanged) {
		t.Fatalf("expected ErrHostKeyChanged, got %v", err)
	}
}

func TestKnownHostsCallbackRejectsUnknownWhenDisabled(t *testing.T) {
	callback, err := knownHostsCallback(filepath.Join(t.TempDir(), "known_hosts"), false)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}
	if err := callback("backup.example.com:22", addr, generateTestPublicKey(t)); err == nil {
		t.Fatalf("expected unknown host key to be rejected")
	}

	if _, err := knownHostsCallback("", true); err == nil {
		t.Fatalf("expected empty known_hosts path to be rejected")
	}
}

func generateTestPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to create public key: %v", err)
	}
	return key
}
