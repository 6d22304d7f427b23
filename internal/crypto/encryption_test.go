package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testManager(t *testing.T) *EncryptionManager {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	manager, err := NewEncryptionManager(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return manager
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	manager := testManager(t)

	ciphertext, err := manager.Encrypt("secret")
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	plaintext, err := manager.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("failed to decrypt: %v", err)
	}

	if plaintext != "secret" {
		t.Fatalf("expected plaintext to match, got %s", plaintext)
	}
}

func TestSealAndOpen(t *testing.T) {
	manager := testManager(t)

	sealed, err := manager.Seal("sftp-password")
	if err != nil {
		t.Fatalf("failed to seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "enc:v1:") || strings.Contains(sealed, "sftp-password") {
		t.Fatalf("unexpected sealed value %q", sealed)
	}

	again, _ := manager.Seal(sealed)
	if again != sealed {
		t.Fatalf("expected sealing twice to be a no-op")
	}

	opened, err := manager.Open(sealed)
	if err != nil || opened != "sftp-password" {
		t.Fatalf("expected round trip, got %q: %v", opened, err)
	}

	plain, err := manager.Open("not-sealed")
	if err != nil || plain != "not-sealed" {
		t.Fatalf("expected plain values to pass through, got %q: %v", plain, err)
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	sealed, err := testManager(t).Seal("secret")
	if err != nil {
		t.Fatalf("failed to seal: %v", err)
	}

	other, err := NewEncryptionManager(base64.StdEncoding.EncodeToString([]byte("a different key")))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatalf("expected decryption with a different key to fail")
	}
}

func TestNewEncryptionManagerRequiresKey(t *testing.T) {
	if _, err := NewEncryptionManager(""); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := NewEncryptionManager("%%%"); err == nil {
		t.Fatalf("expected invalid base64 to be rejected")
	}

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if _, err := NewEncryptionManager(key); err != nil {
		t.Fatalf("expected generated key to be accepted, got %v", err)
	}
}
