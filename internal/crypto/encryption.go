package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// DefaultKeyID is the default encryption key version
	DefaultKeyID = "v1"

	// KeyEnv names the environment variable holding the base64 encryption key
	KeyEnv = "ENCRYPTION_KEY"

	sealedPrefix = "enc:"
)

// ErrNoKey is returned when a sealed value is found but no key is configured
var ErrNoKey = errors.New("no " + KeyEnv + " configured")

// EncryptionManager handles AES-256 encryption/decryption
type EncryptionManager struct {
	key   []byte
	keyID string
}

// NewEncryptionManager creates an encryption manager from a base64 key.
// Keys that are not 32 bytes long are stretched with SHA-256.
func NewEncryptionManager(keyStr string) (*EncryptionManager, error) {
	if strings.TrimSpace(keyStr) == "" {
		return nil, ErrNoKey
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyStr))
	if err != nil {
		return nil, fmt.Errorf("invalid %s format (must be base64): %w", KeyEnv, err)
	}

	key := decoded
	if len(decoded) != 32 {
		hash := sha256.Sum256(decoded)
		key = hash[:]
	}

	return &EncryptionManager{
		key:   key,
		keyID: DefaultKeyID,
	}, nil
}

// FromEnv returns the manager for $ENCRYPTION_KEY, or nil when it is unset
func FromEnv() (*EncryptionManager, error) {
	keyStr := os.Getenv(KeyEnv)
	if keyStr == "" {
		return nil, nil
	}
	return NewEncryptionManager(keyStr)
}

// GenerateKey returns a new random base64 key for $ENCRYPTION_KEY
func GenerateKey() (string, error) {
	key := make([]byte, 32) // 256 bits
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt encrypts plaintext using AES-256-GCM
func (em *EncryptionManager) Encrypt(plaintext string) ([]byte, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt decrypts ciphertext using AES-256-GCM
func (em *EncryptionManager) Decrypt(ciphertext []byte) (string, error) {
	aesGCM, err := em.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (em *EncryptionManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(em.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

// GetKeyID returns the current encryption key ID/version
func (em *EncryptionManager) GetKeyID() string {
	return em.keyID
}

// Seal encrypts a config secret into the "enc:<key id>:<base64>" form.
// Empty and already sealed values are returned unchanged.
func (em *EncryptionManager) Seal(value string) (string, error) {
	if value == "" || IsSealed(value) {
		return value, nil
	}
	ciphertext, err := em.Encrypt(value)
	if err != nil {
		return "", err
	}
	return sealedPrefix + em.keyID + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Plain values are returned unchanged.
func (em *EncryptionManager) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	keyID, encoded, ok := strings.Cut(strings.TrimPrefix(value, sealedPrefix), ":")
	if !ok {
		return "", fmt.Errorf("malformed sealed value")
	}
	if keyID != em.keyID {
		return "", fmt.Errorf("value was sealed with unknown key %q", keyID)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed sealed value: %w", err)
	}
	return em.Decrypt(ciphertext)
}

// IsSealed reports whether value was produced by Seal
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
