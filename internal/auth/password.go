package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for a wrong username or password
var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash keeps login timing the same for unknown usernames
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("papermc-setup"), bcrypt.MinCost)

// HashPassword hashes a plain text password using bcrypt
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// VerifyPassword compares a plain text password with a hashed password
func VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Authenticator checks credentials against the single operator account
type Authenticator struct {
	username     string
	passwordHash string
}

// NewAuthenticator creates an authenticator for the configured operator
func NewAuthenticator(username, passwordHash string) *Authenticator {
	return &Authenticator{username: username, passwordHash: passwordHash}
}

// Authenticate returns ErrInvalidCredentials unless both username and password match
func (a *Authenticator) Authenticate(username, password string) error {
	if a.passwordHash == "" {
		return fmt.Errorf("%w: no operator password configured", ErrInvalidCredentials)
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	hash := a.passwordHash
	if !userOK {
		hash = string(dummyHash)
	}

	if err := VerifyPassword(password, hash); err != nil || !userOK {
		return ErrInvalidCredentials
	}
	return nil
}
