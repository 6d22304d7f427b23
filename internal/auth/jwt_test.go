package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManagerGenerateAndValidate(t *testing.T) {
	manager := NewJWTManager("test-secret", 10*time.Minute)

	token, expiresAt, err := manager.GenerateAccessToken("admin")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token to be generated")
	}
	if time.Until(expiresAt) > 10*time.Minute || time.Until(expiresAt) < 9*time.Minute {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := manager.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("failed to validate access token: %v", err)
	}
	if claims.Username != "admin" || claims.Subject != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTManagerRejectsBadTokens(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Minute)
	token, _, err := manager.GenerateAccessToken("admin")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	other := NewJWTManager("other-secret", time.Minute)
	if _, err := other.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := manager.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	if _, err := NewJWTManager("test-secret", time.Minute).ValidateAccessToken(unsigned); err == nil {
		t.Fatalf("expected unsigned token to be rejected")
	}
}
