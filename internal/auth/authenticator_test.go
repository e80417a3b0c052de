package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestAuthenticatorVerify(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	secret := "test-secret-key-for-gateway-auth"

	token, err := NewAccessToken(userID, secret, 15*time.Minute, "lattice-gateway")
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	a := NewAuthenticator(secret, "lattice-gateway")
	got, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != userID {
		t.Errorf("Verify() = %v, want %v", got, userID)
	}
}

func TestAuthenticatorVerifyRejectsBadSignature(t *testing.T) {
	t.Parallel()
	token, err := NewAccessToken(uuid.New(), "correct-secret", 15*time.Minute, "lattice-gateway")
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	a := NewAuthenticator("wrong-secret", "lattice-gateway")
	_, err = a.Verify(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticatorVerifyRejectsNonUUIDSubject(t *testing.T) {
	t.Parallel()
	secret := "test-secret-key-for-gateway-auth"
	// NewAccessToken always encodes a valid UUID subject, so sign a token with a bogus subject by hand.
	claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	a := NewAuthenticator(secret, "")
	_, err = a.Verify(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}
