package auth

import (
	"fmt"

	"github.com/google/uuid"
)

// Authenticator is the token-verification primitive the gateway's handshake coordinator consumes. It returns the
// authenticated user identity or ErrInvalidToken; it never issues tokens and never touches storage.
type Authenticator struct {
	secret string
	issuer string
}

// NewAuthenticator builds an Authenticator bound to the given signing secret and expected issuer. An empty issuer
// disables issuer verification.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: secret, issuer: issuer}
}

// Verify validates a bearer token and returns the user ID encoded in its subject claim.
func (a *Authenticator) Verify(token string) (uuid.UUID, error) {
	claims, err := ValidateAccessToken(token, a.secret, a.issuer)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: subject is not a valid user id", ErrInvalidToken)
	}

	return userID, nil
}
