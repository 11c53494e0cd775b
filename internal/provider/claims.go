// ABOUTME: Access-token claim extraction for session restore and expiry checks.
// ABOUTME: Parses without signature verification; the client never holds the signing secret.

package provider

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken indicates the access token could not be parsed at all.
var ErrMalformedToken = errors.New("malformed access token")

// AccessClaims are the claims this client reads from an access token.
type AccessClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseAccessClaims extracts claims from an access token without verifying
// the signature. Verification is the provider's job; the client only needs
// the subject, email, and expiry to validate a restored session.
func ParseAccessClaims(accessToken string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	}
	return claims, nil
}
