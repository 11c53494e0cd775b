// ABOUTME: Data types for the identity provider: sessions, users, credentials.
// ABOUTME: Sessions are immutable value objects replaced wholesale on every change.

package provider

import (
	"time"
)

// User is the provider-issued identity for an authenticated principal.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitzero"`
}

// Session is the live credential for a principal. It is never mutated in
// place: every provider notification carries a fresh Session value.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Expired reports whether the access token's expiry has passed, with the
// given safety margin subtracted. A session with no recorded expiry is
// treated as live.
func (s *Session) Expired(margin time.Duration) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return time.Now().Add(margin).Unix() >= s.ExpiresAt
}

// SignUpResult is the outcome of a create-account call. Providers configured
// for immediate confirmation return a full session; otherwise only the
// pending user record is present.
type SignUpResult struct {
	User    *User
	Session *Session
}
