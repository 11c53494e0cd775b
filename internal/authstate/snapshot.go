// ABOUTME: Immutable authentication snapshot published to all consumers.
// ABOUTME: Every state change replaces the whole snapshot; fields are never mutated in place.

package authstate

import (
	"github.com/verity-ai/verity/internal/provider"
	"github.com/verity-ai/verity/internal/store"
)

// State names the engine's lifecycle position.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateInitializing    State = "initializing"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Snapshot is the read-only authentication state tuple. Consumers receive a
// pointer to an immutable value: a later state change swaps in a brand-new
// Snapshot rather than touching this one, so a half-updated tuple is never
// observable.
type Snapshot struct {
	State        State
	Principal    *provider.User
	Session      *provider.Session
	Profile      *store.Profile
	Organization *store.Organization
	Loading      bool
	Err          error
}

// IsAuthenticated reports whether a live session exists.
func (s *Snapshot) IsAuthenticated() bool {
	return s.Session != nil
}

// HasProfile reports whether the application profile has been loaded.
func (s *Snapshot) HasProfile() bool {
	return s.Profile != nil
}

// IsOnboarded reports whether the profile completed onboarding (business
// role chosen).
func (s *Snapshot) IsOnboarded() bool {
	return s.Profile.Onboarded()
}

// IsOrgAdmin reports whether the profile's role tier grants organization
// administration.
func (s *Snapshot) IsOrgAdmin() bool {
	return s.Profile != nil && s.Profile.AppRole.Admin()
}

// clone returns a copy for the machine to mutate before publishing.
func (s *Snapshot) clone() Snapshot {
	return *s
}
