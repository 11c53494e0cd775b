// ABOUTME: SignupGuard serializes account creation and pre-checks email existence.
// ABOUTME: At most one signup in flight; duplicate calls are rejected without network work.

package signup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verity-ai/verity/internal/guard"
	"github.com/verity-ai/verity/internal/provider"
)

// ErrSignupInProgress indicates a signup attempt is already in flight for
// this engine instance.
var ErrSignupInProgress = errors.New("signup already in progress")

// ErrUnknown wraps failures that are neither provider responses nor
// classified conditions, such as transport errors.
var ErrUnknown = errors.New("unexpected signup failure")

// AccountCreator is the provider operation that creates an account.
type AccountCreator interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.SignUpResult, error)
}

// EmailChecker is the optional pre-check capability. A nil EmailChecker
// disables the pre-check entirely.
type EmailChecker interface {
	CheckEmailExists(ctx context.Context, email string) (bool, error)
}

// Guard wraps account creation with in-flight serialization, the
// email-existence pre-check, and error classification.
type Guard struct {
	accounts AccountCreator
	emails   EmailChecker
	guard    *guard.Guard
	logger   *slog.Logger
}

// NewGuard creates a signup guard. emails may be nil when the existence
// check capability is unavailable.
func NewGuard(accounts AccountCreator, emails EmailChecker, logger *slog.Logger) *Guard {
	return &Guard{
		accounts: accounts,
		emails:   emails,
		guard:    guard.New(),
		logger:   logger.With("component", "signup"),
	}
}

// Reset force-clears the in-flight flag. Called when a session change
// invalidates whatever attempt was in flight, so a wedged flag can never
// block future signups.
func (g *Guard) Reset() {
	g.guard.Reset()
}

// SignUp attempts to create an account. Exactly one attempt runs at a time;
// concurrent calls return ErrSignupInProgress without touching the network.
// A positive email pre-check short-circuits with ErrEmailExists before the
// provider's create-account operation is ever called; a failed pre-check is
// only an optimization miss and the signup proceeds.
func (g *Guard) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.SignUpResult, error) {
	release, ok := g.guard.TryAcquire()
	if !ok {
		return nil, ErrSignupInProgress
	}
	defer release()

	if g.emails != nil {
		exists, err := g.emails.CheckEmailExists(ctx, email)
		switch {
		case err != nil:
			g.logger.Warn("email existence pre-check failed, proceeding with signup", "error", err)
		case exists:
			return nil, fmt.Errorf("%w: %s", ErrEmailExists, email)
		}
	}

	result, err := g.accounts.SignUp(ctx, email, password, metadata)
	if err != nil {
		classified := Classify(err)
		if errors.Is(classified, ErrEmailExists) {
			return nil, classified
		}
		var provErr *provider.Error
		if errors.As(err, &provErr) {
			// Unclassified provider response passes through untouched
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknown, err)
	}

	g.logger.Info("signup succeeded", "email", email, "confirmed", result.Session != nil)
	return result, nil
}
