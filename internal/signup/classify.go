// ABOUTME: Classification of provider signup failures into the duplicate-email condition.
// ABOUTME: Single choke point for the brittle message matching so it can be swapped for provider codes.

package signup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/verity-ai/verity/internal/provider"
)

// ErrEmailExists indicates the email is already registered. Wraps the
// provider's original error text where one exists.
var ErrEmailExists = errors.New("email already registered")

// emailExistsSubstrings are matched case-insensitively against the provider
// error message. Message matching is brittle by nature; the status-code
// check below always takes precedence when the provider supplies one.
var emailExistsSubstrings = []string{
	"already",
	"exists",
	"registered",
	"duplicate",
}

// emailExistsPhrases are exact provider wordings observed in the wild that
// the substring list might miss after future edits to it.
var emailExistsPhrases = map[string]struct{}{
	"User already registered": {},
	"A user with this email address has already been registered": {},
	"Email address already taken":                                {},
}

// Classify maps a provider signup failure onto the stable error taxonomy.
// Precedence: explicit 422/400 status, then case-insensitive substring
// match, then exact known phrasings. Anything else passes through
// unclassified.
func Classify(err error) error {
	var provErr *provider.Error
	if errors.As(err, &provErr) {
		if provErr.Status == 422 || provErr.Status == 400 {
			return fmt.Errorf("%w: %s", ErrEmailExists, provErr.Message)
		}
		if matchesEmailExists(provErr.Message) {
			return fmt.Errorf("%w: %s", ErrEmailExists, provErr.Message)
		}
		return err
	}

	if matchesEmailExists(err.Error()) {
		return fmt.Errorf("%w: %v", ErrEmailExists, err)
	}
	return err
}

// matchesEmailExists applies the substring and exact-phrase checks.
func matchesEmailExists(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range emailExistsSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	_, known := emailExistsPhrases[msg]
	return known
}
