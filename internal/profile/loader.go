// ABOUTME: ProfileLoader fetches a principal's profile and owning organization.
// ABOUTME: Guard-protected single flight; concurrent duplicate loads are silent no-ops.

package profile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/verity-ai/verity/internal/guard"
	"github.com/verity-ai/verity/internal/store"
)

// Result is the outcome of one load. A nil Profile with a nil Err means the
// profile does not exist yet (the signup trigger may not have run) — that is
// a successful load, not a failure.
type Result struct {
	Profile      *store.Profile
	Organization *store.Organization
	Err          error
}

// Loader fetches profiles from the remote data store. At most one load is in
// flight at a time; the guard is owned here but reset externally when a new
// session invalidates an in-flight load.
type Loader struct {
	data   store.DataStore
	cache  *store.Cache
	guard  *guard.Guard
	logger *slog.Logger
}

// NewLoader creates a loader. cache may be nil to disable write-through.
func NewLoader(data store.DataStore, cache *store.Cache, logger *slog.Logger) *Loader {
	return &Loader{
		data:   data,
		cache:  cache,
		guard:  guard.New(),
		logger: logger.With("component", "profile"),
	}
}

// Guard exposes the in-flight guard so the state machine can reset it when a
// session change makes the current flight stale.
func (l *Loader) Guard() *guard.Guard {
	return l.guard
}

// Load fetches the profile for a principal and, transitively, its
// organization. If another load is already in flight the call is a silent
// no-op and ok is false: it does not queue, retry, or error — the flight
// that completes owns the resulting snapshot.
func (l *Loader) Load(ctx context.Context, principalID string) (result Result, ok bool) {
	release, acquired := l.guard.TryAcquire()
	if !acquired {
		l.logger.Debug("profile load already in flight, skipping", "principal_id", principalID)
		return Result{}, false
	}
	defer release()

	prof, err := l.data.ProfileByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Expected: account created, profile row not yet materialized
			l.logger.Info("no profile for principal", "principal_id", principalID)
			return Result{}, true
		}
		l.logger.Error("profile fetch failed", "principal_id", principalID, "error", err)
		return Result{Err: err}, true
	}

	result = Result{Profile: prof}

	if prof.OrganizationID != nil && *prof.OrganizationID != "" {
		org, err := l.data.OrganizationByID(ctx, *prof.OrganizationID)
		if err != nil {
			// Non-fatal: the profile still applies without its organization
			l.logger.Warn("organization fetch failed",
				"principal_id", principalID,
				"organization_id", *prof.OrganizationID,
				"error", err,
			)
		} else {
			result.Organization = org
		}
	}

	if l.cache != nil {
		if err := l.cache.PutProfile(ctx, prof, result.Organization); err != nil {
			l.logger.Warn("profile cache write failed", "principal_id", principalID, "error", err)
		}
	}

	return result, true
}
