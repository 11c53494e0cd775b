// ABOUTME: Single-permit exclusive-access guard for in-flight network operations.
// ABOUTME: Replaces ad hoc boolean in-flight flags with an explicit semaphore.

package guard

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Guard is a single-permit semaphore protecting an operation that must never
// run twice concurrently (profile fetch, signup). The permit must be acquired
// before the first suspension point and released on every exit path; deferring
// the release func returned by TryAcquire guarantees that.
type Guard struct {
	mu  sync.Mutex
	sem *semaphore.Weighted
}

// New creates a released guard.
func New() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// TryAcquire takes the permit without blocking. On success it returns a
// release func bound to the current permit and true; the release func is safe
// to call even after a Reset has invalidated the permit. Returns false if the
// guarded operation is already in flight.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	g.mu.Lock()
	sem := g.sem
	g.mu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, true
}

// Reset forces the guard back to the released state regardless of who holds
// the permit. Used when a new session invalidates whatever operation was in
// flight: the stale holder's eventual release lands on the retired semaphore
// and is absorbed harmlessly.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.sem = semaphore.NewWeighted(1)
	g.mu.Unlock()
}
