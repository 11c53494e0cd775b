// ABOUTME: AuthStateMachine: turns ordered session events into a consistent auth snapshot.
// ABOUTME: Owns the profile and signup guards and discards results from stale sessions.

package authstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/verity-ai/verity/internal/profile"
	"github.com/verity-ai/verity/internal/provider"
	"github.com/verity-ai/verity/internal/session"
	"github.com/verity-ai/verity/internal/signup"
)

// ErrNotAuthenticated indicates an operation that needs a live session was
// called without one.
var ErrNotAuthenticated = errors.New("not authenticated")

// SessionSource is the slice of the session manager the machine consumes.
type SessionSource interface {
	Restore(ctx context.Context) (*provider.Session, error)
	Events() *session.Channel
}

// Machine consumes session lifecycle events in delivery order and publishes
// an immutable Snapshot after every change. It owns the profile-load and
// signup guards: both are reset whenever a new session (or its absence) is
// observed, so a stale in-flight flag can never wedge the engine.
type Machine struct {
	sessions    SessionSource
	loader      *profile.Loader
	signupGuard *signup.Guard
	settleDelay time.Duration
	logger      *slog.Logger

	snapshot atomic.Pointer[Snapshot]
	active   atomic.Bool

	// seq is the session generation. Each session change bumps it; an
	// in-flight profile load captures the generation at start and discards
	// its result if the generation moved on.
	seq atomic.Uint64

	// mu serializes snapshot replacement so concurrent mutators cannot
	// interleave read-modify-write cycles. It also guards changed.
	mu sync.Mutex

	// changed is closed and replaced on every snapshot swap, giving
	// callers a broadcast to wait on instead of polling Snapshot.
	changed chan struct{}

	// refreshGroup collapses concurrent RefreshProfile calls for the same
	// principal into one guard-reset-plus-reload.
	refreshGroup singleflight.Group

	initOnce    sync.Once
	initDone    chan struct{}
	unsubscribe func()
	done        chan struct{}
}

// New creates a machine in the Uninitialized state. settleDelay is the wait
// inserted between a sign-in and the first profile fetch; it compensates for
// the provider's token propagation lag and may be zero when the token is
// known to be durable immediately.
func New(sessions SessionSource, loader *profile.Loader, signupGuard *signup.Guard, settleDelay time.Duration, logger *slog.Logger) *Machine {
	m := &Machine{
		sessions:    sessions,
		loader:      loader,
		signupGuard: signupGuard,
		settleDelay: settleDelay,
		logger:      logger.With("component", "authstate"),
		changed:     make(chan struct{}),
		initDone:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.snapshot.Store(&Snapshot{State: StateUninitialized})
	m.active.Store(true)
	return m
}

// Snapshot returns the current immutable snapshot.
func (m *Machine) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Changed returns a channel that is closed on the next snapshot replacement.
// Call it before Snapshot, wait on the result after inspecting the snapshot,
// and call it again for the following change.
func (m *Machine) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// SignUp delegates to the signup guard. Exposed here because the machine
// owns the guard's lifecycle.
func (m *Machine) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.SignUpResult, error) {
	return m.signupGuard.SignUp(ctx, email, password, metadata)
}

// Initialize probes for a persisted session and blocks until the resulting
// initial event has been processed. It transitions Uninitialized →
// Initializing → {Authenticated, Unauthenticated}; the loading flag is
// lowered by the event handler's guaranteed final step regardless of
// outcome. Runs once per machine; later calls return immediately.
func (m *Machine) Initialize(ctx context.Context) error {
	var restoreErr error
	m.initOnce.Do(func() {
		m.publish(func(s *Snapshot) {
			s.State = StateInitializing
			s.Loading = true
		})

		// Subscribe before probing so the initial event cannot be missed,
		// then process everything on the single event loop in delivery
		// order.
		events, unsubscribe := m.sessions.Events().Subscribe()
		m.unsubscribe = unsubscribe
		go m.run(events)

		if _, err := m.sessions.Restore(ctx); err != nil {
			// The restore still published an initial (empty) event; the
			// error is reported but the machine settles as unauthenticated.
			restoreErr = err
		}

		select {
		case <-m.initDone:
		case <-ctx.Done():
			restoreErr = ctx.Err()
		}
	})
	return restoreErr
}

// RefreshProfile forces a reload for the current principal. Both guards are
// reset first so a previously wedged in-flight flag cannot block the reload.
// Concurrent calls for the same principal join a single flight: the second
// caller waits for the first reload instead of issuing its own fetch.
func (m *Machine) RefreshProfile(ctx context.Context) error {
	snap := m.Snapshot()
	if snap.Principal == nil {
		return ErrNotAuthenticated
	}
	principalID := snap.Principal.ID

	_, err, _ := m.refreshGroup.Do(principalID, func() (any, error) {
		// Bump the generation so any earlier in-flight load becomes stale
		// and cannot overwrite the forced reload's result.
		gen := m.seq.Add(1)
		m.loader.Guard().Reset()
		m.signupGuard.Reset()
		m.loadProfile(ctx, gen, principalID)
		return nil, nil
	})
	return err
}

// Close unsubscribes from the session channel and marks the machine
// inactive. In-flight loads observe the marker and discard their results;
// late arrivals never panic or mutate state.
func (m *Machine) Close() {
	if !m.active.CompareAndSwap(true, false) {
		return
	}
	close(m.done)
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// run is the single event loop. Events arrive in provider delivery order and
// are processed strictly in that order; nothing here reorders or coalesces.
func (m *Machine) run(events <-chan session.Event) {
	for ev := range events {
		if !m.active.Load() {
			return
		}
		m.handleEvent(ev)
	}
}

// handleEvent applies one session notification.
func (m *Machine) handleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventInitialSession:
		m.handleInitial(ev.Session)
	case session.EventSignedIn:
		m.handleSignedIn(ev.Session)
	case session.EventSignedOut:
		m.handleSignedOut()
	default:
		// Token refresh and user updates swap the credential in place; the
		// profile is not re-fetched.
		m.publish(func(s *Snapshot) {
			s.Session = ev.Session
			if ev.Session != nil && ev.Session.User != nil {
				s.Principal = ev.Session.User
			}
			s.Loading = false
		})
	}
}

// handleInitial settles the Initializing state. The loading flag is lowered
// unconditionally before the handler returns.
func (m *Machine) handleInitial(sess *provider.Session) {
	defer func() {
		m.publish(func(s *Snapshot) { s.Loading = false })
		close(m.initDone)
	}()

	gen := m.seq.Add(1)

	if sess == nil || sess.User == nil {
		m.publish(func(s *Snapshot) {
			*s = Snapshot{State: StateUnauthenticated, Loading: s.Loading}
		})
		return
	}

	user := sess.User
	m.publish(func(s *Snapshot) {
		*s = Snapshot{
			State:     StateAuthenticated,
			Principal: user,
			Session:   sess,
			Loading:   s.Loading,
		}
	})

	// No settling delay on restore: the token was durable enough to persist
	go m.loadProfile(context.Background(), gen, user.ID)
}

// handleSignedIn resets both guards, adopts the new session, and schedules
// the profile load after the settling delay.
func (m *Machine) handleSignedIn(sess *provider.Session) {
	if sess == nil || sess.User == nil {
		m.logger.Warn("signed-in event without a user, ignoring")
		return
	}

	gen := m.seq.Add(1)
	m.loader.Guard().Reset()
	m.signupGuard.Reset()

	user := sess.User
	m.publish(func(s *Snapshot) {
		*s = Snapshot{
			State:     StateAuthenticated,
			Principal: user,
			Session:   sess,
			Loading:   false,
		}
	})

	go func() {
		// Settling delay: the provider's token propagation is eventually
		// consistent and an immediate fetch can race it. See config docs
		// for tuning.
		if m.settleDelay > 0 {
			select {
			case <-time.After(m.settleDelay):
			case <-m.done:
				return
			}
		}
		m.loadProfile(context.Background(), gen, user.ID)
	}()
}

// handleSignedOut clears all authentication state synchronously. No network
// calls are made; an in-flight profile load is invalidated by the generation
// bump and its late result discarded.
func (m *Machine) handleSignedOut() {
	m.seq.Add(1)
	m.loader.Guard().Reset()
	m.signupGuard.Reset()

	m.publish(func(s *Snapshot) {
		*s = Snapshot{State: StateUnauthenticated, Loading: false}
	})
}

// loadProfile runs one guarded profile load and applies the result, unless
// the session generation moved on or the machine was closed while the fetch
// was in flight; then the result is silently discarded. The generation is
// checked before the load as well: a goroutine scheduled for an older session
// must not consume the guard permit that belongs to the current one.
func (m *Machine) loadProfile(ctx context.Context, gen uint64, principalID string) {
	if !m.active.Load() || m.seq.Load() != gen {
		return
	}

	result, ok := m.loader.Load(ctx, principalID)
	if !ok {
		return
	}

	if !m.active.Load() || m.seq.Load() != gen {
		m.logger.Debug("discarding stale profile load", "principal_id", principalID)
		return
	}

	m.publish(func(s *Snapshot) {
		if s.Principal == nil || s.Principal.ID != principalID {
			return
		}
		if result.Err != nil {
			s.Err = result.Err
			return
		}
		s.Profile = result.Profile
		s.Organization = result.Organization
		s.Err = nil
	})
}

// publish replaces the snapshot atomically: clone, mutate, swap.
func (m *Machine) publish(mutate func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.snapshot.Load().clone()
	mutate(&next)
	m.snapshot.Store(&next)

	close(m.changed)
	m.changed = make(chan struct{})
}
