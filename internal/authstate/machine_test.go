// ABOUTME: Tests for the auth state machine's event ordering and snapshot consistency.
// ABOUTME: Covers rapid sign-in sequences, sign-out clearing, and stale-result discarding.

package authstate

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-ai/verity/internal/profile"
	"github.com/verity-ai/verity/internal/provider"
	"github.com/verity-ai/verity/internal/session"
	"github.com/verity-ai/verity/internal/signup"
	"github.com/verity-ai/verity/internal/store"
)

// fakeSessions publishes a canned initial session on Restore.
type fakeSessions struct {
	channel *session.Channel
	initial *provider.Session
}

func newFakeSessions(initial *provider.Session) *fakeSessions {
	return &fakeSessions{channel: session.NewChannel(), initial: initial}
}

func (f *fakeSessions) Restore(ctx context.Context) (*provider.Session, error) {
	f.channel.Publish(session.Event{Type: session.EventInitialSession, Session: f.initial})
	return f.initial, nil
}

func (f *fakeSessions) Events() *session.Channel {
	return f.channel
}

// fakeData serves canned profiles and can hold individual fetches until
// released, to model in-flight loads.
type fakeData struct {
	mu       sync.Mutex
	profiles map[string]*store.Profile
	orgs     map[string]*store.Organization
	holds    map[string]chan struct{}
	fetches  map[string]int
}

func newFakeData() *fakeData {
	return &fakeData{
		profiles: make(map[string]*store.Profile),
		orgs:     make(map[string]*store.Organization),
		holds:    make(map[string]chan struct{}),
		fetches:  make(map[string]int),
	}
}

func (f *fakeData) addProfile(p *store.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

// hold makes the next ProfileByID for id block until the returned func is
// called.
func (f *fakeData) hold(id string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[id] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

func (f *fakeData) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

func (f *fakeData) ProfileByID(ctx context.Context, id string) (*store.Profile, error) {
	f.mu.Lock()
	f.fetches[id]++
	hold := f.holds[id]
	p := f.profiles[id]
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if p == nil {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeData) OrganizationByID(ctx context.Context, id string) (*store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if org := f.orgs[id]; org != nil {
		return org, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeData) CheckEmailExists(ctx context.Context, email string) (bool, error) {
	return false, nil
}

// nullCreator satisfies signup.AccountCreator for machines that never sign
// up in a test.
type nullCreator struct{}

func (nullCreator) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.SignUpResult, error) {
	return &provider.SignUpResult{}, nil
}

func sessionFor(id, email string) *provider.Session {
	return &provider.Session{
		AccessToken:  "token-" + id,
		TokenType:    "bearer",
		RefreshToken: "refresh-" + id,
		User:         &provider.User{ID: id, Email: email},
	}
}

func newTestMachine(t *testing.T, initial *provider.Session, data *fakeData) (*Machine, *fakeSessions) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	sessions := newFakeSessions(initial)
	loader := profile.NewLoader(data, nil, logger)
	guard := signup.NewGuard(nullCreator{}, nil, logger)

	m := New(sessions, loader, guard, 0, logger)
	t.Cleanup(m.Close)
	return m, sessions
}

// testWriter routes slog output through t.Log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestMachine_Initialize_NoSession(t *testing.T) {
	m, _ := newTestMachine(t, nil, newFakeData())

	require.NoError(t, m.Initialize(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.False(t, snap.Loading)
	assert.False(t, snap.IsAuthenticated())
	assert.Nil(t, snap.Principal)
}

func TestMachine_Initialize_WithSession(t *testing.T) {
	data := newFakeData()
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleUser})

	m, _ := newTestMachine(t, sessionFor("u1", "u1@example.com"), data)
	require.NoError(t, m.Initialize(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.Loading, "initialize must always end by clearing loading")
	assert.True(t, snap.IsAuthenticated())

	// The profile load runs asynchronously after initialize returns
	require.Eventually(t, func() bool {
		return m.Snapshot().HasProfile()
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "u1", m.Snapshot().Profile.ID)
}

func TestMachine_Initialize_RunsOnce(t *testing.T) {
	m, _ := newTestMachine(t, nil, newFakeData())

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))

	assert.Equal(t, StateUnauthenticated, m.Snapshot().State)
}

func TestMachine_SignedIn_RapidSuccession_LastPrincipalWins(t *testing.T) {
	data := newFakeData()
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleUser})
	data.addProfile(&store.Profile{ID: "u2", AppRole: store.AppRoleUser})
	releaseU1 := data.hold("u1")

	m, sessions := newTestMachine(t, nil, data)
	require.NoError(t, m.Initialize(context.Background()))

	// First sign-in: u1's profile fetch blocks in flight
	sessions.channel.Publish(session.Event{Type: session.EventSignedIn, Session: sessionFor("u1", "u1@example.com")})
	require.Eventually(t, func() bool {
		return data.fetchCount("u1") == 1
	}, time.Second, 5*time.Millisecond)

	// Second sign-in for a different principal before the first load lands
	sessions.channel.Publish(session.Event{Type: session.EventSignedIn, Session: sessionFor("u2", "u2@example.com")})
	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap.HasProfile() && snap.Profile.ID == "u2"
	}, time.Second, 5*time.Millisecond)

	// The stale u1 result must be discarded, not applied
	releaseU1()
	time.Sleep(50 * time.Millisecond)
	snap := m.Snapshot()
	assert.Equal(t, "u2", snap.Principal.ID)
	assert.Equal(t, "u2", snap.Profile.ID, "stale profile from the first principal must not overwrite the last")
}

func TestMachine_SignedIn_WithinSettleWindow_NewPrincipalStillLoads(t *testing.T) {
	data := newFakeData()
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleUser})
	data.addProfile(&store.Profile{ID: "u2", AppRole: store.AppRoleUser})

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	sessions := newFakeSessions(nil)
	loader := profile.NewLoader(data, nil, logger)
	guard := signup.NewGuard(nullCreator{}, nil, logger)

	m := New(sessions, loader, guard, 50*time.Millisecond, logger)
	t.Cleanup(m.Close)
	require.NoError(t, m.Initialize(context.Background()))

	// Both sign-ins land inside the first one's settling window, so both
	// delayed loads wake after the second session is current
	sessions.channel.Publish(session.Event{Type: session.EventSignedIn, Session: sessionFor("u1", "u1@example.com")})
	sessions.channel.Publish(session.Event{Type: session.EventSignedIn, Session: sessionFor("u2", "u2@example.com")})

	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap.HasProfile() && snap.Profile.ID == "u2"
	}, 2*time.Second, 5*time.Millisecond)

	// The superseded sign-in's delayed load must return without consuming
	// the guard permit that belongs to the current session
	assert.Equal(t, 0, data.fetchCount("u1"), "superseded delayed load must not fetch")
	assert.Equal(t, 1, data.fetchCount("u2"))
	assert.Equal(t, "u2", m.Snapshot().Principal.ID)
}

func TestMachine_SignedOut_ClearsSnapshot(t *testing.T) {
	data := newFakeData()
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleUser})
	release := data.hold("u1")

	m, sessions := newTestMachine(t, nil, data)
	require.NoError(t, m.Initialize(context.Background()))

	sessions.channel.Publish(session.Event{Type: session.EventSignedIn, Session: sessionFor("u1", "u1@example.com")})
	require.Eventually(t, func() bool {
		return data.fetchCount("u1") == 1
	}, time.Second, 5*time.Millisecond)

	// Sign out while the profile load is still in flight
	sessions.channel.Publish(session.Event{Type: session.EventSignedOut})
	require.Eventually(t, func() bool {
		snap := m.Snapshot()
		return snap.State == StateUnauthenticated && !snap.Loading
	}, time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Nil(t, snap.Principal)
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Profile)
	assert.Nil(t, snap.Organization)

	// The late load result must be discarded
	release()
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, m.Snapshot().Profile)
}

func TestMachine_TokenRefresh_DoesNotRefetchProfile(t *testing.T) {
	data := newFakeData()
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleUser})

	m, sessions := newTestMachine(t, sessionFor("u1", "u1@example.com"), data)
	require.NoError(t, m.Initialize(context.Background()))
	require.Eventually(t, func() bool {
		return m.Snapshot().HasProfile()
	}, time.Second, 5*time.Millisecond)

	refreshed := sessionFor("u1", "u1@example.com")
	refreshed.AccessToken = "token-u1-refreshed"
	sessions.channel.Publish(session.Event{Type: session.EventTokenRefreshed, Session: refreshed})

	require.Eventually(t, func() bool {
		return m.Snapshot().Session.AccessToken == "token-u1-refreshed"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, data.fetchCount("u1"), "token refresh must not re-fetch the profile")
	assert.True(t, m.Snapshot().HasProfile())
}

func TestMachine_RefreshProfile_NotAuthenticated(t *testing.T) {
	m, _ := newTestMachine(t, nil, newFakeData())
	require.NoError(t, m.Initialize(context.Background()))

	assert.ErrorIs(t, m.RefreshProfile(context.Background()), ErrNotAuthenticated)
}

func TestMachine_RefreshProfile_ReloadsCurrentPrincipal(t *testing.T) {
	data := newFakeData()

	m, _ := newTestMachine(t, sessionFor("u1", "u1@example.com"), data)
	require.NoError(t, m.Initialize(context.Background()))

	// First load found nothing: account created, profile missing
	require.Eventually(t, func() bool {
		return data.fetchCount("u1") == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, m.Snapshot().HasProfile())

	// Profile appears out-of-band, a forced reload picks it up
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleOrgAdmin})
	require.NoError(t, m.RefreshProfile(context.Background()))

	snap := m.Snapshot()
	require.True(t, snap.HasProfile())
	assert.True(t, snap.IsOrgAdmin())
}

func TestMachine_Close_DiscardsLateResults(t *testing.T) {
	data := newFakeData()
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleUser})
	release := data.hold("u1")

	m, _ := newTestMachine(t, sessionFor("u1", "u1@example.com"), data)
	require.NoError(t, m.Initialize(context.Background()))
	require.Eventually(t, func() bool {
		return data.fetchCount("u1") == 1
	}, time.Second, 5*time.Millisecond)

	m.Close()
	release()
	time.Sleep(50 * time.Millisecond)

	// The result arrived after disposal: silently dropped, never applied
	assert.Nil(t, m.Snapshot().Profile)
}

func TestMachine_Changed_SignalsSnapshotReplacement(t *testing.T) {
	data := newFakeData()
	data.addProfile(&store.Profile{ID: "u1", AppRole: store.AppRoleUser})
	release := data.hold("u1")

	m, _ := newTestMachine(t, sessionFor("u1", "u1@example.com"), data)
	require.NoError(t, m.Initialize(context.Background()))

	// Wait on successive change broadcasts until the profile lands
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			changed := m.Changed()
			if m.Snapshot().HasProfile() {
				return
			}
			select {
			case <-changed:
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never observed the profile arriving")
	}
	assert.True(t, m.Snapshot().HasProfile())
}

func TestSnapshot_DerivedFlags(t *testing.T) {
	role := "accountant"
	snap := &Snapshot{
		Session:   &provider.Session{AccessToken: "t"},
		Principal: &provider.User{ID: "u1"},
		Profile:   &store.Profile{ID: "u1", BusinessRole: &role, AppRole: store.AppRoleSuperAdmin},
	}

	assert.True(t, snap.IsAuthenticated())
	assert.True(t, snap.HasProfile())
	assert.True(t, snap.IsOnboarded())
	assert.True(t, snap.IsOrgAdmin())

	empty := &Snapshot{}
	assert.False(t, empty.IsAuthenticated())
	assert.False(t, empty.HasProfile())
	assert.False(t, empty.IsOnboarded())
	assert.False(t, empty.IsOrgAdmin())
}
