// ABOUTME: Session manager fronting the identity provider for the rest of the app.
// ABOUTME: Owns the persisted session, publishes lifecycle events, and auto-refreshes tokens.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/verity-ai/verity/internal/provider"
)

// API is the slice of the provider client the manager drives.
type API interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*provider.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	OAuthAuthorizeURL(oauthProvider, redirectTo string) string
	RequestPasswordReset(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
}

// Manager owns the process's current session. Every successful provider
// operation replaces the session wholesale, persists it, and publishes the
// matching lifecycle event. Consumers subscribe via Events().
type Manager struct {
	api           API
	file          *FileStore
	channel       *Channel
	logger        *slog.Logger
	refreshMargin time.Duration

	mu      sync.Mutex
	current *provider.Session

	refreshOnce sync.Once
	done        chan struct{}
}

// NewManager creates a session manager. refreshMargin is how long before
// expiry a session counts as stale for restore and auto-refresh purposes.
func NewManager(api API, file *FileStore, refreshMargin time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		api:           api,
		file:          file,
		channel:       NewChannel(),
		logger:        logger.With("component", "session"),
		refreshMargin: refreshMargin,
		done:          make(chan struct{}),
	}
}

// Events returns the lifecycle event channel for subscription.
func (m *Manager) Events() *Channel {
	return m.channel
}

// Current returns the live session, or nil when signed out.
func (m *Manager) Current() *provider.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// AccessToken returns the live access token, or empty when signed out.
func (m *Manager) AccessToken() string {
	if sess := m.Current(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

// Restore loads the persisted session, refreshing it through the provider if
// it is expired or inside the refresh margin. It publishes exactly one
// EventInitialSession, with a nil session when none could be restored.
// Returns the restored session (nil when signed out) and any refresh error;
// a stale session that cannot be refreshed is treated as absent.
func (m *Manager) Restore(ctx context.Context) (*provider.Session, error) {
	sess, err := m.file.Load()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.logger.Warn("discarding unreadable session file", "error", err)
		}
		m.channel.Publish(Event{Type: EventInitialSession})
		return nil, nil
	}

	if sess.Expired(m.refreshMargin) {
		if sess.RefreshToken == "" {
			m.logger.Info("persisted session expired with no refresh token")
			_ = m.file.Clear()
			m.channel.Publish(Event{Type: EventInitialSession})
			return nil, nil
		}
		refreshed, err := m.api.RefreshSession(ctx, sess.RefreshToken)
		if err != nil {
			m.logger.Warn("persisted session refresh failed", "error", err)
			_ = m.file.Clear()
			m.channel.Publish(Event{Type: EventInitialSession})
			return nil, err
		}
		sess = refreshed
	}

	m.store(sess)
	m.channel.Publish(Event{Type: EventInitialSession, Session: sess})
	return sess, nil
}

// SignInWithPassword signs in with email/password credentials and publishes
// EventSignedIn on success.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	sess, err := m.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	m.store(sess)
	m.channel.Publish(Event{Type: EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp creates an account. When the provider auto-confirms and returns a
// session, the manager adopts it and publishes EventSignedIn.
func (m *Manager) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.SignUpResult, error) {
	result, err := m.api.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	if result.Session != nil {
		m.store(result.Session)
		m.channel.Publish(Event{Type: EventSignedIn, Session: result.Session})
	}
	return result, nil
}

// OAuthAuthorizeURL returns the browser URL that starts an OAuth sign-in.
func (m *Manager) OAuthAuthorizeURL(oauthProvider, redirectTo string) string {
	return m.api.OAuthAuthorizeURL(oauthProvider, redirectTo)
}

// SignOut destroys the session locally and revokes it server-side. Local
// sign-out always succeeds: the cleared state and EventSignedOut are
// published even if the revocation call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.mu.Unlock()

	if err := m.file.Clear(); err != nil {
		m.logger.Warn("clearing session file", "error", err)
	}

	var revokeErr error
	if sess != nil {
		if revokeErr = m.api.SignOut(ctx, sess.AccessToken); revokeErr != nil {
			m.logger.Warn("server-side sign-out failed", "error", revokeErr)
		}
	}

	m.channel.Publish(Event{Type: EventSignedOut})
	return revokeErr
}

// Refresh renews the current session's access token and publishes
// EventTokenRefreshed.
func (m *Manager) Refresh(ctx context.Context) (*provider.Session, error) {
	sess := m.Current()
	if sess == nil || sess.RefreshToken == "" {
		return nil, ErrNoSession
	}

	refreshed, err := m.api.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		return nil, err
	}
	m.store(refreshed)
	m.channel.Publish(Event{Type: EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// RequestPasswordReset asks the provider to send a recovery email.
func (m *Manager) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	return m.api.RequestPasswordReset(ctx, email, redirectTo)
}

// UpdatePassword sets a new password for the signed-in user and publishes
// EventUserUpdated.
func (m *Manager) UpdatePassword(ctx context.Context, newPassword string) error {
	sess := m.Current()
	if sess == nil {
		return ErrNoSession
	}
	if err := m.api.UpdatePassword(ctx, sess.AccessToken, newPassword); err != nil {
		return err
	}
	m.channel.Publish(Event{Type: EventUserUpdated, Session: sess})
	return nil
}

// StartAutoRefresh launches a background goroutine that renews the session
// shortly before expiry. Safe to call once; stopped by Close.
func (m *Manager) StartAutoRefresh(ctx context.Context) {
	m.refreshOnce.Do(func() {
		go m.autoRefresh(ctx)
	})
}

// autoRefresh sleeps until the current session nears expiry, then refreshes.
// Failures are logged and retried on the next wake-up.
func (m *Manager) autoRefresh(ctx context.Context) {
	const idlePoll = time.Minute

	for {
		wait := idlePoll
		if sess := m.Current(); sess != nil && sess.ExpiresAt > 0 {
			until := time.Until(time.Unix(sess.ExpiresAt, 0)) - m.refreshMargin
			if until < time.Second {
				until = time.Second
			}
			wait = until
		}

		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-time.After(wait):
		}

		sess := m.Current()
		if sess == nil || !sess.Expired(m.refreshMargin) {
			continue
		}
		if _, err := m.Refresh(ctx); err != nil {
			m.logger.Warn("auto-refresh failed", "error", err)
		}
	}
}

// Close stops the auto-refresh goroutine and closes the event channel.
func (m *Manager) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.channel.Close()
}

// store replaces the in-memory session and persists it.
func (m *Manager) store(sess *provider.Session) {
	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	if err := m.file.Save(sess); err != nil {
		m.logger.Warn("persisting session", "error", err)
	}
}
