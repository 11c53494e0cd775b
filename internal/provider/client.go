// ABOUTME: REST client for the GoTrue-compatible identity provider.
// ABOUTME: Covers signup, password/OAuth sign-in, refresh, sign-out, and password recovery.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to the identity provider's /auth/v1 endpoints. It is a pure
// transport wrapper: it holds no session state and emits no events.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a provider client for the given project base URL and
// anonymous API key. The base URL is the project root, without the /auth/v1
// suffix.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SignUp creates a new account. Depending on provider configuration the
// result carries either a live session (auto-confirm) or just the pending
// user record.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	raw, err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", body)
	if err != nil {
		return nil, err
	}

	// Auto-confirm responses are full sessions; otherwise the body is the
	// bare user object. Distinguish by the presence of an access token.
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding signup response: %w", err)
	}
	if sess.AccessToken != "" {
		return &SignUpResult{User: sess.User, Session: &sess}, nil
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decoding signup response: %w", err)
	}
	return &SignUpResult{User: &user}, nil
}

// SignInWithPassword exchanges email/password credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	return c.tokenRequest(ctx, "password", body)
}

// RefreshSession exchanges a refresh token for a fresh session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]any{
		"refresh_token": refreshToken,
	}
	return c.tokenRequest(ctx, "refresh_token", body)
}

// tokenRequest posts to the token endpoint with the given grant type.
func (c *Client) tokenRequest(ctx context.Context, grantType string, body map[string]any) (*Session, error) {
	raw, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grantType, "", body)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if sess.AccessToken == "" {
		return nil, &Error{Status: http.StatusOK, Message: "token response missing access token"}
	}
	return &sess, nil
}

// OAuthAuthorizeURL builds the browser URL that starts an OAuth sign-in with
// the named external provider. The client does not follow the flow itself;
// callers hand the URL to the user.
func (c *Client) OAuthAuthorizeURL(oauthProvider, redirectTo string) string {
	q := url.Values{}
	q.Set("provider", oauthProvider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/auth/v1/authorize?" + q.Encode()
}

// SignOut revokes the session's refresh token server-side.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil)
	return err
}

// GetUser fetches the user record for an access token.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	raw, err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decoding user response: %w", err)
	}
	return &user, nil
}

// RequestPasswordReset sends a password recovery email.
func (c *Client) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	_, err := c.do(ctx, http.MethodPost, path, "", map[string]any{"email": email})
	return err
}

// UpdatePassword sets a new password for the authenticated user.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	_, err := c.do(ctx, http.MethodPut, "/auth/v1/user", accessToken, map[string]any{"password": newPassword})
	return err
}

// do performs one provider request. An empty accessToken falls back to the
// anonymous API key for the bearer header, matching provider convention.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer := accessToken
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, raw)
	}
	return raw, nil
}
