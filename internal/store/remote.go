// ABOUTME: Remote data-store client over the PostgREST-style /rest/v1 surface.
// ABOUTME: Fetch-one-by-id on profiles and organizations plus the check_email_exists RPC.

package store

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

const remoteTimeout = 30 * time.Second

// TokenSource supplies the current access token for authenticated reads.
// An empty token means anonymous access; the API key is always sent.
type TokenSource interface {
	AccessToken() string
}

// Remote implements DataStore against the project's /rest/v1 endpoints.
type Remote struct {
	baseURL string
	apiKey  string
	tokens  TokenSource
	http    *http.Client
}

// NewRemote creates a remote data-store client. baseURL is the project root,
// without the /rest/v1 suffix.
func NewRemote(baseURL, apiKey string, tokens TokenSource) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		http:    &http.Client{Timeout: remoteTimeout},
	}
}

// ProfileByID fetches one profile by principal id. Returns ErrNotFound when
// no row matches.
func (r *Remote) ProfileByID(ctx context.Context, id string) (*Profile, error) {
	var rows []Profile
	if err := r.selectByID(ctx, "profiles", id, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// OrganizationByID fetches one organization by id. Returns ErrNotFound when
// no row matches.
func (r *Remote) OrganizationByID(ctx context.Context, id string) (*Organization, error) {
	var rows []Organization
	if err := r.selectByID(ctx, "organizations", id, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// CheckEmailExists calls the privileged check_email_exists function. The
// function is callable anonymously so signup can pre-check before any
// session exists.
func (r *Remote) CheckEmailExists(ctx context.Context, email string) (bool, error) {
	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return false, fmt.Errorf("encoding rpc body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rest/v1/rpc/check_email_exists", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	r.setAuth(req)

	raw, err := r.send(req)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := json.Unmarshal(raw, &exists); err != nil {
		return false, fmt.Errorf("decoding rpc response: %w", err)
	}
	return exists, nil
}

// selectByID performs GET /rest/v1/<table>?id=eq.<id>&limit=1 and decodes
// the row array into out.
func (r *Remote) selectByID(ctx context.Context, table, id string, out any) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", "*")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/rest/v1/"+table+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", table, err)
	}
	r.setAuth(req)

	raw, err := r.send(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", table, err)
	}
	return nil
}

// setAuth attaches the API key and bearer token. Anonymous calls fall back
// to the API key as bearer, matching provider convention.
func (r *Remote) setAuth(req *http.Request) {
	req.Header.Set("apikey", r.apiKey)
	bearer := ""
	if r.tokens != nil {
		bearer = r.tokens.AccessToken()
	}
	if bearer == "" {
		bearer = r.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
}

// send executes the request and returns the body for 2xx responses.
func (r *Remote) send(req *http.Request) ([]byte, error) {
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("data store request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading data store response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("data store: %s (status %d)", msg, resp.StatusCode)
	}
	return raw, nil
}
