// ABOUTME: QueryDispatcher sends one authenticated query to the retrieval/answer service.
// ABOUTME: Validates inputs before any network work and normalizes every failure shape.

package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnauthenticated indicates no live session exists to authenticate the
// query with.
var ErrUnauthenticated = errors.New("no live session")

// ValidationError reports an empty required input. It never reaches the
// network: validation failures return before any request is built.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s must not be empty", e.Field)
}

// RemoteError reports a failure the retrieval service itself surfaced,
// either through a non-2xx status or an explicit failure flag in the body.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("retrieval service: %s (status %d)", e.Message, e.Status)
}

const (
	// DefaultMatchThreshold is the similarity cutoff sent when the caller
	// does not override it.
	DefaultMatchThreshold = 0.5
	// DefaultMatchCount is the number of source matches requested by
	// default.
	DefaultMatchCount = 5

	functionPath    = "/functions/v1/rag-brain"
	dispatchTimeout = 60 * time.Second
)

// TokenSource supplies the current session's access token; empty means
// signed out.
type TokenSource interface {
	AccessToken() string
}

// Options are the numeric retrieval tunables. Zero values mean "use the
// default".
type Options struct {
	MatchThreshold float64
	MatchCount     int
}

// Source is one retrieval match, kept loosely typed so the service can
// evolve its source shape without breaking clients. Slice order preserves
// the service's ranking.
type Source map[string]any

// Result is the normalized success outcome.
type Result struct {
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// Dispatcher builds and sends authenticated retrieval queries. It never
// panics past its boundary: every failure mode comes back on the error
// return.
type Dispatcher struct {
	baseURL string
	apiKey  string
	tokens  TokenSource
	http    *http.Client
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for the given project base URL and API
// key.
func NewDispatcher(baseURL, apiKey string, tokens TokenSource, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		tokens:  tokens,
		http:    &http.Client{Timeout: dispatchTimeout},
		logger:  logger.With("component", "query"),
	}
}

// wireRequest is the service's request body.
type wireRequest struct {
	Query          string  `json:"query"`
	VerticalID     string  `json:"vertical_id"`
	MatchThreshold float64 `json:"match_threshold"`
	MatchCount     int     `json:"match_count"`
}

// wireResponse covers both the success and failure body shapes.
type wireResponse struct {
	Success          bool     `json:"success"`
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Error            string   `json:"error"`
}

// Dispatch sends one query scoped to a vertical. A live session is required
// and query/verticalID must be non-blank; validation failures return before
// any network call. The response is normalized to Result or one of the
// typed errors.
func (d *Dispatcher) Dispatch(ctx context.Context, query, verticalID string, opts Options) (*Result, error) {
	token := d.tokens.AccessToken()
	if token == "" {
		return nil, ErrUnauthenticated
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Field: "query"}
	}
	verticalID = strings.TrimSpace(verticalID)
	if verticalID == "" {
		return nil, &ValidationError{Field: "vertical_id"}
	}

	if opts.MatchThreshold == 0 {
		opts.MatchThreshold = DefaultMatchThreshold
	}
	if opts.MatchCount == 0 {
		opts.MatchCount = DefaultMatchCount
	}

	body, err := json.Marshal(wireRequest{
		Query:          query,
		VerticalID:     verticalID,
		MatchThreshold: opts.MatchThreshold,
		MatchCount:     opts.MatchCount,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+functionPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building query request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", d.apiKey)
	req.Header.Set("X-Request-Id", requestID)

	d.logger.Debug("dispatching query",
		"request_id", requestID,
		"vertical_id", verticalID,
		"match_count", opts.MatchCount,
	)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading query response: %w", err)
	}

	var wire wireResponse
	decodeErr := json.Unmarshal(raw, &wire)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := wire.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding query response: %w", decodeErr)
	}
	if !wire.Success {
		msg := wire.Error
		if msg == "" {
			msg = "service reported failure"
		}
		return nil, &RemoteError{Status: resp.StatusCode, Message: msg}
	}

	return &Result{
		Answer:           wire.Answer,
		Sources:          wire.Sources,
		ProcessingTimeMs: wire.ProcessingTimeMs,
	}, nil
}
