package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/screenlog/screenlog-client/internal/session"
)

// authPaths are the endpoints excluded from the 401-refresh-retry path:
// a 401 from these means the credentials themselves were rejected, and
// refreshing would loop.
var authPaths = map[string]bool{
	"/login":    true,
	"/register": true,
	"/refresh":  true,
}

// HTTPClient is the authorized transport. It attaches the bearer token per
// the session rules, injects a correlation ID, and on a 401 drives the
// refresh coordinator then retries the original request exactly once.
//
// Per-request lifecycle: sent -> succeeded, or sent -> unauthorized ->
// refreshing -> retried -> (succeeded | failed). Never more than one retry.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	session     *session.State
	coordinator *Coordinator
	public      *RouteSet
}

// NewHTTPClient creates the authorized transport. public may be nil when
// the application has no unauthenticated routes.
func NewHTTPClient(baseURL string, hc *http.Client, state *session.State, coordinator *Coordinator, public *RouteSet) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if public == nil {
		public = NewRouteSet()
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  hc,
		session:     state,
		coordinator: coordinator,
		public:      public,
	}
}

// Do executes req with credential injection and the single retry-on-401.
// Non-2xx statuses are returned as responses, not errors; callers inspect
// the status.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	correlationID := uuid.New().String()

	logger := log.With().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("correlationId", correlationID).
		Logger()

	return c.send(ctx, req, &logger, correlationID, false)
}

// send performs one attempt, entering the refresh-retry path on 401 unless
// this already is the retry.
func (c *HTTPClient) send(ctx context.Context, req *http.Request, logger *zerolog.Logger, correlationID string, isRetry bool) (*http.Response, error) {
	reqClone, err := cloneRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to clone request: %w", err)
	}

	reqClone.Header.Set("X-Correlation-ID", correlationID)

	// Bearer attachment rule: the header is keyed off the session, not the
	// route. An unauthenticated session sends no header at all - the
	// gateway validates any bearer it receives, so a stale token on a
	// public route would itself cause a spurious 401.
	if c.session.IsAuthenticated() {
		reqClone.Header.Set("Authorization", "Bearer "+c.session.AccessToken())
	} else if !c.public.Match(req.URL.Path) {
		logger.Debug().Msg("unauthenticated request to non-public route")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(reqClone)
	duration := time.Since(start)

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("HTTP request failed")
		return nil, err
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Bool("isRetry", isRetry).
		Msg("HTTP request completed")

	if resp.StatusCode == http.StatusUnauthorized {
		return c.handleUnauthorized(ctx, req, resp, logger, correlationID, isRetry)
	}
	return resp, nil
}

// handleUnauthorized drives refresh-then-retry for a 401. Auth endpoints
// and sessionless requests pass the 401 through; a 401 on the retry itself
// clears the session and is returned as-is.
func (c *HTTPClient) handleUnauthorized(ctx context.Context, req *http.Request, resp *http.Response, logger *zerolog.Logger, correlationID string, isRetry bool) (*http.Response, error) {
	if authPaths[req.URL.Path] {
		logger.Debug().Msg("401 from auth endpoint, no refresh attempted")
		return resp, nil
	}

	if c.session.AccessToken() == "" {
		logger.Debug().Msg("401 without a session, nothing to refresh")
		return resp, nil
	}

	if isRetry {
		logger.Warn().Msg("retried request still unauthorized, clearing session")
		if err := c.session.Clear(); err != nil {
			logger.Warn().Err(err).Msg("failed to clear persisted session")
		}
		return resp, nil
	}

	// Hold the original 401 so it can be propagated untouched when the
	// refresh fails.
	bodyBytes, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		bodyBytes = nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	logger.Info().Msg("401 received, refreshing token before retry")

	if _, err := c.coordinator.Refresh(ctx); err != nil {
		// Coordinator already cleared the session; the caller gets the
		// original 401, never the refresh error.
		logger.Warn().Err(err).Msg("refresh failed, propagating original 401")
		return resp, nil
	}

	return c.send(ctx, req, logger, correlationID, true)
}

// DoJSON issues a request with an optional JSON body and decodes a 2xx
// response into out (when non-nil). Non-2xx responses are returned as a
// RequestError carrying the status.
func (c *HTTPClient) DoJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Method: method, Path: path, Status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// cloneRequest copies req so the body can be re-sent on retry. Credential
// headers are skipped; they are re-injected per attempt.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	reqClone, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	for k, v := range req.Header {
		if k == "Authorization" || k == "X-Correlation-ID" {
			continue
		}
		reqClone.Header[k] = v
	}
	return reqClone, nil
}
