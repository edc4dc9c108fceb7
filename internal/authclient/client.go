// Package authclient owns the access/refresh token lifecycle for the
// screenlog backend: login, single-flight refresh, the authorized
// transport, and session restore at startup.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/screenlog/screenlog-client/internal/session"
	"github.com/screenlog/screenlog-client/internal/storage"
	"github.com/screenlog/screenlog-client/internal/tokenstore"
)

// Config configures a Client. BaseURL and Storage are required.
type Config struct {
	BaseURL   string
	Storage   storage.KV
	KeyPrefix string // token store key prefix; tokenstore.DefaultPrefix when empty

	// HTTPClient is the underlying transport; a 30s-timeout default is
	// used when nil.
	HTTPClient *http.Client

	// PublicRoutes lists paths reachable without a session, as exact paths
	// or single-wildcard templates ("/movies", "/movies/*").
	PublicRoutes []string

	// OnSessionExpired fires after an irrecoverable refresh failure has
	// cleared the session. Applications route to their login screen here.
	OnSessionExpired func()
}

// Client is the process-scoped auth context handed to collaborators at
// construction. It is not an ambient global; everything that needs the
// session receives the Client (or its parts) explicitly.
type Client struct {
	baseURL     string
	hc          *http.Client
	session     *session.State
	coordinator *Coordinator
	transport   *HTTPClient
}

// New wires the token store, session state, refresh coordinator and
// authorized transport into a Client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	store := tokenstore.New(cfg.Storage, cfg.KeyPrefix)
	state := session.NewState(store)

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc:      hc,
		session: state,
	}
	c.coordinator = NewCoordinator(state, c.refreshCall, cfg.OnSessionExpired)
	c.transport = NewHTTPClient(cfg.BaseURL, hc, state, c.coordinator, NewRouteSet(cfg.PublicRoutes...))
	return c
}

// Session exposes the session state for reads and subscriptions.
func (c *Client) Session() *session.State { return c.session }

// Transport returns the authorized HTTP client domain services send through.
func (c *Client) Transport() *HTTPClient { return c.transport }

// IsAuthenticated reports whether a user is logged in.
func (c *Client) IsAuthenticated() bool { return c.session.IsAuthenticated() }

// CurrentProfile returns the cached profile, or nil.
func (c *Client) CurrentProfile() *session.Profile { return c.session.Profile() }

// AccessToken returns the current access token, or "".
func (c *Client) AccessToken() string { return c.session.AccessToken() }

// Login authenticates with the backend, fetches the profile, and installs
// both into the session.
func (c *Client) Login(ctx context.Context, creds Credentials) (*session.Profile, error) {
	var tokens TokenResponse
	status, err := c.postJSON(ctx, "/login", creds, &tokens)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	if status != http.StatusOK {
		return nil, &RequestError{Method: http.MethodPost, Path: "/login", Status: status}
	}

	profile, err := c.fetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch profile after login: %w", err)
	}

	expiresAt := tokens.ExpiresAt(c.session.Now())
	if err := c.session.ApplyLogin(tokens.AccessToken, tokens.RefreshToken, expiresAt, profile); err != nil {
		log.Warn().Err(err).Msg("session not persisted, login valid for this process only")
	}
	if refreshExpiry := tokens.RefreshExpiresAt(c.session.Now()); !refreshExpiry.IsZero() {
		c.session.SetRefreshExpiry(refreshExpiry)
	}

	log.Info().Str("username", profile.Username).Time("expiresAt", expiresAt).Msg("logged in")
	return profile, nil
}

// Logout clears the session. A refresh that is already in flight settles
// first, so a fresh token pair can never be persisted after the clear.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.coordinator.WaitSettled(ctx); err != nil {
		return err
	}
	if err := c.session.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	log.Info().Msg("logged out")
	return nil
}

// Restore loads the persisted session at startup. With an unexpired token
// the session is usable immediately and the profile is re-fetched in the
// background, errors swallowed - a network blip must not log the user out.
// With an expired token the cached profile is still restored optimistically
// and exactly one refresh is attempted before giving up; a valid refresh
// token routinely outlives a short-lived access token.
func (c *Client) Restore(ctx context.Context) error {
	restored, expired, err := c.session.RestoreFromStore()
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if !restored {
		log.Debug().Msg("no persisted session to restore")
		return nil
	}

	if !expired {
		log.Info().Msg("session restored")
		go c.refreshProfile(context.WithoutCancel(ctx))
		return nil
	}

	log.Info().Msg("restored session has expired access token, attempting refresh")
	if _, err := c.coordinator.Refresh(ctx); err != nil {
		// Coordinator cleared the session; startup continues anonymous.
		log.Warn().Err(err).Msg("restore-time refresh failed, starting anonymous")
		return nil
	}

	go c.refreshProfile(context.WithoutCancel(ctx))
	return nil
}

// refreshProfile re-fetches the profile after a restore. Failures leave
// the cached profile in place.
func (c *Client) refreshProfile(ctx context.Context) {
	profile, err := c.fetchProfile(ctx, c.session.AccessToken())
	if err != nil {
		log.Debug().Err(err).Msg("background profile refresh failed, keeping cached profile")
		return
	}
	if err := c.session.SetProfile(profile); err != nil {
		log.Warn().Err(err).Msg("refreshed profile not persisted")
	}
}

// refreshCall is the network half of the coordinator: POST /refresh with
// the stored refresh token. Issued outside the authorized transport so no
// stale bearer header rides along.
func (c *Client) refreshCall(ctx context.Context, refreshToken string) (TokenResponse, error) {
	var tokens TokenResponse
	status, err := c.postJSON(ctx, "/refresh", refreshRequest{RefreshToken: refreshToken}, &tokens)
	if err != nil {
		return TokenResponse{}, &RefreshRejectedError{Err: err}
	}
	if status != http.StatusOK {
		return TokenResponse{}, &RefreshRejectedError{Status: status}
	}
	return tokens, nil
}

// fetchProfile loads the profile with an explicit token. Used during login
// before the session is installed, and for background refreshes.
func (c *Client) fetchProfile(ctx context.Context, accessToken string) (*session.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Method: http.MethodGet, Path: "/me", Status: resp.StatusCode}
	}

	var profile session.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

// postJSON issues a bare JSON POST outside the authorized transport.
// Auth endpoints never carry a bearer header and never enter the
// refresh-retry path.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
