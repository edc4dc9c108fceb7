package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/screenlog/screenlog-client/internal/storage"
	"github.com/screenlog/screenlog-client/internal/tokenstore"
)

// authBackend fakes the full wire contract: /login, /refresh, /me and a
// protected resource that validates the bearer.
type authBackend struct {
	mu           sync.Mutex
	validToken   string
	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	meCalls      atomic.Int32
	meStatus     int
	server       *httptest.Server
}

func newAuthBackend(t *testing.T) *authBackend {
	t.Helper()
	b := &authBackend{meStatus: http.StatusOK}

	r := chi.NewRouter()
	r.Post("/login", func(w http.ResponseWriter, req *http.Request) {
		b.loginCalls.Add(1)
		var creds Credentials
		if err := json.NewDecoder(req.Body).Decode(&creds); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if creds.Username != "alice" || creds.Password != "Secr3t!" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b.setValid("access-1")
		writeTokens(w, "access-1", "refresh-1", 300)
	})
	r.Post("/refresh", func(w http.ResponseWriter, req *http.Request) {
		b.refreshCalls.Add(1)
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.RefreshToken == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b.setValid("access-2")
		writeTokens(w, "access-2", "", 300)
	})
	r.Get("/me", func(w http.ResponseWriter, req *http.Request) {
		b.meCalls.Add(1)
		if b.meStatus != http.StatusOK {
			w.WriteHeader(b.meStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","username":"alice","email":"alice@example.com"}`))
	})
	r.Get("/watchlist", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+b.valid() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"movie_ids":[]}`))
	})

	b.server = httptest.NewServer(r)
	t.Cleanup(b.server.Close)
	return b
}

func (b *authBackend) setValid(token string) {
	b.mu.Lock()
	b.validToken = token
	b.mu.Unlock()
}

func (b *authBackend) valid() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validToken
}

func writeTokens(w http.ResponseWriter, access, refresh string, expiresIn int64) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        expiresIn,
		RefreshExpiresIn: 86400,
		TokenType:        "Bearer",
	})
}

func newTestClient(b *authBackend, kv storage.KV) *Client {
	return New(Config{
		BaseURL:      b.server.URL,
		Storage:      kv,
		HTTPClient:   b.server.Client(),
		PublicRoutes: []string{"/movies", "/movies/*"},
	})
}

func TestClient_LoginThenExpiryThenSingleRefresh(t *testing.T) {
	backend := newAuthBackend(t)
	client := newTestClient(backend, storage.NewMemory())
	ctx := context.Background()

	profile, err := client.Login(ctx, Credentials{Username: "alice", Password: "Secr3t!"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if profile.Username != "alice" {
		t.Errorf("profile username = %q, want alice", profile.Username)
	}
	if client.AccessToken() != "access-1" {
		t.Errorf("access token = %q, want access-1", client.AccessToken())
	}
	if !client.IsAuthenticated() {
		t.Fatal("expected authenticated after login")
	}

	// 301 seconds later the 300s token is expired: the backend starts
	// rejecting it and the local clock agrees
	client.Session().Now = func() time.Time { return time.Now().Add(301 * time.Second) }
	backend.setValid("gone")

	if err := client.Transport().DoJSON(ctx, http.MethodGet, "/watchlist", nil, nil); err != nil {
		t.Fatalf("request after expiry failed: %v", err)
	}

	if got := backend.refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want exactly 1 before the retry", got)
	}
	if client.AccessToken() != "access-2" {
		t.Errorf("access token = %q, want access-2", client.AccessToken())
	}
}

func TestClient_ExpiredRefreshTokenFailsLocally(t *testing.T) {
	backend := newAuthBackend(t)
	client := newTestClient(backend, storage.NewMemory())
	ctx := context.Background()

	if _, err := client.Login(ctx, Credentials{Username: "alice", Password: "Secr3t!"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// Past refresh_expires_in (86400s) the whole token pair is dead: the
	// backend rejects the access token and the client already knows the
	// refresh token is gone too
	client.Session().Now = func() time.Time { return time.Now().Add(90000 * time.Second) }
	backend.setValid("gone")

	err := client.Transport().DoJSON(ctx, http.MethodGet, "/watchlist", nil, nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected the original 401, got %v", err)
	}

	if got := backend.refreshCalls.Load(); got != 0 {
		t.Errorf("refresh calls = %d, want 0 for a known-expired refresh token", got)
	}
	if client.IsAuthenticated() {
		t.Error("session survived a locally failed refresh")
	}
}

func TestClient_LoginBadCredentials(t *testing.T) {
	backend := newAuthBackend(t)
	client := newTestClient(backend, storage.NewMemory())

	_, err := client.Login(context.Background(), Credentials{Username: "alice", Password: "wrong"})
	if err == nil {
		t.Fatal("expected login error")
	}
	if client.IsAuthenticated() {
		t.Error("session exists after failed login")
	}
}

func TestClient_RestoreExpiredTokenRefreshesOnce(t *testing.T) {
	backend := newAuthBackend(t)
	kv := storage.NewMemory()

	// Persisted session from a previous run: access token expired an hour
	// ago, refresh token still valid
	seed := tokenstore.New(kv, "")
	err := seed.Save(tokenstore.Tokens{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		ExpiresAtMs:  time.Now().Add(-time.Hour).UnixMilli(),
		ProfileJSON:  `{"id":"u1","username":"alice"}`,
	})
	if err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}

	client := newTestClient(backend, kv)
	if err := client.Restore(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if got := backend.refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", got)
	}
	if !client.IsAuthenticated() {
		t.Error("expected authenticated after restore-time refresh succeeded")
	}
	if client.AccessToken() != "access-2" {
		t.Errorf("access token = %q, want access-2", client.AccessToken())
	}
}

func TestClient_RestoreExpiredTokenRefreshFailsStartsAnonymous(t *testing.T) {
	backend := newAuthBackend(t)
	kv := storage.NewMemory()

	seed := tokenstore.New(kv, "")
	if err := seed.Save(tokenstore.Tokens{
		AccessToken: "stale-access",
		// No refresh token: restore's one refresh attempt fails immediately
		ExpiresAtMs: time.Now().Add(-time.Hour).UnixMilli(),
		ProfileJSON: `{"id":"u1","username":"alice"}`,
	}); err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}

	client := newTestClient(backend, kv)
	if err := client.Restore(context.Background()); err != nil {
		t.Fatalf("restore should swallow the refresh failure, got: %v", err)
	}

	if backend.refreshCalls.Load() != 0 {
		t.Error("network refresh attempted without a refresh token")
	}
	if client.IsAuthenticated() {
		t.Error("session survived a failed restore-time refresh")
	}
}

func TestClient_RestoreValidTokenKeepsProfileOnBackgroundFailure(t *testing.T) {
	backend := newAuthBackend(t)
	backend.meStatus = http.StatusBadGateway
	kv := storage.NewMemory()

	seed := tokenstore.New(kv, "")
	if err := seed.Save(tokenstore.Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAtMs:  time.Now().Add(time.Hour).UnixMilli(),
		ProfileJSON:  `{"id":"u1","username":"alice"}`,
	}); err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}

	client := newTestClient(backend, kv)
	if err := client.Restore(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	// Wait for the background profile refresh to hit the backend and fail
	deadline := time.Now().Add(2 * time.Second)
	for backend.meCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background profile refresh never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	// Transient profile failure must not log the user out
	if !client.IsAuthenticated() {
		t.Error("background profile failure logged the user out")
	}
	if p := client.CurrentProfile(); p == nil || p.Username != "alice" {
		t.Errorf("cached profile lost: %+v", p)
	}
	if backend.refreshCalls.Load() != 0 {
		t.Error("unexpected refresh during valid-token restore")
	}
}

func TestClient_LogoutClearsPersistedState(t *testing.T) {
	backend := newAuthBackend(t)
	kv := storage.NewMemory()
	client := newTestClient(backend, kv)
	ctx := context.Background()

	if _, err := client.Login(ctx, Credentials{Username: "alice", Password: "Secr3t!"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if client.IsAuthenticated() {
		t.Error("still authenticated after logout")
	}
	_, ok, err := tokenstore.New(kv, "").Load()
	if err != nil {
		t.Fatalf("load after logout: %v", err)
	}
	if ok {
		t.Error("token store still holds credentials after logout")
	}
}

func TestClient_SessionExpiredHookFires(t *testing.T) {
	backend := newAuthBackend(t)
	var fired atomic.Bool

	kv := storage.NewMemory()
	seed := tokenstore.New(kv, "")
	if err := seed.Save(tokenstore.Tokens{
		AccessToken: "stale-access",
		ExpiresAtMs: time.Now().Add(-time.Hour).UnixMilli(),
	}); err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}

	client := New(Config{
		BaseURL:          backend.server.URL,
		Storage:          kv,
		HTTPClient:       backend.server.Client(),
		OnSessionExpired: func() { fired.Store(true) },
	})

	if err := client.Restore(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !fired.Load() {
		t.Error("OnSessionExpired hook did not fire on irrecoverable restore")
	}
}
