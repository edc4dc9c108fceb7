// Package session holds the in-memory authoritative authentication state:
// the current token pair, the cached user profile, and derived flags.
// All mutation goes through the operations here; other packages only read
// through accessors and subscribe to change notifications.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/screenlog/screenlog-client/internal/tokenstore"
)

// Profile is the cached user profile.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Snapshot is the read-only view handed to subscribers on every change.
type Snapshot struct {
	IsAuthenticated bool
	AccessToken     string
	Profile         *Profile
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// State owns the session. Created empty at process start; populated by
// login, refresh, or a restore from the token store; cleared on logout,
// irrecoverable refresh failure, or a retried request that still 401s.
type State struct {
	mu               sync.RWMutex
	accessToken      string
	refreshToken     string
	expiresAt        time.Time
	refreshExpiresAt time.Time
	profile          *Profile

	store *tokenstore.Store

	subs   []subscriber
	nextID int

	// Now is the clock used for expiry checks; tests override it.
	Now func() time.Time
}

// NewState creates an empty session backed by store for persistence.
func NewState(store *tokenstore.Store) *State {
	return &State{store: store, Now: time.Now}
}

// OnChange registers fn to be called with a snapshot after every state
// change, in registration order. The returned func unsubscribes.
func (s *State) OnChange(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// IsAuthenticated reports whether a token and a cached profile both exist.
// Expiry is deliberately not consulted here: a restore with an expired
// access token shows the cached profile while a refresh races in the
// background, matching the shipped behavior.
func (s *State) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != "" && s.profile != nil
}

// AccessToken returns the current access token, or "".
func (s *State) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *State) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Profile returns the cached profile, or nil.
func (s *State) Profile() *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// ExpiresAt returns the access token expiry; zero when unknown.
func (s *State) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// TokenExpired reports whether a known expiry lies in the past.
func (s *State) TokenExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.expiresAt.IsZero() && s.Now().After(s.expiresAt)
}

// SetRefreshExpiry records when the refresh token itself expires. Kept in
// memory only: the persisted layout is fixed at the four token-store
// entries, so after a restart the expiry is unknown until the next login
// or refresh response reports it.
func (s *State) SetRefreshExpiry(t time.Time) {
	s.mu.Lock()
	s.refreshExpiresAt = t
	s.mu.Unlock()
}

// RefreshTokenExpired reports whether the refresh token has a known expiry
// in the past. An unknown expiry returns false - the network call decides.
func (s *State) RefreshTokenExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.refreshExpiresAt.IsZero() && s.Now().After(s.refreshExpiresAt)
}

// ApplyLogin installs a fresh token pair and profile, then persists.
// The in-memory state is applied even when persistence fails; the error
// only means the session will not survive a restart.
func (s *State) ApplyLogin(access, refresh string, expiresAt time.Time, profile *Profile) error {
	s.mu.Lock()
	s.accessToken = access
	s.refreshToken = refresh
	s.expiresAt = expiresAt
	s.profile = profile
	s.mu.Unlock()

	err := s.persist()
	s.notify()
	return err
}

// ApplyRefresh installs a refreshed token pair. An empty refresh token
// keeps the previous one - the backend only rotates it sometimes, and
// dropping it would strand the session at the next expiry.
func (s *State) ApplyRefresh(access, refresh string, expiresAt time.Time) error {
	s.mu.Lock()
	s.accessToken = access
	if refresh != "" {
		s.refreshToken = refresh
	}
	s.expiresAt = expiresAt
	s.mu.Unlock()

	err := s.persist()
	s.notify()
	return err
}

// SetProfile replaces the cached profile (e.g. after a background profile
// refresh) and persists it.
func (s *State) SetProfile(profile *Profile) error {
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()

	err := s.persist()
	s.notify()
	return err
}

// Clear wipes the in-memory session and the token store.
func (s *State) Clear() error {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.refreshExpiresAt = time.Time{}
	s.profile = nil
	s.mu.Unlock()

	err := s.store.Clear()
	s.notify()
	return err
}

// RestoreFromStore loads persisted state into memory. It reports whether
// anything was restored and whether the restored access token is already
// expired; the caller decides what to do about an expired one.
func (s *State) RestoreFromStore() (restored, expired bool, err error) {
	t, ok, err := s.store.Load()
	if err != nil || !ok {
		return false, false, err
	}

	var profile *Profile
	if t.ProfileJSON != "" {
		profile = &Profile{}
		if jsonErr := json.Unmarshal([]byte(t.ProfileJSON), profile); jsonErr != nil {
			log.Warn().Err(jsonErr).Msg("discarding malformed stored profile")
			profile = nil
		}
	}

	var expiresAt time.Time
	if t.ExpiresAtMs > 0 {
		expiresAt = time.UnixMilli(t.ExpiresAtMs)
	}

	s.mu.Lock()
	s.accessToken = t.AccessToken
	s.refreshToken = t.RefreshToken
	s.expiresAt = expiresAt
	s.profile = profile
	s.mu.Unlock()

	expired = !expiresAt.IsZero() && s.Now().After(expiresAt)
	s.notify()
	return true, expired, nil
}

// persist writes the current state to the token store.
func (s *State) persist() error {
	s.mu.RLock()
	t := tokenstore.Tokens{
		AccessToken:  s.accessToken,
		RefreshToken: s.refreshToken,
	}
	if !s.expiresAt.IsZero() {
		t.ExpiresAtMs = s.expiresAt.UnixMilli()
	}
	if s.profile != nil {
		data, err := json.Marshal(s.profile)
		if err == nil {
			t.ProfileJSON = string(data)
		}
	}
	s.mu.RUnlock()

	return s.store.Save(t)
}

// notify calls subscribers outside the lock, in registration order.
func (s *State) notify() {
	s.mu.RLock()
	snap := Snapshot{
		IsAuthenticated: s.accessToken != "" && s.profile != nil,
		AccessToken:     s.accessToken,
		Profile:         s.profile,
	}
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}
