// Package tokenstore persists the credential set (access token, refresh
// token, expiry, serialized profile) through a storage.KV under an
// application key prefix.
package tokenstore

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/screenlog/screenlog-client/internal/storage"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "screenlog.auth."

// Key suffixes under the prefix. Four scalar entries, nothing else.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyExpiresAt    = "expires_at"
	keyProfile      = "profile"
)

// Tokens is the persisted credential set. ProfileJSON is opaque here;
// the session layer owns its shape.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAtMs  int64
	ProfileJSON  string
}

// Store reads and writes the credential set. It carries no retry or
// error-recovery logic of its own: a failed write is reported and the
// in-memory session stays authoritative for the process lifetime.
type Store struct {
	kv     storage.KV
	prefix string
}

// New creates a Store over kv. An empty prefix falls back to DefaultPrefix.
func New(kv storage.KV, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{kv: kv, prefix: prefix}
}

func (s *Store) key(suffix string) string {
	return s.prefix + suffix
}

// Save persists all four entries. The first failed write aborts and is
// returned to the caller as "not persisted".
func (s *Store) Save(t Tokens) error {
	entries := []struct{ suffix, value string }{
		{keyAccessToken, t.AccessToken},
		{keyRefreshToken, t.RefreshToken},
		{keyExpiresAt, strconv.FormatInt(t.ExpiresAtMs, 10)},
		{keyProfile, t.ProfileJSON},
	}

	for _, e := range entries {
		if err := s.kv.Set(s.key(e.suffix), e.value); err != nil {
			return fmt.Errorf("persist %s: %w", e.suffix, err)
		}
	}
	return nil
}

// Load reads the persisted credential set. The second return is false when
// no usable set exists (no access token stored). A malformed expiry is
// treated as absent rather than failing the whole restore.
func (s *Store) Load() (Tokens, bool, error) {
	access, err := s.kv.Get(s.key(keyAccessToken))
	if errors.Is(err, storage.ErrNotFound) {
		return Tokens{}, false, nil
	}
	if err != nil {
		return Tokens{}, false, fmt.Errorf("load access token: %w", err)
	}

	t := Tokens{AccessToken: access}

	if v, err := s.kv.Get(s.key(keyRefreshToken)); err == nil {
		t.RefreshToken = v
	}
	if v, err := s.kv.Get(s.key(keyExpiresAt)); err == nil {
		ms, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			log.Warn().Str("value", v).Msg("ignoring malformed stored expiry")
		} else {
			t.ExpiresAtMs = ms
		}
	}
	if v, err := s.kv.Get(s.key(keyProfile)); err == nil {
		t.ProfileJSON = v
	}

	return t, true, nil
}

// Clear removes all four entries. Removal errors are collected but do not
// stop the remaining removals; the session is cleared in memory regardless.
func (s *Store) Clear() error {
	var firstErr error
	for _, suffix := range []string{keyAccessToken, keyRefreshToken, keyExpiresAt, keyProfile} {
		if err := s.kv.Remove(s.key(suffix)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clear %s: %w", suffix, err)
		}
	}
	return firstErr
}
