package movieservice

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/screenlog/screenlog-client/internal/authclient"
	"github.com/screenlog/screenlog-client/internal/optimistic"
)

// WatchlistService keeps the local watchlist membership set. Add and
// Remove apply optimistically and roll back when the server rejects the
// mutation; the snapshot for rollback is taken at call time, so rapid
// toggles restore the state left by the previous toggle's applied value.
type WatchlistService struct {
	api *authclient.HTTPClient

	mu      sync.RWMutex
	members map[string]bool
	subs    []func([]string)
}

// NewWatchlistService creates an empty watchlist over api.
func NewWatchlistService(api *authclient.HTTPClient) *WatchlistService {
	return &WatchlistService{api: api, members: make(map[string]bool)}
}

// OnChange registers fn to receive the sorted member list after every
// change, including optimistic applications and rollbacks.
func (s *WatchlistService) OnChange(fn func([]string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Contains reports current membership, optimistic applications included.
func (s *WatchlistService) Contains(movieID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[movieID]
}

// Items returns the sorted member ids.
func (s *WatchlistService) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsLocked()
}

// Refresh replaces the local set with the server's watchlist.
func (s *WatchlistService) Refresh(ctx context.Context) error {
	var resp watchlistResponse
	if err := s.api.DoJSON(ctx, http.MethodGet, "/watchlist", nil, &resp); err != nil {
		return err
	}

	s.mu.Lock()
	s.members = make(map[string]bool, len(resp.MovieIDs))
	for _, id := range resp.MovieIDs {
		s.members[id] = true
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Add puts movieID on the watchlist optimistically and confirms with the
// server; on failure the membership reverts to its snapshot.
func (s *WatchlistService) Add(ctx context.Context, movieID string) error {
	return s.toggle(ctx, movieID, true)
}

// Remove is the inverse of Add, with the same rollback semantics.
func (s *WatchlistService) Remove(ctx context.Context, movieID string) error {
	return s.toggle(ctx, movieID, false)
}

func (s *WatchlistService) toggle(ctx context.Context, movieID string, member bool) error {
	current := s.Contains(movieID)

	method := http.MethodDelete
	if member {
		method = http.MethodPost
	}

	return optimistic.Do(ctx, current, member,
		func(v bool) { s.set(movieID, v) },
		func(ctx context.Context) error {
			return s.api.DoJSON(ctx, method, "/watchlist/"+movieID, nil, nil)
		},
	)
}

func (s *WatchlistService) set(movieID string, member bool) {
	s.mu.Lock()
	if member {
		s.members[movieID] = true
	} else {
		delete(s.members, movieID)
	}
	s.mu.Unlock()

	s.notify()
}

func (s *WatchlistService) itemsLocked() []string {
	items := make([]string, 0, len(s.members))
	for id := range s.members {
		items = append(items, id)
	}
	sort.Strings(items)
	return items
}

func (s *WatchlistService) notify() {
	s.mu.RLock()
	items := s.itemsLocked()
	subs := make([]func([]string), len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(items)
	}
}
