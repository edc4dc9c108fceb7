package movieservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/screenlog/screenlog-client/internal/authclient"
	"github.com/screenlog/screenlog-client/internal/optimistic"
	"github.com/screenlog/screenlog-client/internal/session"
	"github.com/screenlog/screenlog-client/internal/storage"
	"github.com/screenlog/screenlog-client/internal/tokenstore"
)

// newServiceAPI wires an authorized transport over a test server with a
// logged-in session, skipping the auth subtleties covered elsewhere.
func newServiceAPI(t *testing.T, handler http.Handler) *authclient.HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	state := session.NewState(tokenstore.New(storage.NewMemory(), "test."))
	if err := state.ApplyLogin("acc", "ref", time.Now().Add(time.Hour), &session.Profile{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	coord := authclient.NewCoordinator(state, nil, nil)
	return authclient.NewHTTPClient(server.URL, server.Client(), state, coord, nil)
}

func TestWatchlist_AddRollsBackOnFailure(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/watchlist/{movieId}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	svc := NewWatchlistService(newServiceAPI(t, r))

	var notifications [][]string
	svc.OnChange(func(items []string) { notifications = append(notifications, items) })

	err := svc.Add(context.Background(), "m1")

	var rollback *optimistic.RollbackError
	if !errors.As(err, &rollback) {
		t.Fatalf("expected RollbackError, got %v", err)
	}
	if svc.Contains("m1") {
		t.Error("membership survived a rolled-back add")
	}
	if len(svc.Items()) != 0 {
		t.Errorf("watchlist = %v, want empty after rollback", svc.Items())
	}

	// Subscribers saw the optimistic application and then the rollback
	if len(notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifications))
	}
	if len(notifications[0]) != 1 || notifications[0][0] != "m1" {
		t.Errorf("first notification = %v, want [m1]", notifications[0])
	}
	if len(notifications[1]) != 0 {
		t.Errorf("second notification = %v, want []", notifications[1])
	}
}

func TestWatchlist_RapidTogglesKeepLastSettledIntent(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/watchlist/{movieId}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/watchlist/{movieId}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	svc := NewWatchlistService(newServiceAPI(t, r))
	ctx := context.Background()

	// Add succeeds, the immediately following remove fails
	if err := svc.Add(ctx, "m1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	err := svc.Remove(ctx, "m1")
	var rollback *optimistic.RollbackError
	if !errors.As(err, &rollback) {
		t.Fatalf("expected RollbackError from remove, got %v", err)
	}

	// The remove's rollback restores the add's applied state
	if !svc.Contains("m1") {
		t.Error("item missing: rollback of the remove must restore the confirmed add")
	}
}

func TestWatchlist_RefreshReplacesLocalSet(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/watchlist", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"movie_ids":["m2","m1"]}`))
	})

	svc := NewWatchlistService(newServiceAPI(t, r))
	svc.set("m9", true) // stale local entry

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	items := svc.Items()
	if len(items) != 2 || items[0] != "m1" || items[1] != "m2" {
		t.Errorf("watchlist = %v, want [m1 m2]", items)
	}
	if svc.Contains("m9") {
		t.Error("stale local entry survived refresh")
	}
}
