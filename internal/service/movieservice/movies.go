// Package movieservice contains the domain services (movies, watchlist,
// ratings, recommendations) that consume the auth subsystem: every request
// goes through the authorized transport, and membership/score mutations use
// the optimistic helper.
package movieservice

import (
	"context"
	"net/http"

	"github.com/screenlog/screenlog-client/internal/authclient"
)

// MovieService reads the movie catalog. Catalog routes are public; the
// transport still decides per session whether a bearer rides along.
type MovieService struct {
	api *authclient.HTTPClient
}

// NewMovieService creates a MovieService sending through api.
func NewMovieService(api *authclient.HTTPClient) *MovieService {
	return &MovieService{api: api}
}

// List fetches the movie catalog.
func (s *MovieService) List(ctx context.Context) ([]Movie, error) {
	var resp movieListResponse
	if err := s.api.DoJSON(ctx, http.MethodGet, "/movies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Movies, nil
}

// Get fetches a single movie with its server-computed aggregates.
func (s *MovieService) Get(ctx context.Context, movieID string) (*Movie, error) {
	var movie Movie
	if err := s.api.DoJSON(ctx, http.MethodGet, "/movies/"+movieID, nil, &movie); err != nil {
		return nil, err
	}
	return &movie, nil
}
