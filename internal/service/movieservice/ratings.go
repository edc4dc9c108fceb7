package movieservice

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/screenlog/screenlog-client/internal/authclient"
	"github.com/screenlog/screenlog-client/internal/optimistic"
)

// RatingService keeps the user's own per-movie scores. Scores mutate
// optimistically with rollback; the server-computed average comes back via
// a follow-up movie fetch after a confirmed mutation, because the client
// cannot compute the aggregate locally.
type RatingService struct {
	api *authclient.HTTPClient

	mu         sync.RWMutex
	scores     map[string]int // movieID -> own score; absent = unrated
	aggregates map[string]float64
}

// NewRatingService creates a RatingService over api.
func NewRatingService(api *authclient.HTTPClient) *RatingService {
	return &RatingService{
		api:        api,
		scores:     make(map[string]int),
		aggregates: make(map[string]float64),
	}
}

// Score returns the user's own score for movieID; 0 means unrated.
func (s *RatingService) Score(movieID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[movieID]
}

// Average returns the last synced server-side average for movieID.
func (s *RatingService) Average(movieID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregates[movieID]
}

// Rate sets the user's score optimistically, confirms with the server, and
// on success re-syncs the movie's aggregate. A failed aggregate sync keeps
// the confirmed score; only the average is momentarily stale.
func (s *RatingService) Rate(ctx context.Context, movieID string, score int) error {
	current := s.Score(movieID)

	err := optimistic.Do(ctx, current, score,
		func(v int) { s.setScore(movieID, v) },
		func(ctx context.Context) error {
			return s.api.DoJSON(ctx, http.MethodPut, "/ratings/"+movieID, ratingRequest{Score: score}, nil)
		},
	)
	if err != nil {
		return err
	}

	s.syncAggregate(ctx, movieID)
	return nil
}

// Remove deletes the user's rating with the same optimistic semantics.
func (s *RatingService) Remove(ctx context.Context, movieID string) error {
	current := s.Score(movieID)

	err := optimistic.Do(ctx, current, 0,
		func(v int) { s.setScore(movieID, v) },
		func(ctx context.Context) error {
			return s.api.DoJSON(ctx, http.MethodDelete, "/ratings/"+movieID, nil, nil)
		},
	)
	if err != nil {
		return err
	}

	s.syncAggregate(ctx, movieID)
	return nil
}

func (s *RatingService) setScore(movieID string, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score == 0 {
		delete(s.scores, movieID)
		return
	}
	s.scores[movieID] = score
}

func (s *RatingService) syncAggregate(ctx context.Context, movieID string) {
	var movie Movie
	if err := s.api.DoJSON(ctx, http.MethodGet, "/movies/"+movieID, nil, &movie); err != nil {
		log.Debug().Err(err).Str("movieId", movieID).Msg("aggregate sync failed, keeping stale average")
		return
	}

	s.mu.Lock()
	s.aggregates[movieID] = movie.AverageRating
	s.mu.Unlock()
}
