package movieservice

import (
	"context"
	"net/http"

	"github.com/screenlog/screenlog-client/internal/authclient"
)

// RecommendationService fetches personalized recommendations. Read-only;
// authorization is entirely the transport's concern.
type RecommendationService struct {
	api *authclient.HTTPClient
}

// NewRecommendationService creates a RecommendationService over api.
func NewRecommendationService(api *authclient.HTTPClient) *RecommendationService {
	return &RecommendationService{api: api}
}

// List fetches recommendations for the current user.
func (s *RecommendationService) List(ctx context.Context) ([]Recommendation, error) {
	var resp recommendationsResponse
	if err := s.api.DoJSON(ctx, http.MethodGet, "/recommendations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Recommendations, nil
}
