package movieservice

// Movie is the subset of the movie record this client reads. Aggregates
// like AverageRating are server-computed; the client never derives them
// locally, it re-syncs them after a rating mutation.
type Movie struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Year          int     `json:"year,omitempty"`
	AverageRating float64 `json:"average_rating"`
	RatingCount   int     `json:"rating_count,omitempty"`
}

// Recommendation is one recommended movie with its score.
type Recommendation struct {
	Movie Movie   `json:"movie"`
	Score float64 `json:"score"`
}

type movieListResponse struct {
	Movies []Movie `json:"movies"`
}

type watchlistResponse struct {
	MovieIDs []string `json:"movie_ids"`
}

type recommendationsResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
}

type ratingRequest struct {
	Score int `json:"score"`
}
