package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
)

const maxSearchQuery = 200

type movieResponse struct {
	ID           string     `json:"id,omitempty"`
	TMDBID       int64      `json:"tmdbId"`
	Title        string     `json:"title"`
	Overview     string     `json:"overview"`
	PosterPath   string     `json:"posterPath,omitempty"`
	ReleaseDate  string     `json:"releaseDate,omitempty"`
	Popularity   float64    `json:"popularity"`
	VoteAverage  float64    `json:"voteAverage"`
	GenreIDs     []int      `json:"genreIds"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

type genreResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleListGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := s.repo.Genres.List(r.Context())
	if err != nil {
		s.respondDomainError(w, r, err, "")
		return
	}
	items := make([]genreResponse, 0, len(genres))
	for _, g := range genres {
		items = append(items, genreResponse{ID: g.ID, Name: g.Name})
	}
	s.respondSuccess(w, http.StatusOK, "Genres retrieved", items)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	movies, stale, err := s.deps.Catalog.Trending(r.Context())
	if err != nil {
		s.respondDomainError(w, r, err, "")
		return
	}
	s.respondStale(w, stale, "Trending movies retrieved", toMovieResponses(movies))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "query parameter is required", nil)
		return
	}
	if len(query) > maxSearchQuery {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("query must be at most %d characters", maxSearchQuery), nil)
		return
	}
	movies, stale, err := s.deps.Catalog.Search(r.Context(), query)
	if err != nil {
		s.respondDomainError(w, r, err, "")
		return
	}
	s.respondStale(w, stale, "Search results retrieved", toMovieResponses(movies))
}

func (s *Server) handleMovieByUpstreamID(w http.ResponseWriter, r *http.Request) {
	upstreamID, err := parseUpstreamID(chi.URLParam(r, "tmdbID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	movie, stale, err := s.deps.Catalog.MovieDetails(r.Context(), upstreamID)
	if err != nil {
		s.respondDomainError(w, r, err, "Movie not found")
		return
	}
	s.respondStale(w, stale, "Movie retrieved", toMovieResponse(movie))
}

func (s *Server) handleMovieByID(w http.ResponseWriter, r *http.Request) {
	movie, err := s.repo.Movies.GetByID(r.Context(), chi.URLParam(r, "movieID"))
	if err != nil {
		s.respondDomainError(w, r, err, "Movie not found")
		return
	}
	s.respondSuccess(w, http.StatusOK, "Movie retrieved", toMovieResponse(movie))
}

// handleSimilarMovies returns upstream's "more like this" list for a
// mirrored movie.
func (s *Server) handleSimilarMovies(w http.ResponseWriter, r *http.Request) {
	movie, err := s.repo.Movies.GetByID(r.Context(), chi.URLParam(r, "movieID"))
	if err != nil {
		s.respondDomainError(w, r, err, "Movie not found")
		return
	}
	similar, stale, err := s.deps.Catalog.Similar(r.Context(), movie.UpstreamID)
	if err != nil {
		s.respondDomainError(w, r, err, "Movie not found upstream")
		return
	}
	s.respondStale(w, stale, "Similar movies retrieved", toMovieResponses(similar))
}

func parseUpstreamID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("tmdbId must be a positive integer")
	}
	return id, nil
}

func toMovieResponses(movies []domain.Movie) []movieResponse {
	items := make([]movieResponse, 0, len(movies))
	for _, m := range movies {
		items = append(items, toMovieResponse(m))
	}
	return items
}

func toMovieResponse(movie domain.Movie) movieResponse {
	resp := movieResponse{
		ID:          movie.ID,
		TMDBID:      movie.UpstreamID,
		Title:       movie.Title,
		Overview:    movie.Overview,
		PosterPath:  movie.PosterPath,
		Popularity:  movie.Popularity,
		VoteAverage: movie.VoteAverage,
		GenreIDs:    movie.GenreIDs,
	}
	if resp.GenreIDs == nil {
		resp.GenreIDs = []int{}
	}
	if movie.ReleaseDate != nil {
		resp.ReleaseDate = movie.ReleaseDate.Format("2006-01-02")
	}
	if !movie.LastSyncedAt.IsZero() {
		synced := movie.LastSyncedAt.UTC()
		resp.LastSyncedAt = &synced
	}
	return resp
}
