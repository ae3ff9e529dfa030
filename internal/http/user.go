package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/recommend"
	"github.com/Clark-Hu/movie-discovery/internal/repository"
)

type interactionRequest struct {
	MovieID string `json:"movieId" validate:"omitempty,uuid"`
	TMDBID  int64  `json:"tmdbId" validate:"omitempty,gt=0"`
	Kind    string `json:"kind" validate:"required,oneof=liked bookmarked watched"`
}

type interactionResponse struct {
	ID         int64     `json:"id"`
	MovieID    string    `json:"movieId"`
	TMDBID     int64     `json:"tmdbId"`
	MovieTitle string    `json:"movieTitle"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"createdAt"`
}

type preferencesRequest struct {
	GenreIDs []int    `json:"genreIds" validate:"max=50,dive,gt=0"`
	ActorIDs []int64  `json:"actorIds" validate:"max=100,dive,gt=0"`
	MovieIDs []string `json:"movieIds" validate:"max=100,dive,uuid"`
}

type preferencesResponse struct {
	GenreIDs  []int      `json:"genreIds"`
	ActorIDs  []int64    `json:"actorIds"`
	MovieIDs  []string   `json:"movieIds"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	interactions, err := s.repo.Interactions.ListByUser(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.respondDomainError(w, r, err, "")
		return
	}
	items := make([]interactionResponse, 0, len(interactions))
	for _, i := range interactions {
		items = append(items, toInteractionResponse(i))
	}
	s.respondSuccess(w, http.StatusOK, "Interactions retrieved", items)
}

// handleRecordInteraction accepts either an internal movie id or an upstream
// id; the latter is resolved through the catalog so the movie gets mirrored
// on first reference.
func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	if err := s.validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}
	if (req.MovieID == "") == (req.TMDBID == 0) {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "exactly one of movieId or tmdbId is required", nil)
		return
	}
	kind, err := domain.ParseInteractionKind(req.Kind)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	movieID := req.MovieID
	if req.TMDBID != 0 {
		movie, _, err := s.deps.Catalog.MovieDetails(r.Context(), req.TMDBID)
		if err != nil {
			s.respondDomainError(w, r, err, "Movie not found")
			return
		}
		if !movie.Mirrored() {
			s.respondDomainError(w, r, domain.ErrUpstreamUnavailable, "")
			return
		}
		movieID = movie.ID
	}

	interaction, created, err := s.repo.Interactions.Record(r.Context(), repository.InteractionParams{
		UserID:  userIDFrom(r.Context()),
		MovieID: movieID,
		Kind:    kind,
	}, s.deps.DuplicatePolicy)
	if err != nil {
		s.respondDomainError(w, r, err, "Movie not found")
		return
	}

	if created {
		s.respondSuccess(w, http.StatusCreated, "Interaction recorded", toInteractionResponse(interaction))
		return
	}
	s.respondSuccess(w, http.StatusOK, "Interaction already recorded", toInteractionResponse(interaction))
}

func (s *Server) handleDeleteInteraction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "interactionID"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "interaction id must be a positive integer", nil)
		return
	}
	if err := s.repo.Interactions.Delete(r.Context(), userIDFrom(r.Context()), id); err != nil {
		s.respondDomainError(w, r, err, "Interaction not found")
		return
	}
	s.respondSuccess(w, http.StatusOK, "Interaction deleted", nil)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.repo.Preferences.Get(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.respondDomainError(w, r, err, "")
		return
	}
	s.respondSuccess(w, http.StatusOK, "Preferences retrieved", toPreferencesResponse(prefs))
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}

	saved, err := s.repo.Preferences.Save(r.Context(), domain.Preferences{
		UserID:   userIDFrom(r.Context()),
		GenreIDs: req.GenreIDs,
		ActorIDs: req.ActorIDs,
		MovieIDs: req.MovieIDs,
	})
	if err != nil {
		s.respondDomainError(w, r, err, "Liked movie not found")
		return
	}
	s.respondSuccess(w, http.StatusOK, "Preferences saved", toPreferencesResponse(saved))
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	limit := recommend.DefaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > recommend.MaxLimit {
			s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 100", nil)
			return
		}
		limit = parsed
	}

	movies, err := s.deps.Recommender.Recommend(r.Context(), userIDFrom(r.Context()), limit)
	if err != nil {
		s.respondDomainError(w, r, err, "")
		return
	}
	s.respondSuccess(w, http.StatusOK, "Recommendations generated", toMovieResponses(movies))
}

func toInteractionResponse(i domain.Interaction) interactionResponse {
	return interactionResponse{
		ID:         i.ID,
		MovieID:    i.MovieID,
		TMDBID:     i.MovieUpstreamID,
		MovieTitle: i.MovieTitle,
		Kind:       string(i.Kind),
		CreatedAt:  i.CreatedAt.UTC(),
	}
}

func toPreferencesResponse(p domain.Preferences) preferencesResponse {
	resp := preferencesResponse{
		GenreIDs: p.GenreIDs,
		ActorIDs: p.ActorIDs,
		MovieIDs: p.MovieIDs,
	}
	if resp.GenreIDs == nil {
		resp.GenreIDs = []int{}
	}
	if resp.ActorIDs == nil {
		resp.ActorIDs = []int64{}
	}
	if resp.MovieIDs == nil {
		resp.MovieIDs = []string{}
	}
	if !p.UpdatedAt.IsZero() {
		updated := p.UpdatedAt.UTC()
		resp.UpdatedAt = &updated
	}
	return resp
}
