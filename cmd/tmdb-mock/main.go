// Command tmdb-mock serves a fixed movie catalog on the upstream endpoints
// the server reads, for local runs without an API key.
package main

import (
	"flag"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-discovery/internal/logging"
)

type genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type movie struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	PosterPath  *string `json:"poster_path"`
	ReleaseDate string  `json:"release_date"`
	Popularity  float64 `json:"popularity"`
	VoteAverage float64 `json:"vote_average"`
	GenreIDs    []int   `json:"genre_ids"`
}

type fixtures struct {
	Genres []genre `json:"genres"`
	Movies []movie `json:"movies"`
	APIKey string  `json:"apiKey"`

	byID map[int64]movie
}

type page struct {
	Page    int     `json:"page"`
	Results []movie `json:"results"`
}

func main() {
	var (
		port     = flag.String("port", "9099", "port to listen on")
		data     = flag.String("data", "cmd/tmdb-mock/fixtures.json", "path to fixture file")
		failRate = flag.Float64("fail-rate", 0, "fraction of requests answered with 503")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := logging.New(logging.Config{Level: *logLevel, Format: "console"}, "tmdb-mock")

	fx, err := loadFixtures(*data)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *data).Msg("load fixtures")
	}

	addr := ":" + *port
	logger.Info().Str("addr", addr).Int("movies", len(fx.Movies)).Int("genres", len(fx.Genres)).Msg("mock catalog listening")
	if err := http.ListenAndServe(addr, newRouter(fx, *failRate, logger)); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func loadFixtures(path string) (*fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fx fixtures
	if err := json.Unmarshal(raw, &fx); err != nil {
		return nil, err
	}
	fx.byID = make(map[int64]movie, len(fx.Movies))
	for _, m := range fx.Movies {
		fx.byID[m.ID] = m
	}
	sort.SliceStable(fx.Movies, func(i, j int) bool { return fx.Movies[i].Popularity > fx.Movies[j].Popularity })
	return &fx, nil
}

func newRouter(fx *fixtures, failRate float64, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if fx.APIKey != "" && req.URL.Query().Get("api_key") != fx.APIKey {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"status_message": "Invalid API key"})
				return
			}
			if failRate > 0 && rand.Float64() < failRate {
				logger.Debug().Str("path", req.URL.Path).Msg("injected failure")
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status_message": "injected failure"})
				return
			}
			logger.Debug().Str("path", req.URL.Path).Str("query", req.URL.RawQuery).Msg("request")
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/trending/movie/week", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, page{Page: 1, Results: fx.Movies})
	})
	r.Get("/genre/movie/list", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"genres": fx.Genres})
	})
	r.Get("/search/movie", func(w http.ResponseWriter, req *http.Request) {
		query := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("query")))
		results := make([]movie, 0)
		for _, m := range fx.Movies {
			if query != "" && strings.Contains(strings.ToLower(m.Title), query) {
				results = append(results, m)
			}
		}
		writeJSON(w, http.StatusOK, page{Page: 1, Results: results})
	})
	r.Get("/movie/{id}", func(w http.ResponseWriter, req *http.Request) {
		m, ok := fx.lookup(chi.URLParam(req, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status_message": "The resource you requested could not be found."})
			return
		}
		genres := make([]genre, 0, len(m.GenreIDs))
		for _, id := range m.GenreIDs {
			for _, g := range fx.Genres {
				if g.ID == id {
					genres = append(genres, g)
				}
			}
		}
		writeJSON(w, http.StatusOK, struct {
			movie
			GenreIDs []int   `json:"genre_ids,omitempty"`
			Genres   []genre `json:"genres"`
		}{movie: m, Genres: genres})
	})
	r.Get("/movie/{id}/recommendations", func(w http.ResponseWriter, req *http.Request) {
		m, ok := fx.lookup(chi.URLParam(req, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"status_message": "The resource you requested could not be found."})
			return
		}
		writeJSON(w, http.StatusOK, page{Page: 1, Results: fx.similarTo(m)})
	})
	return r
}

func (fx *fixtures) lookup(raw string) (movie, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return movie{}, false
	}
	m, ok := fx.byID[id]
	return m, ok
}

// similarTo returns movies sharing at least one genre with m.
func (fx *fixtures) similarTo(m movie) []movie {
	wanted := make(map[int]struct{}, len(m.GenreIDs))
	for _, id := range m.GenreIDs {
		wanted[id] = struct{}{}
	}
	results := make([]movie, 0)
	for _, other := range fx.Movies {
		if other.ID == m.ID {
			continue
		}
		for _, id := range other.GenreIDs {
			if _, ok := wanted[id]; ok {
				results = append(results, other)
				break
			}
		}
	}
	return results
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
