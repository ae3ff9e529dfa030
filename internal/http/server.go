package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-discovery/internal/config"
	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/repository"
)

// Catalog is the cached upstream view of the movie catalog.
type Catalog interface {
	Trending(ctx context.Context) ([]domain.Movie, bool, error)
	MovieDetails(ctx context.Context, upstreamID int64) (domain.Movie, bool, error)
	Similar(ctx context.Context, upstreamID int64) ([]domain.Movie, bool, error)
	Search(ctx context.Context, query string) ([]domain.Movie, bool, error)
}

// Recommender ranks movies for a user.
type Recommender interface {
	Recommend(ctx context.Context, userID string, limit int) ([]domain.Movie, error)
}

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Store           HealthChecker
	Repo            *repository.Repository
	Catalog         Catalog
	Recommender     Recommender
	DuplicatePolicy repository.DuplicatePolicy
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	deps     Deps
	repo     *repository.Repository
	validate *validator.Validate
	logger   zerolog.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		repo:     deps.Repo,
		validate: newValidator(),
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router.Get("/genres", s.handleListGenres)

	s.router.Route("/movies", func(r chi.Router) {
		r.Get("/trending", s.handleTrending)
		r.Get("/search", s.handleSearch)
		r.Get("/tmdb/{tmdbID}", s.handleMovieByUpstreamID)
		r.Route("/{movieID}", func(r chi.Router) {
			r.Get("/", s.handleMovieByID)
			r.Get("/recommendations", s.handleSimilarMovies)
		})
	})

	s.router.Route("/user", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/interactions", s.handleListInteractions)
		r.Post("/interactions", s.handleRecordInteraction)
		r.Delete("/interactions/{interactionID}", s.handleDeleteInteraction)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handleSavePreferences)
		r.Get("/recommendations", s.handleRecommendations)
	})
}

// Start boots the HTTP server and blocks until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			s.respondError(w, http.StatusServiceUnavailable, "UNHEALTHY", "Database unreachable", nil)
			return
		}
	}
	s.respondSuccess(w, http.StatusOK, "ok", nil)
}
