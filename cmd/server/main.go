package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-discovery/internal/cache"
	"github.com/Clark-Hu/movie-discovery/internal/config"
	"github.com/Clark-Hu/movie-discovery/internal/gateway"
	httpserver "github.com/Clark-Hu/movie-discovery/internal/http"
	"github.com/Clark-Hu/movie-discovery/internal/logging"
	"github.com/Clark-Hu/movie-discovery/internal/recommend"
	"github.com/Clark-Hu/movie-discovery/internal/repository"
	"github.com/Clark-Hu/movie-discovery/internal/store"
	"github.com/Clark-Hu/movie-discovery/internal/tmdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		logger := logging.New(logging.Config{}, "movie-discovery")
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is cancelled or the listener
// fails. Deferred cleanup always runs before main decides the exit code.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, "movie-discovery")

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, storeOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	httpClient, err := tmdb.NewHTTPClient(cfg.TMDBURL, cfg.TMDBAPIKey, tmdb.Options{
		Timeout:    cfg.UpstreamTimeout(),
		RatePerSec: cfg.TMDBRatePerSec,
		Burst:      cfg.TMDBBurst,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tmdb client: %w", err)
	}
	upstream := tmdb.NewBreakerClient(httpClient, tmdb.DefaultBreakerSettings(), logger)

	cacheStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init cache store: %w", err)
	}
	catalogCache := cache.New(cacheStore, cache.Options{
		StaleRetention: cfg.CacheStaleRetention,
		FetchTimeout:   cfg.FetchBudget(),
	}, logger)
	defer func() {
		if err := catalogCache.Close(); err != nil {
			logger.Warn().Err(err).Msg("close cache")
		}
	}()

	policy, err := repository.ParseDuplicatePolicy(cfg.DuplicateInteractionPolicy)
	if err != nil {
		return fmt.Errorf("duplicate interaction policy: %w", err)
	}

	repo := repository.New(st)
	gw := gateway.New(upstream, catalogCache, repo.Movies, repo.Genres, gateway.TTLs{
		Trending: cfg.TrendingTTL,
		Details:  cfg.DetailsTTL,
		Search:   cfg.SearchTTL,
	}, logger)

	engine := recommend.New(repo.Movies, repo.Preferences, repo.Interactions, gw, recommend.Options{
		Weights: recommend.Weights{
			Popularity: cfg.RecommendWeightPopularity,
			Vote:       cfg.RecommendWeightVote,
			Genre:      cfg.RecommendWeightGenre,
		},
		Oversample:        cfg.RecommendOversample,
		ExcludeBookmarked: cfg.ExcludeBookmarked,
	}, logger)

	server := httpserver.New(cfg, httpserver.Deps{
		Store:           st,
		Repo:            repo,
		Catalog:         gw,
		Recommender:     engine,
		DuplicatePolicy: policy,
	}, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Start(ctx)
	}()

	var serveErr error
	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("graceful shutdown error")
	}
	return serveErr
}

func storeOptions(cfg config.Config, logger zerolog.Logger) store.Options {
	return store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	}
}

func newCacheStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	if cfg.CacheBackend == "redis" {
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	}
	return cache.NewMemoryStore(cfg.CacheCapacity, time.Minute), nil
}
