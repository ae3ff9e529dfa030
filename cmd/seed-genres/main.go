// Command seed-genres copies the upstream genre list into the database.
// Run it once before serving traffic; movies synced earlier keep only the
// genres that were known at sync time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clark-Hu/movie-discovery/internal/cache"
	"github.com/Clark-Hu/movie-discovery/internal/config"
	"github.com/Clark-Hu/movie-discovery/internal/gateway"
	"github.com/Clark-Hu/movie-discovery/internal/logging"
	"github.com/Clark-Hu/movie-discovery/internal/repository"
	"github.com/Clark-Hu/movie-discovery/internal/store"
	"github.com/Clark-Hu/movie-discovery/internal/tmdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		logger := logging.New(logging.Config{}, "seed-genres")
		logger.Error().Err(err).Msg("seed genres")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, "seed-genres")

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	st, err := store.New(ctx, cfg.DBURL, store.Options{
		MaxConns:               2,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	client, err := tmdb.NewHTTPClient(cfg.TMDBURL, cfg.TMDBAPIKey, tmdb.Options{
		Timeout:    cfg.UpstreamTimeout(),
		RatePerSec: cfg.TMDBRatePerSec,
		Burst:      cfg.TMDBBurst,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tmdb client: %w", err)
	}

	repo := repository.New(st)
	c := cache.New(cache.NewMemoryStore(16, 0), cache.Options{FetchTimeout: cfg.FetchBudget()}, logger)
	defer c.Close()

	gw := gateway.New(client, c, repo.Movies, repo.Genres, gateway.TTLs{
		Trending: cfg.TrendingTTL,
		Details:  cfg.DetailsTTL,
		Search:   cfg.SearchTTL,
	}, logger)

	written, err := gw.SeedGenres(ctx)
	if err != nil {
		return fmt.Errorf("seed genres (%d written): %w", written, err)
	}
	logger.Info().Int("written", written).Msg("done")
	return nil
}
