// Package gateway serves upstream catalog reads through the cache and keeps
// the local mirror in step with every movie upstream returns.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-discovery/internal/cache"
	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/metrics"
	"github.com/Clark-Hu/movie-discovery/internal/repository"
	"github.com/Clark-Hu/movie-discovery/internal/tmdb"
)

const (
	searchFallbackLimit = 20
	// mirrorSyncTimeout bounds the mirror writes for one upstream response.
	mirrorSyncTimeout = 10 * time.Second
)

// MovieMirror is the subset of the catalog mirror the gateway writes to.
type MovieMirror interface {
	Upsert(ctx context.Context, params repository.MovieUpsertParams) (domain.Movie, bool, error)
	AttachGenres(ctx context.Context, movieID string, genreIDs []int, mode repository.GenreMode) ([]int, error)
	GetByUpstreamID(ctx context.Context, upstreamID int64) (domain.Movie, error)
	Search(ctx context.Context, term string, limit int) ([]domain.Movie, error)
}

// GenreStore holds the genre enumeration.
type GenreStore interface {
	Upsert(ctx context.Context, genre domain.Genre) (bool, error)
	FilterKnown(ctx context.Context, ids []int) ([]int, error)
}

// TTLs sets the freshness window per query class.
type TTLs struct {
	Trending time.Duration
	Details  time.Duration
	Search   time.Duration
}

// Gateway is the only component that talks to upstream.
type Gateway struct {
	client tmdb.Client
	cache  *cache.Cache
	movies MovieMirror
	genres GenreStore
	ttls   TTLs
	logger zerolog.Logger
}

// New wires a Gateway.
func New(client tmdb.Client, c *cache.Cache, movies MovieMirror, genres GenreStore, ttls TTLs, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		cache:  c,
		movies: movies,
		genres: genres,
		ttls:   ttls,
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Trending returns the upstream trending list. stale is true when the list
// came from an expired cache entry because upstream failed.
func (g *Gateway) Trending(ctx context.Context) ([]domain.Movie, bool, error) {
	return g.fetchList(ctx, "trending", g.ttls.Trending, func(fctx context.Context) ([]tmdb.Movie, error) {
		return g.client.Trending(fctx)
	})
}

// Similar returns upstream's recommendations for a movie.
func (g *Gateway) Similar(ctx context.Context, upstreamID int64) ([]domain.Movie, bool, error) {
	key := "similar:" + strconv.FormatInt(upstreamID, 10)
	return g.fetchList(ctx, key, g.ttls.Trending, func(fctx context.Context) ([]tmdb.Movie, error) {
		return g.client.Recommendations(fctx, upstreamID)
	})
}

// MovieDetails returns one movie. When upstream fails and nothing is cached
// the mirrored record is returned flagged stale.
func (g *Gateway) MovieDetails(ctx context.Context, upstreamID int64) (domain.Movie, bool, error) {
	key := "details:" + strconv.FormatInt(upstreamID, 10)
	res, err := g.cache.Fetch(ctx, key, g.ttls.Details, func(fctx context.Context) ([]byte, error) {
		movie, err := g.client.MovieDetails(fctx, upstreamID)
		if err != nil {
			return nil, err
		}
		sctx, cancel := g.syncContext(fctx)
		defer cancel()
		synced, syncErr := g.sync(sctx, movie)
		return encodeSynced(synced, syncErr)
	})
	if err == nil {
		var movie domain.Movie
		if err := json.Unmarshal(res.Payload, &movie); err != nil {
			return domain.Movie{}, false, fmt.Errorf("decode cached %s: %w", key, err)
		}
		return movie, res.Stale, nil
	}

	if err = g.classify(ctx, err); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		return domain.Movie{}, false, err
	}
	mirrored, mirrorErr := g.movies.GetByUpstreamID(ctx, upstreamID)
	if mirrorErr != nil {
		if !errors.Is(mirrorErr, domain.ErrNotFound) {
			g.logger.Error().Err(mirrorErr).Int64("upstream_id", upstreamID).Msg("mirror lookup failed")
		}
		return domain.Movie{}, false, err
	}
	g.logger.Warn().Err(err).Int64("upstream_id", upstreamID).Msg("serving mirrored movie, upstream unavailable")
	return mirrored, true, nil
}

// Search runs an upstream title search. When upstream fails and nothing is
// cached, the mirror's own title search is used and flagged stale.
func (g *Gateway) Search(ctx context.Context, query string) ([]domain.Movie, bool, error) {
	normalized := NormalizeQuery(query)
	if normalized == "" {
		return []domain.Movie{}, false, nil
	}
	movies, stale, err := g.fetchList(ctx, "search:"+normalized, g.ttls.Search, func(fctx context.Context) ([]tmdb.Movie, error) {
		return g.client.Search(fctx, normalized)
	})
	if err == nil || !errors.Is(err, domain.ErrUpstreamUnavailable) {
		return movies, stale, err
	}

	local, mirrorErr := g.movies.Search(ctx, normalized, searchFallbackLimit)
	if mirrorErr != nil {
		g.logger.Error().Err(mirrorErr).Str("query", normalized).Msg("mirror search failed")
		return nil, false, err
	}
	g.logger.Warn().Err(err).Str("query", normalized).Int("results", len(local)).Msg("serving mirror search, upstream unavailable")
	return local, true, nil
}

// SeedGenres copies the upstream genre enumeration into the genre table and
// returns how many genres were written.
func (g *Gateway) SeedGenres(ctx context.Context) (int, error) {
	genres, err := g.client.Genres(ctx)
	if err != nil {
		return 0, g.classify(ctx, err)
	}
	written := 0
	for _, genre := range genres {
		if _, err := g.genres.Upsert(ctx, genre); err != nil {
			return written, fmt.Errorf("seed genre %d: %w", genre.ID, err)
		}
		written++
	}
	g.logger.Info().Int("genres", written).Msg("genres seeded")
	return written, nil
}

// NormalizeQuery lowercases and collapses whitespace so equivalent searches
// share a cache entry.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (g *Gateway) fetchList(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]tmdb.Movie, error)) ([]domain.Movie, bool, error) {
	res, err := g.cache.Fetch(ctx, key, ttl, func(fctx context.Context) ([]byte, error) {
		upstream, err := load(fctx)
		if err != nil {
			return nil, err
		}
		sctx, cancel := g.syncContext(fctx)
		defer cancel()
		var syncErr error
		synced := make([]domain.Movie, 0, len(upstream))
		for _, movie := range upstream {
			record, err := g.sync(sctx, movie)
			if err != nil && syncErr == nil {
				syncErr = err
			}
			synced = append(synced, record)
		}
		return encodeSynced(synced, syncErr)
	})
	if err != nil {
		return nil, false, g.classify(ctx, err)
	}
	var movies []domain.Movie
	if err := json.Unmarshal(res.Payload, &movies); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return movies, res.Stale, nil
}

// syncContext detaches mirror writes from the fetch deadline so a slow
// upstream response does not starve them.
func (g *Gateway) syncContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), mirrorSyncTimeout)
}

// encodeSynced marshals synced records. When any mirror write failed the
// payload is still served but not cached, so the next read syncs again.
func encodeSynced(v any, syncErr error) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if syncErr != nil {
		return nil, &cache.Uncached{Payload: payload, Cause: syncErr}
	}
	return payload, nil
}

// sync writes an upstream movie into the mirror and returns the canonical
// record. On a mirror failure the error is returned together with the best
// record available: the upstream-derived one if the upsert failed, the
// mirrored one if only the genre links failed.
func (g *Gateway) sync(ctx context.Context, movie tmdb.Movie) (domain.Movie, error) {
	fallback := domain.Movie{
		UpstreamID:  movie.ID,
		Title:       movie.Title,
		Overview:    movie.Overview,
		PosterPath:  movie.PosterPath,
		ReleaseDate: movie.ReleaseDate,
		Popularity:  movie.Popularity,
		VoteAverage: movie.VoteAverage,
		GenreIDs:    movie.GenreIDs,
	}

	mirrored, _, err := g.movies.Upsert(ctx, repository.MovieUpsertParams{
		UpstreamID:  movie.ID,
		Title:       movie.Title,
		Overview:    movie.Overview,
		PosterPath:  movie.PosterPath,
		ReleaseDate: movie.ReleaseDate,
		Popularity:  movie.Popularity,
		VoteAverage: movie.VoteAverage,
	})
	if err != nil {
		metrics.MirrorSyncFailures.Inc()
		g.logMirrorError(err, movie.ID, "mirror upsert failed")
		return fallback, err
	}

	known, err := g.genres.FilterKnown(ctx, movie.GenreIDs)
	if err != nil {
		metrics.MirrorSyncFailures.Inc()
		g.logMirrorError(err, movie.ID, "genre lookup failed")
		return mirrored, err
	}
	if len(known) != len(movie.GenreIDs) {
		g.logger.Debug().Int64("upstream_id", movie.ID).
			Ints("upstream_genres", movie.GenreIDs).Ints("known_genres", known).
			Msg("skipping genres missing from the genre table")
	}
	linked, err := g.movies.AttachGenres(ctx, mirrored.ID, known, repository.GenreReplace)
	if err != nil {
		metrics.MirrorSyncFailures.Inc()
		g.logMirrorError(err, movie.ID, "genre attach failed")
		return mirrored, err
	}
	mirrored.GenreIDs = linked
	return mirrored, nil
}

func (g *Gateway) logMirrorError(err error, upstreamID int64, msg string) {
	event := g.logger.Warn()
	if errors.Is(err, domain.ErrDataIntegrity) {
		event = g.logger.Error()
	}
	event.Err(err).Int64("upstream_id", upstreamID).Msg(msg)
}

// classify maps upstream and cache errors onto the domain taxonomy.
func (g *Gateway) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, tmdb.ErrNotFound):
		return domain.ErrNotFound
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
}
