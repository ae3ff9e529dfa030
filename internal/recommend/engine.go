// Package recommend ranks mirrored movies for a user from their declared
// preferences and interaction history.
package recommend

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/metrics"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Catalog reads mirrored movies.
type Catalog interface {
	ListByGenres(ctx context.Context, genreIDs []int, excluding []string, limit int) ([]domain.Movie, error)
	GetByUpstreamIDs(ctx context.Context, ids []int64) ([]domain.Movie, error)
}

// PreferenceSource loads a user's declared preferences.
type PreferenceSource interface {
	Get(ctx context.Context, userID string) (domain.Preferences, error)
}

// InteractionSource loads a user's interaction history.
type InteractionSource interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Interaction, error)
}

// TrendingSource supplies the cached trending list used for backfill.
type TrendingSource interface {
	Trending(ctx context.Context) ([]domain.Movie, bool, error)
}

// Weights are the score coefficients.
type Weights struct {
	Popularity float64
	Vote       float64
	Genre      float64
}

// DefaultWeights favour popularity, then rating, then genre overlap.
func DefaultWeights() Weights {
	return Weights{Popularity: 0.5, Vote: 0.3, Genre: 0.2}
}

// Options tunes the engine.
type Options struct {
	Weights           Weights
	Oversample        int
	ExcludeBookmarked bool
}

// Engine produces recommendations. It reads only the mirror, the user's own
// records and the gateway's trending list.
type Engine struct {
	catalog      Catalog
	preferences  PreferenceSource
	interactions InteractionSource
	trending     TrendingSource
	opts         Options
	logger       zerolog.Logger
}

// New constructs an Engine.
func New(catalog Catalog, preferences PreferenceSource, interactions InteractionSource, trending TrendingSource, opts Options, logger zerolog.Logger) *Engine {
	if opts.Oversample < 1 {
		opts.Oversample = 3
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	return &Engine{
		catalog:      catalog,
		preferences:  preferences,
		interactions: interactions,
		trending:     trending,
		opts:         opts,
		logger:       logger.With().Str("component", "recommend").Logger(),
	}
}

// NormalizeLimit applies the default and the cap.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Recommend returns up to limit movies for userID, best first. Upstream
// trouble never fails the call; it only shrinks the backfill.
func (e *Engine) Recommend(ctx context.Context, userID string, limit int) ([]domain.Movie, error) {
	limit = NormalizeLimit(limit)

	prefs, err := e.preferences.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	history, err := e.interactions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	excluded := e.excludedSet(prefs, history)

	var ranked []domain.Movie
	if len(prefs.GenreIDs) > 0 {
		pool, err := e.catalog.ListByGenres(ctx, prefs.GenreIDs, keys(excluded.ids), limit*e.opts.Oversample)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		ranked = Rank(pool, prefs.GenreIDs, e.opts.Weights)
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if len(ranked) == limit {
		return ranked, nil
	}

	metrics.RecommendBackfill.Inc()
	return e.backfill(ctx, ranked, excluded, limit), nil
}

// exclusions holds the movies a user must not be shown, by mirror id and,
// where the mirror row is known, by upstream id.
type exclusions struct {
	ids      map[string]struct{}
	upstream map[int64]struct{}
}

func (x exclusions) has(movie domain.Movie) bool {
	if _, ok := x.upstream[movie.UpstreamID]; ok {
		return true
	}
	if movie.ID == "" {
		return false
	}
	_, ok := x.ids[movie.ID]
	return ok
}

func (e *Engine) excludedSet(prefs domain.Preferences, history []domain.Interaction) exclusions {
	x := exclusions{
		ids:      make(map[string]struct{}, len(history)+len(prefs.MovieIDs)),
		upstream: make(map[int64]struct{}, len(history)),
	}
	for _, id := range prefs.MovieIDs {
		x.ids[id] = struct{}{}
	}
	for _, interaction := range history {
		exclude := false
		switch interaction.Kind {
		case domain.InteractionWatched, domain.InteractionLiked:
			exclude = true
		case domain.InteractionBookmarked:
			exclude = e.opts.ExcludeBookmarked
		}
		if !exclude {
			continue
		}
		x.ids[interaction.MovieID] = struct{}{}
		if interaction.MovieUpstreamID > 0 {
			x.upstream[interaction.MovieUpstreamID] = struct{}{}
		}
	}
	return x
}

// backfill appends trending movies in trending order, skipping anything
// excluded or already selected. Trending records without a mirror id are
// resolved against the mirror first; if that lookup fails they are dropped,
// since exclusion cannot be checked for them.
func (e *Engine) backfill(ctx context.Context, selected []domain.Movie, excluded exclusions, limit int) []domain.Movie {
	trending, stale, err := e.trending.Trending(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Int("have", len(selected)).Msg("trending backfill unavailable")
		return selected
	}
	if stale {
		e.logger.Debug().Msg("backfilling from stale trending list")
	}
	trending = e.resolveUnmirrored(ctx, trending)

	seen := make(map[int64]struct{}, len(selected))
	for _, movie := range selected {
		seen[movie.UpstreamID] = struct{}{}
	}
	for _, movie := range trending {
		if len(selected) >= limit {
			break
		}
		if _, ok := seen[movie.UpstreamID]; ok {
			continue
		}
		if excluded.has(movie) {
			continue
		}
		seen[movie.UpstreamID] = struct{}{}
		selected = append(selected, movie)
	}
	return selected
}

func (e *Engine) resolveUnmirrored(ctx context.Context, movies []domain.Movie) []domain.Movie {
	var missing []int64
	for _, movie := range movies {
		if !movie.Mirrored() {
			missing = append(missing, movie.UpstreamID)
		}
	}
	if len(missing) == 0 {
		return movies
	}

	mirrored, err := e.catalog.GetByUpstreamIDs(ctx, missing)
	if err != nil {
		e.logger.Warn().Err(err).Int("unmirrored", len(missing)).Msg("dropping unmirrored trending movies")
	}
	byUpstream := make(map[int64]domain.Movie, len(mirrored))
	for _, movie := range mirrored {
		byUpstream[movie.UpstreamID] = movie
	}

	out := make([]domain.Movie, 0, len(movies))
	for _, movie := range movies {
		if movie.Mirrored() {
			out = append(out, movie)
			continue
		}
		if err != nil {
			continue
		}
		if record, ok := byUpstream[movie.UpstreamID]; ok {
			movie = record
		}
		out = append(out, movie)
	}
	return out
}

// Rank scores candidates and orders them by score descending, upstream id
// ascending on ties.
func Rank(candidates []domain.Movie, favoriteGenres []int, w Weights) []domain.Movie {
	favorites := make(map[int]struct{}, len(favoriteGenres))
	for _, id := range favoriteGenres {
		favorites[id] = struct{}{}
	}

	type scored struct {
		movie domain.Movie
		score float64
	}
	items := make([]scored, len(candidates))
	for i, movie := range candidates {
		items[i] = scored{movie: movie, score: Score(movie, favorites, w)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].movie.UpstreamID < items[j].movie.UpstreamID
	})

	ranked := make([]domain.Movie, len(items))
	for i, item := range items {
		ranked[i] = item.movie
	}
	return ranked
}

// Score is popularity*wPop + voteAverage*wVote + overlap*wGenre, where
// overlap counts the movie's genres that are among the user's favorites.
func Score(movie domain.Movie, favorites map[int]struct{}, w Weights) float64 {
	overlap := 0
	for _, id := range movie.GenreIDs {
		if _, ok := favorites[id]; ok {
			overlap++
		}
	}
	return movie.Popularity*w.Popularity + movie.VoteAverage*w.Vote + float64(overlap)*w.Genre
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
