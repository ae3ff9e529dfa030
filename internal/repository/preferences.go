package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
)

// PreferencesRepository stores each user's declared affinities.
type PreferencesRepository struct {
	pool *pgxpool.Pool
}

// Get returns the user's preferences. A user who never saved any receives an
// empty value rather than an error.
func (r *PreferencesRepository) Get(ctx context.Context, userID string) (domain.Preferences, error) {
	const query = `
        SELECT genre_ids, actor_ids, movie_ids::text[], updated_at
        FROM user_preferences
        WHERE user_id = $1
    `
	prefs := domain.Preferences{UserID: userID}
	var genreIDs []int32
	err := r.pool.QueryRow(ctx, query, userID).Scan(&genreIDs, &prefs.ActorIDs, &prefs.MovieIDs, &prefs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Preferences{UserID: userID, GenreIDs: []int{}, ActorIDs: []int64{}, MovieIDs: []string{}}, nil
		}
		return domain.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	prefs.GenreIDs = make([]int, len(genreIDs))
	for i, id := range genreIDs {
		prefs.GenreIDs[i] = int(id)
	}
	return prefs, nil
}

// Save replaces the user's preferences. Genre ids must exist locally and
// liked movie ids must be mirrored.
func (r *PreferencesRepository) Save(ctx context.Context, prefs domain.Preferences) (domain.Preferences, error) {
	genreIDs := dedupeInts(prefs.GenreIDs)
	actorIDs := dedupeInt64s(prefs.ActorIDs)
	movieIDs := dedupeStrings(prefs.MovieIDs)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Preferences{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(genreIDs) > 0 {
		known, err := knownGenreIDs(ctx, tx, genreIDs)
		if err != nil {
			return domain.Preferences{}, err
		}
		if missing := missingInts(genreIDs, known); len(missing) > 0 {
			return domain.Preferences{}, fmt.Errorf("%w: %v", domain.ErrUnknownGenre, missing)
		}
	}
	if len(movieIDs) > 0 {
		var found int
		err := tx.QueryRow(ctx, `SELECT count(*) FROM movies WHERE id = ANY($1::text[]::uuid[])`, movieIDs).Scan(&found)
		if err != nil {
			return domain.Preferences{}, fmt.Errorf("lookup liked movies: %w", err)
		}
		if found != len(movieIDs) {
			return domain.Preferences{}, fmt.Errorf("liked movie: %w", ErrNotFound)
		}
	}

	const upsert = `
        INSERT INTO user_preferences (user_id, genre_ids, actor_ids, movie_ids, updated_at)
        VALUES ($1, $2::int4[], $3::int8[], $4::text[]::uuid[], now())
        ON CONFLICT (user_id) DO UPDATE SET
            genre_ids = EXCLUDED.genre_ids,
            actor_ids = EXCLUDED.actor_ids,
            movie_ids = EXCLUDED.movie_ids,
            updated_at = EXCLUDED.updated_at
        RETURNING updated_at
    `
	saved := domain.Preferences{UserID: prefs.UserID, GenreIDs: genreIDs, ActorIDs: actorIDs, MovieIDs: movieIDs}
	if err := tx.QueryRow(ctx, upsert, prefs.UserID, genreIDs, actorIDs, movieIDs).Scan(&saved.UpdatedAt); err != nil {
		return domain.Preferences{}, fmt.Errorf("save preferences: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Preferences{}, err
	}
	return saved, nil
}

func dedupeInt64s(values []int64) []int64 {
	seen := make(map[int64]struct{}, len(values))
	out := make([]int64, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
