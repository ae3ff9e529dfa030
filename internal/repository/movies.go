package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/store"
)

// MoviesRepository is the catalog mirror: one row per upstream movie id.
type MoviesRepository struct {
	pool *pgxpool.Pool
}

const movieColumns = `
    m.id::text,
    m.upstream_id,
    m.title,
    m.overview,
    m.poster_path,
    m.release_date,
    m.popularity,
    m.vote_average,
    m.last_synced_at,
    m.created_at,
    COALESCE((SELECT array_agg(mg.genre_id ORDER BY mg.genre_id) FROM movie_genres mg WHERE mg.movie_id = m.id), '{}'::int4[])
`

// GenreMode selects how AttachGenres combines new links with existing ones.
type GenreMode int

const (
	// GenreReplace makes the given set the movie's complete genre set.
	GenreReplace GenreMode = iota
	// GenreUnion adds the given genres to whatever is already linked.
	GenreUnion
)

// MovieUpsertParams carries the upstream-sourced fields of a movie.
type MovieUpsertParams struct {
	UpstreamID  int64
	Title       string
	Overview    string
	PosterPath  string
	ReleaseDate *time.Time
	Popularity  float64
	VoteAverage float64
}

// Upsert inserts the movie or refreshes its mutable fields and last_synced_at.
// It is a single INSERT ... ON CONFLICT statement so concurrent first-time
// syncs of the same upstream id converge on one row. The returned bool is
// true when the row was created by this call.
func (r *MoviesRepository) Upsert(ctx context.Context, params MovieUpsertParams) (domain.Movie, bool, error) {
	if params.UpstreamID <= 0 {
		return domain.Movie{}, false, fmt.Errorf("upsert movie: invalid upstream id %d", params.UpstreamID)
	}
	const query = `
        WITH up AS (
            INSERT INTO movies (upstream_id, title, overview, poster_path, release_date, popularity, vote_average, last_synced_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7, clock_timestamp())
            ON CONFLICT (upstream_id) DO UPDATE SET
                title = EXCLUDED.title,
                overview = EXCLUDED.overview,
                poster_path = EXCLUDED.poster_path,
                release_date = EXCLUDED.release_date,
                popularity = EXCLUDED.popularity,
                vote_average = EXCLUDED.vote_average,
                last_synced_at = EXCLUDED.last_synced_at
            RETURNING *, (xmax = 0) AS inserted
        )
        SELECT ` + movieColumns + `, m.inserted
        FROM up m
    `

	var inserted bool
	movie, err := scanMovie(r.pool.QueryRow(ctx, query,
		params.UpstreamID,
		params.Title,
		params.Overview,
		params.PosterPath,
		params.ReleaseDate,
		params.Popularity,
		params.VoteAverage,
	), &inserted)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return domain.Movie{}, false, fmt.Errorf("upsert movie %d: %w", params.UpstreamID, domain.ErrDataIntegrity)
		}
		return domain.Movie{}, false, fmt.Errorf("upsert movie %d: %w", params.UpstreamID, err)
	}
	return movie, inserted, nil
}

// AttachGenres links the movie to genreIDs. Every id must already exist in the
// genre table; otherwise nothing changes and ErrUnknownGenre is returned.
// It returns the movie's resulting genre set.
func (r *MoviesRepository) AttachGenres(ctx context.Context, movieID string, genreIDs []int, mode GenreMode) ([]int, error) {
	if _, err := uuid.Parse(movieID); err != nil {
		return nil, ErrNotFound
	}
	ids := dedupeInts(genreIDs)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(ids) > 0 {
		known, err := knownGenreIDs(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		if missing := missingInts(ids, known); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnknownGenre, missing)
		}
	}

	if mode == GenreReplace {
		if _, err := tx.Exec(ctx, `DELETE FROM movie_genres WHERE movie_id = $1 AND genre_id <> ALL($2::int4[])`, movieID, ids); err != nil {
			return nil, fmt.Errorf("clear genres: %w", err)
		}
	}
	if len(ids) > 0 {
		_, err := tx.Exec(ctx, `
            INSERT INTO movie_genres (movie_id, genre_id)
            SELECT $1, g FROM unnest($2::int4[]) AS g
            ON CONFLICT DO NOTHING
        `, movieID, ids)
		if err != nil {
			if store.IsForeignKeyViolation(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("link genres: %w", err)
		}
	}

	var linked []int32
	err = tx.QueryRow(ctx, `
        SELECT COALESCE(array_agg(genre_id ORDER BY genre_id), '{}'::int4[])
        FROM movie_genres WHERE movie_id = $1
    `, movieID).Scan(&linked)
	if err != nil {
		return nil, fmt.Errorf("read genres: %w", err)
	}
	result := make([]int, len(linked))
	for i, id := range linked {
		result[i] = int(id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByUpstreamID fetches a mirrored movie by its upstream identifier.
func (r *MoviesRepository) GetByUpstreamID(ctx context.Context, upstreamID int64) (domain.Movie, error) {
	query := `SELECT ` + movieColumns + ` FROM movies m WHERE m.upstream_id = $1`
	movie, err := scanMovie(r.pool.QueryRow(ctx, query, upstreamID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Movie{}, ErrNotFound
		}
		return domain.Movie{}, err
	}
	return movie, nil
}

// GetByID fetches a movie by its internal identifier.
func (r *MoviesRepository) GetByID(ctx context.Context, id string) (domain.Movie, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Movie{}, ErrNotFound
	}
	query := `SELECT ` + movieColumns + ` FROM movies m WHERE m.id = $1`
	movie, err := scanMovie(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Movie{}, ErrNotFound
		}
		return domain.Movie{}, err
	}
	return movie, nil
}

// GetByUpstreamIDs returns the mirrored movies for ids in the order given.
// Ids that are not mirrored are skipped.
func (r *MoviesRepository) GetByUpstreamIDs(ctx context.Context, ids []int64) ([]domain.Movie, error) {
	if len(ids) == 0 {
		return []domain.Movie{}, nil
	}
	query := `SELECT ` + movieColumns + ` FROM movies m WHERE m.upstream_id = ANY($1::int8[])`
	found, err := r.queryMovies(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	byUpstream := make(map[int64]domain.Movie, len(found))
	for _, movie := range found {
		byUpstream[movie.UpstreamID] = movie
	}
	results := make([]domain.Movie, 0, len(found))
	for _, id := range ids {
		if movie, ok := byUpstream[id]; ok {
			results = append(results, movie)
			delete(byUpstream, id)
		}
	}
	return results, nil
}

// ListByGenres returns movies tagged with any of genreIDs, skipping excluded
// movie ids. Ordering is popularity DESC, vote_average DESC, upstream_id ASC.
func (r *MoviesRepository) ListByGenres(ctx context.Context, genreIDs []int, excluding []string, limit int) ([]domain.Movie, error) {
	if len(genreIDs) == 0 || limit <= 0 {
		return []domain.Movie{}, nil
	}
	excluded := make([]string, 0, len(excluding))
	for _, id := range excluding {
		if _, err := uuid.Parse(id); err == nil {
			excluded = append(excluded, id)
		}
	}

	query := `
        SELECT ` + movieColumns + `
        FROM movies m
        WHERE EXISTS (
                SELECT 1 FROM movie_genres mg
                WHERE mg.movie_id = m.id AND mg.genre_id = ANY($1::int4[])
            )
          AND m.id <> ALL($2::text[]::uuid[])
        ORDER BY m.popularity DESC, m.vote_average DESC, m.upstream_id ASC
        LIMIT $3
    `
	return r.queryMovies(ctx, query, dedupeInts(genreIDs), excluded, limit)
}

// Search performs a case-insensitive title match against the mirror.
func (r *MoviesRepository) Search(ctx context.Context, term string, limit int) ([]domain.Movie, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []domain.Movie{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
        SELECT ` + movieColumns + `
        FROM movies m
        WHERE m.title ILIKE $1
        ORDER BY m.popularity DESC, m.upstream_id ASC
        LIMIT $2
    `
	return r.queryMovies(ctx, query, "%"+escapeLike(term)+"%", limit)
}

func (r *MoviesRepository) queryMovies(ctx context.Context, query string, args ...any) ([]domain.Movie, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Movie, 0)
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, movie)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanMovie(row pgx.Row, extra ...any) (domain.Movie, error) {
	var (
		movie       domain.Movie
		releaseDate *time.Time
		genreIDs    []int32
	)

	dest := []any{
		&movie.ID,
		&movie.UpstreamID,
		&movie.Title,
		&movie.Overview,
		&movie.PosterPath,
		&releaseDate,
		&movie.Popularity,
		&movie.VoteAverage,
		&movie.LastSyncedAt,
		&movie.CreatedAt,
		&genreIDs,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Movie{}, err
	}

	movie.ReleaseDate = releaseDate
	movie.GenreIDs = make([]int, len(genreIDs))
	for i, id := range genreIDs {
		movie.GenreIDs[i] = int(id)
	}
	return movie, nil
}

func knownGenreIDs(ctx context.Context, q pgx.Tx, ids []int) (map[int]struct{}, error) {
	rows, err := q.Query(ctx, `SELECT id FROM genres WHERE id = ANY($1::int4[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup genres: %w", err)
	}
	defer rows.Close()

	known := make(map[int]struct{}, len(ids))
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
	}
	return known, rows.Err()
}

func missingInts(ids []int, known map[int]struct{}) []int {
	var missing []int
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func dedupeInts(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}
