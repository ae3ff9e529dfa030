package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/store"
)

// GenresRepository stores the upstream genre enumeration.
type GenresRepository struct {
	pool *pgxpool.Pool
}

// Upsert inserts or renames a genre keyed by its upstream id.
func (r *GenresRepository) Upsert(ctx context.Context, genre domain.Genre) (bool, error) {
	name := strings.TrimSpace(genre.Name)
	if genre.ID <= 0 || name == "" {
		return false, fmt.Errorf("upsert genre: invalid genre %d %q", genre.ID, genre.Name)
	}
	const query = `
        INSERT INTO genres (id, name)
        VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
        RETURNING (xmax = 0) AS inserted
    `
	var inserted bool
	if err := r.pool.QueryRow(ctx, query, genre.ID, name).Scan(&inserted); err != nil {
		if store.IsUniqueViolation(err) {
			return false, fmt.Errorf("upsert genre %d: name %q taken: %w", genre.ID, name, domain.ErrDataIntegrity)
		}
		return false, fmt.Errorf("upsert genre %d: %w", genre.ID, err)
	}
	return inserted, nil
}

// List returns every genre ordered by name.
func (r *GenresRepository) List(ctx context.Context) ([]domain.Genre, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM genres ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	genres := make([]domain.Genre, 0)
	for rows.Next() {
		var g domain.Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// FilterKnown returns the subset of ids present in the genre table, sorted.
func (r *GenresRepository) FilterKnown(ctx context.Context, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return []int{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM genres WHERE id = ANY($1::int4[]) ORDER BY id`, dedupeInts(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make([]int, 0, len(ids))
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known = append(known, id)
	}
	return known, rows.Err()
}

// Exists reports whether id is a known genre.
func (r *GenresRepository) Exists(ctx context.Context, id int) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM genres WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}
