package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/store"
)

// DuplicatePolicy decides what recording an existing (user, movie, kind) does.
type DuplicatePolicy int

const (
	// DuplicateIdempotent returns the existing interaction unchanged.
	DuplicateIdempotent DuplicatePolicy = iota
	// DuplicateReject fails with domain.ErrDuplicateInteraction.
	DuplicateReject
)

// ParseDuplicatePolicy maps a config value onto a policy.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "idempotent":
		return DuplicateIdempotent, nil
	case "reject":
		return DuplicateReject, nil
	default:
		return DuplicateIdempotent, fmt.Errorf("unknown duplicate interaction policy %q", raw)
	}
}

// InteractionsRepository stores per-user movie interactions.
type InteractionsRepository struct {
	pool *pgxpool.Pool
}

// InteractionParams identifies the interaction to record.
type InteractionParams struct {
	UserID  string
	MovieID string
	Kind    domain.InteractionKind
}

const interactionColumns = `
    i.id,
    i.user_id,
    i.movie_id::text,
    COALESCE((SELECT m.upstream_id FROM movies m WHERE m.id = i.movie_id), 0),
    COALESCE((SELECT m.title FROM movies m WHERE m.id = i.movie_id), ''),
    i.kind,
    i.created_at
`

// Record stores the interaction. The bool result is true when a new row was
// created; under DuplicateIdempotent an existing row is returned with false.
func (r *InteractionsRepository) Record(ctx context.Context, params InteractionParams, policy DuplicatePolicy) (domain.Interaction, bool, error) {
	if _, err := uuid.Parse(params.MovieID); err != nil {
		return domain.Interaction{}, false, ErrNotFound
	}
	const insert = `
        WITH ins AS (
            INSERT INTO interactions (user_id, movie_id, kind)
            VALUES ($1, $2, $3)
            ON CONFLICT (user_id, movie_id, kind) DO NOTHING
            RETURNING *
        )
        SELECT ` + interactionColumns + ` FROM ins i
    `
	interaction, err := scanInteraction(r.pool.QueryRow(ctx, insert, params.UserID, params.MovieID, string(params.Kind)))
	switch {
	case err == nil:
		return interaction, true, nil
	case errors.Is(err, pgx.ErrNoRows):
	case store.IsForeignKeyViolation(err):
		return domain.Interaction{}, false, ErrNotFound
	default:
		return domain.Interaction{}, false, fmt.Errorf("record interaction: %w", err)
	}

	if policy == DuplicateReject {
		return domain.Interaction{}, false, domain.ErrDuplicateInteraction
	}

	const existing = `
        SELECT ` + interactionColumns + `
        FROM interactions i
        WHERE i.user_id = $1 AND i.movie_id = $2 AND i.kind = $3
    `
	interaction, err = scanInteraction(r.pool.QueryRow(ctx, existing, params.UserID, params.MovieID, string(params.Kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conflicting row was deleted between the two statements.
			return domain.Interaction{}, false, fmt.Errorf("record interaction: concurrent delete")
		}
		return domain.Interaction{}, false, err
	}
	return interaction, false, nil
}

// ListByUser returns a user's interactions, newest first.
func (r *InteractionsRepository) ListByUser(ctx context.Context, userID string) ([]domain.Interaction, error) {
	query := `
        SELECT ` + interactionColumns + `
        FROM interactions i
        WHERE i.user_id = $1
        ORDER BY i.created_at DESC, i.id DESC
    `
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Interaction, 0)
	for rows.Next() {
		interaction, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, interaction)
	}
	return results, rows.Err()
}

// Delete removes an interaction owned by userID. Interactions belonging to
// another user are reported as not found.
func (r *InteractionsRepository) Delete(ctx context.Context, userID string, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM interactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete interaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInteraction(row pgx.Row) (domain.Interaction, error) {
	var (
		interaction domain.Interaction
		kind        string
	)
	err := row.Scan(
		&interaction.ID,
		&interaction.UserID,
		&interaction.MovieID,
		&interaction.MovieUpstreamID,
		&interaction.MovieTitle,
		&kind,
		&interaction.CreatedAt,
	)
	if err != nil {
		return domain.Interaction{}, err
	}
	interaction.Kind = domain.InteractionKind(kind)
	return interaction, nil
}
