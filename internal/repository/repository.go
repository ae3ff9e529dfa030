package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/store"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = domain.ErrNotFound

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Movies       *MoviesRepository
	Genres       *GenresRepository
	Preferences  *PreferencesRepository
	Interactions *InteractionsRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Movies:       &MoviesRepository{pool: pool},
		Genres:       &GenresRepository{pool: pool},
		Preferences:  &PreferencesRepository{pool: pool},
		Interactions: &InteractionsRepository{pool: pool},
	}
}
