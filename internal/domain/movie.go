package domain

import "time"

// Genre is upstream-owned reference data; ID is the upstream genre id.
type Genre struct {
	ID   int
	Name string
}

// Movie is the local mirror of an upstream catalog entry.
type Movie struct {
	ID           string
	UpstreamID   int64
	Title        string
	Overview     string
	PosterPath   string
	ReleaseDate  *time.Time
	Popularity   float64
	VoteAverage  float64
	GenreIDs     []int
	LastSyncedAt time.Time
	CreatedAt    time.Time
}

// Mirrored reports whether the record has been persisted locally.
func (m Movie) Mirrored() bool {
	return m.ID != ""
}
