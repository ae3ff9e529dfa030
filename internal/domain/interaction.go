package domain

import (
	"fmt"
	"strings"
	"time"
)

// InteractionKind enumerates the ways a user can mark a movie.
type InteractionKind string

const (
	InteractionLiked      InteractionKind = "liked"
	InteractionBookmarked InteractionKind = "bookmarked"
	InteractionWatched    InteractionKind = "watched"
)

// ParseInteractionKind normalizes user input into a known kind.
func ParseInteractionKind(raw string) (InteractionKind, error) {
	switch kind := InteractionKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case InteractionLiked, InteractionBookmarked, InteractionWatched:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown interaction kind %q", raw)
	}
}

// Interaction records a single user action against a mirrored movie.
// At most one interaction exists per (user, movie, kind).
type Interaction struct {
	ID              int64
	UserID          string
	MovieID         string
	MovieUpstreamID int64
	MovieTitle      string
	Kind            InteractionKind
	CreatedAt       time.Time
}

// Preferences holds a user's declared affinities.
type Preferences struct {
	UserID    string
	GenreIDs  []int
	ActorIDs  []int64
	MovieIDs  []string
	UpdatedAt time.Time
}
