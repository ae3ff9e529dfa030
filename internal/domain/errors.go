package domain

import "errors"

var (
	// ErrNotFound indicates the entity is absent locally and upstream.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable indicates the catalog API failed and no cached or mirrored fallback exists.
	ErrUpstreamUnavailable = errors.New("upstream catalog unavailable")
	// ErrUnknownGenre indicates a genre id that is not present in the local genre table.
	ErrUnknownGenre = errors.New("unknown genre")
	// ErrDuplicateInteraction is returned when the reject policy is active and the interaction exists.
	ErrDuplicateInteraction = errors.New("duplicate interaction")
	// ErrDataIntegrity signals a uniqueness breach that the schema should have prevented.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// ErrorCode is the stable machine-readable code for err along with whether the
// caller may retry.
func ErrorCode(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND", false
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE", true
	case errors.Is(err, ErrUnknownGenre):
		return "UNKNOWN_GENRE", false
	case errors.Is(err, ErrDuplicateInteraction):
		return "DUPLICATE_INTERACTION", false
	case errors.Is(err, ErrDataIntegrity):
		return "DATA_INTEGRITY_VIOLATION", false
	default:
		return "INTERNAL_ERROR", false
	}
}
