package tmdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Clark-Hu/movie-discovery/internal/domain"
	"github.com/Clark-Hu/movie-discovery/internal/metrics"
)

// BreakerSettings configures the circuit breaker wrapped around a Client.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailureRate float64
}

// DefaultBreakerSettings opens after 60% failures over at least 10 requests
// and probes again after 30 seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:        "tmdb-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		MinRequests: 10,
		FailureRate: 0.6,
	}
}

// BreakerClient wraps a Client with a circuit breaker. While the circuit is
// open calls fail immediately with ErrUpstream so callers reach their
// fallbacks without waiting on a dead upstream.
type BreakerClient struct {
	next   Client
	cb     *gobreaker.CircuitBreaker[any]
	logger zerolog.Logger
}

// NewBreakerClient wraps next.
func NewBreakerClient(next Client, settings BreakerSettings, logger zerolog.Logger) *BreakerClient {
	logger = logger.With().Str("component", "tmdb-breaker").Logger()
	metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= settings.FailureRate
		},
		// A missing movie or a caller that gave up says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	return &BreakerClient{next: next, cb: cb, logger: logger}
}

// State exposes the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return result, err
}

func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected result type %T", ErrUpstream, result)
	}
	return typed, nil
}

func (b *BreakerClient) Trending(ctx context.Context) ([]Movie, error) {
	return castResult[[]Movie](b.execute(func() (any, error) {
		return b.next.Trending(ctx)
	}))
}

func (b *BreakerClient) MovieDetails(ctx context.Context, id int64) (Movie, error) {
	return castResult[Movie](b.execute(func() (any, error) {
		return b.next.MovieDetails(ctx, id)
	}))
}

func (b *BreakerClient) Recommendations(ctx context.Context, id int64) ([]Movie, error) {
	return castResult[[]Movie](b.execute(func() (any, error) {
		return b.next.Recommendations(ctx, id)
	}))
}

func (b *BreakerClient) Search(ctx context.Context, query string) ([]Movie, error) {
	return castResult[[]Movie](b.execute(func() (any, error) {
		return b.next.Search(ctx, query)
	}))
}

func (b *BreakerClient) Genres(ctx context.Context) ([]domain.Genre, error) {
	return castResult[[]domain.Genre](b.execute(func() (any, error) {
		return b.next.Genres(ctx)
	}))
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
