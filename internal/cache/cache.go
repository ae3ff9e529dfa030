// Package cache keeps upstream responses keyed by query. An entry is FRESH
// while younger than its TTL and STALE afterwards; stale entries are kept
// for a retention window so they can be served when upstream fails.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Clark-Hu/movie-discovery/internal/metrics"
)

// Entry is a cached upstream payload.
type Entry struct {
	Key       string        `json:"key"`
	Payload   []byte        `json:"payload"`
	FetchedAt time.Time     `json:"fetchedAt"`
	TTL       time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) <= e.TTL
}

// Store persists entries. Implementations must stop returning an entry once
// it is older than its TTL plus the retention passed to Set.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry, retention time.Duration) error
	Close() error
}

// Fetcher loads a payload from upstream. A fetcher that has a usable but
// incomplete payload returns it wrapped in *Uncached.
type Fetcher func(ctx context.Context) ([]byte, error)

// Uncached carries a payload that callers of the current fetch receive but
// that is not written to the store, so the next request fetches again.
type Uncached struct {
	Payload []byte
	Cause   error
}

func (u *Uncached) Error() string { return "payload not cacheable: " + u.Cause.Error() }

func (u *Uncached) Unwrap() error { return u.Cause }

type flight struct {
	entry  Entry
	stored bool
}

// Result is what Fetch hands back. Payload is shared between concurrent
// callers and must not be modified.
type Result struct {
	Payload   []byte
	Stale     bool
	FetchedAt time.Time
}

// Options configures a Cache.
type Options struct {
	// StaleRetention is how long an entry outlives its TTL.
	StaleRetention time.Duration
	// FetchTimeout bounds every upstream fetch. Fetches are detached from
	// the caller's cancellation, so this is their only deadline.
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Cache coordinates a Store with single-flight upstream fetches.
type Cache struct {
	store  Store
	group  singleflight.Group
	opts   Options
	logger zerolog.Logger
}

// New constructs a Cache over store.
func New(store Store, opts Options, logger zerolog.Logger) *Cache {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	if opts.StaleRetention < 0 {
		opts.StaleRetention = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Fetch returns the payload for key. A fresh entry is returned as is.
// Otherwise one fetch runs per key no matter how many callers are waiting;
// if it fails and a stale entry exists, the stale payload is returned with
// Stale set and no error. The caller stops waiting when ctx is done but the
// fetch continues and still populates the cache.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) (Result, error) {
	class := keyClass(key)

	cached, found := c.lookup(ctx, key)
	if found && cached.Fresh(c.opts.Now()) {
		metrics.CacheRequests.WithLabelValues(class, "hit").Inc()
		return Result{Payload: cached.Payload, FetchedAt: cached.FetchedAt}, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A flight that finished between our lookup and now already did the work.
		if latest, ok := c.lookup(detached, key); ok && latest.Fresh(c.opts.Now()) {
			return flight{entry: latest, stored: true}, nil
		}

		fetchCtx, cancel := context.WithTimeout(detached, c.opts.FetchTimeout)
		defer cancel()
		payload, err := fetch(fetchCtx)
		var uncached *Uncached
		if errors.As(err, &uncached) {
			c.logger.Warn().Err(uncached.Cause).Str("key", key).Msg("serving fetched payload without caching it")
			return flight{entry: Entry{Key: key, Payload: uncached.Payload, FetchedAt: c.opts.Now(), TTL: ttl}}, nil
		}
		if err != nil {
			return nil, err
		}

		entry := Entry{Key: key, Payload: payload, FetchedAt: c.opts.Now(), TTL: ttl}
		if err := c.store.Set(detached, entry, c.opts.StaleRetention); err != nil {
			c.logger.Error().Err(err).Str("key", key).Msg("cache write failed")
		}
		return flight{entry: entry, stored: true}, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if found {
				metrics.CacheRequests.WithLabelValues(class, "stale").Inc()
				c.logger.Warn().Err(res.Err).Str("key", key).
					Time("fetched_at", cached.FetchedAt).
					Msg("upstream fetch failed, serving stale entry")
				return Result{Payload: cached.Payload, Stale: true, FetchedAt: cached.FetchedAt}, nil
			}
			metrics.CacheRequests.WithLabelValues(class, "error").Inc()
			return Result{}, res.Err
		}
		f := res.Val.(flight)
		outcome := "miss"
		if !f.stored {
			outcome = "uncached"
		}
		metrics.CacheRequests.WithLabelValues(class, outcome).Inc()
		return Result{Payload: f.entry.Payload, FetchedAt: f.entry.FetchedAt}, nil
	}
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) lookup(ctx context.Context, key string) (Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		}
		return Entry{}, false
	}
	return entry, ok
}

func keyClass(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
