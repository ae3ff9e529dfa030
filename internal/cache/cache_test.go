package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, retention time.Duration) (*Cache, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore(16, 0, WithClock(clock.Now))
	c := New(store, Options{StaleRetention: retention, FetchTimeout: time.Second, Now: clock.Now}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	return c, store, clock
}

func staticFetcher(calls *atomic.Int32, payload string) Fetcher {
	return func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(payload), nil
	}
}

func TestFetch_FreshHitSkipsUpstream(t *testing.T) {
	c, _, clock := newTestCache(t, time.Hour)
	var calls atomic.Int32
	ctx := context.Background()

	first, err := c.Fetch(ctx, "trending", time.Minute, staticFetcher(&calls, "v1"))
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if string(first.Payload) != "v1" || first.Stale {
		t.Fatalf("first = %+v", first)
	}

	clock.Advance(30 * time.Second)
	second, err := c.Fetch(ctx, "trending", time.Minute, staticFetcher(&calls, "v2"))
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if string(second.Payload) != "v1" {
		t.Fatalf("fresh entry should be served, got %q", second.Payload)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestFetch_StaleEntryRefreshes(t *testing.T) {
	c, _, clock := newTestCache(t, time.Hour)
	var calls atomic.Int32
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "details:1", time.Minute, staticFetcher(&calls, "old")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clock.Advance(2 * time.Minute)

	res, err := c.Fetch(ctx, "details:1", time.Minute, staticFetcher(&calls, "new"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if string(res.Payload) != "new" || res.Stale {
		t.Fatalf("refresh result = %+v", res)
	}
	if !res.FetchedAt.Equal(clock.Now()) {
		t.Fatalf("FetchedAt = %v, want %v", res.FetchedAt, clock.Now())
	}
}

func TestFetch_ServesStaleOnUpstreamFailure(t *testing.T) {
	c, _, clock := newTestCache(t, time.Hour)
	var calls atomic.Int32
	ctx := context.Background()

	seeded, err := c.Fetch(ctx, "trending", time.Minute, staticFetcher(&calls, "cached"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	clock.Advance(5 * time.Minute)

	failing := func(context.Context) ([]byte, error) { return nil, errors.New("upstream down") }
	res, err := c.Fetch(ctx, "trending", time.Minute, failing)
	if err != nil {
		t.Fatalf("expected stale payload, got error %v", err)
	}
	if !res.Stale || string(res.Payload) != "cached" || !res.FetchedAt.Equal(seeded.FetchedAt) {
		t.Fatalf("stale result = %+v", res)
	}
}

func TestFetch_EmptyCacheFailureReturnsError(t *testing.T) {
	c, _, _ := newTestCache(t, time.Hour)
	boom := errors.New("upstream down")

	_, err := c.Fetch(context.Background(), "search:matrix", time.Minute, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestFetch_EntryPastRetentionIsNotServed(t *testing.T) {
	c, _, clock := newTestCache(t, 10*time.Minute)
	var calls atomic.Int32
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "trending", time.Minute, staticFetcher(&calls, "ancient")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clock.Advance(12 * time.Minute)

	boom := errors.New("upstream down")
	_, err := c.Fetch(ctx, "trending", time.Minute, func(context.Context) ([]byte, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("evicted entry must not be served, got %v", err)
	}
}

func TestFetch_ConcurrentCallersShareOneFetch(t *testing.T) {
	c, _, _ := newTestCache(t, time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const callers = 50
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		errs    = make(chan error, callers)
	)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			res, err := c.Fetch(context.Background(), "trending", time.Minute, fetch)
			if err != nil {
				errs <- err
				return
			}
			if string(res.Payload) != "shared" {
				errs <- fmt.Errorf("payload = %q", res.Payload)
			}
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestFetch_CancelledCallerStillPopulatesCache(t *testing.T) {
	c, _, _ := newTestCache(t, time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})
	fetched := make(chan error, 1)

	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		fetched <- ctx.Err()
		return []byte("late"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "details:42", time.Minute, fetch)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller error = %v, want context.Canceled", err)
	}
	close(release)
	if err := <-fetched; err != nil {
		t.Fatalf("fetch context was cancelled with the caller: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		res, err := c.Fetch(context.Background(), "details:42", time.Minute, staticFetcher(&calls, "unexpected"))
		if err != nil {
			t.Fatalf("follow-up fetch: %v", err)
		}
		if string(res.Payload) == "late" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("abandoned fetch never populated the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestFetch_FetchTimeoutApplies(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(4, 0, WithClock(clock.Now))
	c := New(store, Options{FetchTimeout: 20 * time.Millisecond, Now: clock.Now}, zerolog.Nop())
	defer c.Close()

	_, err := c.Fetch(context.Background(), "trending", time.Minute, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFetch_UncachedPayloadIsServedButNotStored(t *testing.T) {
	c, store, _ := newTestCache(t, time.Hour)
	var calls atomic.Int32
	ctx := context.Background()
	partial := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, &Uncached{Payload: []byte("partial"), Cause: errors.New("mirror down")}
	}

	res, err := c.Fetch(ctx, "details:603", time.Hour, partial)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(res.Payload) != "partial" || res.Stale {
		t.Fatalf("result = %+v", res)
	}
	if store.Len() != 0 {
		t.Fatalf("uncached payload was stored")
	}

	res, err = c.Fetch(ctx, "details:603", time.Hour, staticFetcher(&calls, "full"))
	if err != nil || string(res.Payload) != "full" {
		t.Fatalf("second fetch = %q, %v", res.Payload, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}
