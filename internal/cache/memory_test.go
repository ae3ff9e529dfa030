package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_EvictsOldestFetchAtCapacity(t *testing.T) {
	store := NewMemoryStore(3, 0)
	defer store.Close()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		entry := Entry{Key: fmt.Sprintf("k%d", i), Payload: []byte("x"), FetchedAt: base, TTL: time.Hour}
		if err := store.Set(ctx, entry, 0); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	// Refreshing k0 makes k1 the oldest fetch.
	if err := store.Set(ctx, Entry{Key: "k0", FetchedAt: base, TTL: time.Hour}, 0); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := store.Set(ctx, Entry{Key: "k3", FetchedAt: base, TTL: time.Hour}, 0); err != nil {
		t.Fatalf("set k3: %v", err)
	}

	if store.Len() != 3 {
		t.Fatalf("len = %d, want 3", store.Len())
	}
	if _, ok, _ := store.Get(ctx, "k1"); ok {
		t.Fatalf("k1 should have been evicted")
	}
	for _, key := range []string{"k0", "k2", "k3"} {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Fatalf("%s missing", key)
		}
	}
}

func TestMemoryStore_ExpiresAfterRetention(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(4, 0, WithClock(func() time.Time { return now }))
	defer store.Close()
	ctx := context.Background()

	_ = store.Set(ctx, Entry{Key: "a", FetchedAt: now, TTL: time.Minute}, time.Minute)

	now = now.Add(90 * time.Second)
	entry, ok, _ := store.Get(ctx, "a")
	if !ok {
		t.Fatalf("entry inside retention window should be kept")
	}
	if entry.Fresh(now) {
		t.Fatalf("entry past ttl should not be fresh")
	}

	now = now.Add(time.Minute)
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatalf("entry past ttl+retention should be gone")
	}
}

func TestMemoryStore_JanitorSweeps(t *testing.T) {
	store := NewMemoryStore(4, 5*time.Millisecond)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	_ = store.Set(ctx, Entry{Key: "old", FetchedAt: past, TTL: time.Minute}, time.Minute)
	_ = store.Set(ctx, Entry{Key: "new", FetchedAt: time.Now(), TTL: time.Hour}, 0)

	deadline := time.Now().Add(time.Second)
	for store.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep, len = %d", store.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryStore_ClockFollowsInjectedTime(t *testing.T) {
	// Entries stamped by a clock far in the past must not expire against
	// the wall clock.
	past := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(4, 0, WithClock(func() time.Time { return past }))
	defer store.Close()
	ctx := context.Background()

	_ = store.Set(ctx, Entry{Key: "a", FetchedAt: past, TTL: time.Minute}, time.Hour)
	if _, ok, _ := store.Get(ctx, "a"); !ok {
		t.Fatalf("entry should be live under the injected clock")
	}
}
