package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Clark-Hu/movie-discovery/internal/metrics"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is a bounded in-process Store. When full it evicts the entry
// that was fetched longest ago; a janitor goroutine drops expired entries.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently fetched
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for expiry. It must agree with the clock
// passed to the Cache in Options.Now, since entries expire relative to
// their FetchedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore starts a MemoryStore. A positive janitorInterval starts
// the background sweep; Close stops it.
func NewMemoryStore(capacity int, janitorInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	s := &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	} else {
		close(s.done)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	item := el.Value.(*memoryItem)
	if s.now().After(item.expiresAt) {
		s.removeLocked(el, "expired")
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (s *MemoryStore) Set(_ context.Context, entry Entry, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := &memoryItem{entry: entry, expiresAt: entry.FetchedAt.Add(entry.TTL + retention)}
	if el, ok := s.items[entry.Key]; ok {
		el.Value = item
		s.order.MoveToFront(el)
		return nil
	}

	for s.order.Len() >= s.capacity {
		s.removeLocked(s.order.Back(), "capacity")
	}
	s.items[entry.Key] = s.order.PushFront(item)
	metrics.CacheEntries.Set(float64(len(s.items)))
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*memoryItem).expiresAt) {
			s.removeLocked(el, "expired")
		}
		el = prev
	}
}

func (s *MemoryStore) removeLocked(el *list.Element, reason string) {
	item := el.Value.(*memoryItem)
	s.order.Remove(el)
	delete(s.items, item.entry.Key)
	metrics.CacheEvictions.WithLabelValues(reason).Inc()
	metrics.CacheEntries.Set(float64(len(s.items)))
}
