package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryConfig configures the local in-process store.
type MemoryConfig struct {
	// MaxEntries bounds the store; the least-recently-used entry is
	// evicted when the bound is exceeded.
	MaxEntries int

	// SweepInterval is how often expired entries are reclaimed in the
	// background. The sweep only frees memory early; expiry is always
	// enforced on read.
	SweepInterval time.Duration
}

// DefaultMemoryConfig returns a safe default configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries:    5000,
		SweepInterval: time.Minute,
	}
}

type memoryItem struct {
	key   string
	entry *Entry
}

// MemoryStore is the process-local cache backend: a bounded LRU with
// per-entry TTLs. It backs the layer whenever the distributed store is
// unreachable; its contents do not survive a restart.
type MemoryStore struct {
	maxEntries int
	items      map[string]*list.Element
	lru        *list.List
	mu         sync.Mutex
	stopSweep  chan struct{}
	stopOnce   sync.Once
}

// NewMemoryStore creates a local store and starts its background sweep.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMemoryConfig().MaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultMemoryConfig().SweepInterval
	}

	s := &MemoryStore{
		maxEntries: cfg.MaxEntries,
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		stopSweep:  make(chan struct{}),
	}

	go s.sweepLoop(cfg.SweepInterval)

	return s
}

// Get retrieves an entry by key, refreshing its LRU position.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	item := element.Value.(*memoryItem)
	if item.entry.IsExpired() {
		s.remove(key)
		return nil, ErrCacheMiss
	}

	s.lru.MoveToFront(element)
	return item.entry, nil
}

// Set stores an entry, evicting the least-recently-used entry when the
// store is over capacity.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry) error {
	if entry == nil || entry.TTL() <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.items[key]; ok {
		element.Value.(*memoryItem).entry = entry
		s.lru.MoveToFront(element)
		return nil
	}

	element := s.lru.PushFront(&memoryItem{key: key, entry: entry})
	s.items[key] = element

	if s.lru.Len() > s.maxEntries {
		s.evictOldest()
	}

	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)
	return nil
}

// InvalidatePattern removes all keys matching a glob pattern. The whole
// operation holds the store lock, so readers never observe a partially
// invalidated pattern set.
func (s *MemoryStore) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string
	for key := range s.items {
		if matchKey(pattern, key) {
			toRemove = append(toRemove, key)
		}
	}

	for _, key := range toRemove {
		s.remove(key)
	}

	return len(toRemove), nil
}

// matchKey reports whether key matches pattern, where '*' matches any run
// of characters including '/'. '*' is the only wildcard the Store contract
// supports, so the two tiers invalidate the same key sets even though the
// distributed backend's MATCH would also honor '?' and '[...]'.
func matchKey(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}

	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}

	return strings.HasSuffix(key, parts[len(parts)-1])
}

// Clear removes every key in a namespace.
func (s *MemoryStore) Clear(ctx context.Context, namespace string) (int, error) {
	return s.InvalidatePattern(ctx, NamespacePattern(namespace))
}

// Backend identifies the store.
func (s *MemoryStore) Backend() string {
	return BackendLocal
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopSweep) })
	return nil
}

// Len returns the current number of entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// SweepExpired removes all expired entries immediately and returns the
// number removed. Exposed so tests can trigger a sweep deterministically
// instead of waiting on the timer.
func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toRemove []string
	for key, element := range s.items {
		if element.Value.(*memoryItem).entry.IsExpired() {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		s.remove(key)
	}
	return len(toRemove)
}

// remove removes an item (caller must hold lock).
func (s *MemoryStore) remove(key string) {
	if element, ok := s.items[key]; ok {
		s.lru.Remove(element)
		delete(s.items, key)
	}
}

// evictOldest removes the least-recently-used item (caller must hold lock).
func (s *MemoryStore) evictOldest() {
	element := s.lru.Back()
	if element != nil {
		s.remove(element.Value.(*memoryItem).key)
		CacheEvictions.Inc()
	}
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepExpired()
		case <-s.stopSweep:
			return
		}
	}
}
