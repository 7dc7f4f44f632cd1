package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 5 * time.Minute

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a process-local TTL cache. Entries expire on read; there is no
// background sweeper. Invalidations bump a generation so that a fill which
// started before them never writes its result back.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]entry
	gens       map[string]uint64
	epoch      uint64
	defaultTTL time.Duration
	now        func() time.Time
	group      singleflight.Group
}

type generation struct {
	epoch uint64
	key   uint64
}

type Option func(*Store)

// WithClock overrides the time source, used by tests to expire entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		entries:    map[string]entry{},
		gens:       map[string]uint64{},
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(key string) (any, bool) {
	now := s.now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		s.mu.Lock()
		if current, still := s.entries[key]; still && !now.Before(current.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A non-positive ttl uses the store default.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

func (s *Store) Invalidate(keys ...string) {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.entries, key)
		s.gens[key]++
	}
	s.mu.Unlock()
	for _, key := range keys {
		s.group.Forget(key)
	}
}

// InvalidatePrefix drops every key starting with prefix and returns how many
// entries were removed.
func (s *Store) InvalidatePrefix(prefix string) int {
	return s.InvalidateMatching(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// InvalidateMatching drops every key for which match reports true.
func (s *Store) InvalidateMatching(match func(key string) bool) int {
	s.mu.Lock()
	// In-flight keys have no entry yet, so every pending fill is fenced.
	s.epoch++
	var removed []string
	for key := range s.entries {
		if match(key) {
			delete(s.entries, key)
			removed = append(removed, key)
		}
	}
	s.mu.Unlock()
	for _, key := range removed {
		s.group.Forget(key)
	}
	return len(removed)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = map[string]entry{}
	s.gens = map[string]uint64{}
	s.epoch++
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetOrLoad returns the cached value for key or calls load once for all
// concurrent callers that miss on the same key. Load errors are not cached.
func (s *Store) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (any, error)) (any, error) {
	if value, ok := s.Get(key); ok {
		return value, nil
	}
	value, err, _ := s.group.Do(key, func() (any, error) {
		// Double-check after acquiring the flight.
		if value, ok := s.Get(key); ok {
			return value, nil
		}
		gen := s.currentGen(key)
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.setIfCurrent(key, value, ttl, gen)
		return value, nil
	})
	return value, err
}

func (s *Store) currentGen(key string) generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return generation{epoch: s.epoch, key: s.gens[key]}
}

// setIfCurrent stores value only when no invalidation touched key since gen
// was taken.
func (s *Store) setIfCurrent(key string, value any, ttl time.Duration, gen generation) bool {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != gen.epoch || s.gens[key] != gen.key {
		return false
	}
	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	return true
}

// Load is the typed form of Store.GetOrLoad.
func Load[T any](ctx context.Context, s *Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	value, err := s.GetOrLoad(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		// A foreign value under this key; reload without caching it.
		s.Invalidate(key)
		return load(ctx)
	}
	return typed, nil
}
