package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	s := New(WithClock(clock.Now))

	s.Set("k", "v", time.Minute)
	value, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", value)

	clock.Advance(59 * time.Second)
	_, ok = s.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = s.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestDefaultTTLAppliesToNonPositiveTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := New(WithClock(clock.Now))
	s.Set("k", 1, 0)

	clock.Advance(DefaultTTL - time.Nanosecond)
	_, ok := s.Get("k")
	assert.True(t, ok)
	clock.Advance(time.Nanosecond)
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestInvalidatePrefix(t *testing.T) {
	s := New()
	s.Set(ComponentsKey("c1"), 1, 0)
	s.Set(ComponentsKey("c2"), 2, 0)
	s.Set(ConnectorKey("c1"), 3, 0)

	removed := s.InvalidatePrefix("components:")
	assert.Equal(t, 2, removed)
	_, ok := s.Get(ConnectorKey("c1"))
	assert.True(t, ok)
}

func TestInvalidateLineageDropsAllDependentViews(t *testing.T) {
	s := New()
	lineage := Lineage{TestRunID: "run-1", ConnectorID: "conn-1"}
	for _, key := range lineage.Keys() {
		s.Set(key, "cached", 0)
	}
	s.Set(ConnectorKey("conn-2"), "other", 0)
	s.Set(TestRunKey("run-2"), "other", 0)

	s.InvalidateLineage(lineage)

	for _, key := range []string{
		ComponentsKey("conn-1"),
		ConnectorKey("conn-1"),
		ConnectorsKey("run-1"),
		TestRunKey("run-1"),
		ReportKey("run-1"),
		KeyTestRuns,
	} {
		_, ok := s.Get(key)
		assert.False(t, ok, key)
	}
	_, ok := s.Get(ConnectorKey("conn-2"))
	assert.True(t, ok)
	_, ok = s.Get(TestRunKey("run-2"))
	assert.True(t, ok)
}

func TestLineageWithUnresolvedRunStillDropsConnectorViews(t *testing.T) {
	keys := Lineage{ConnectorID: "conn-1"}.Keys()
	assert.Equal(t, []string{"components:conn-1", "connector:conn-1", "test-runs"}, keys)
}

func TestGetOrLoadDeduplicatesConcurrentLoads(t *testing.T) {
	s := New()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := s.GetOrLoad(context.Background(), "k", time.Minute, func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return "loaded", nil
			})
			assert.NoError(t, err)
			results[i] = value
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, value := range results {
		assert.Equal(t, "loaded", value)
	}
}

func TestLoadDoesNotCacheErrors(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	_, err := Load(context.Background(), s, "k", 0, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	value, err := Load(context.Background(), s, "k", 0, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestInvalidateDuringLoadIsNotOverwritten(t *testing.T) {
	for name, invalidate := range map[string]func(s *Store){
		"key":    func(s *Store) { s.Invalidate("k") },
		"prefix": func(s *Store) { s.InvalidatePrefix("k") },
		"clear":  func(s *Store) { s.Clear() },
	} {
		t.Run(name, func(t *testing.T) {
			s := New()
			started := make(chan struct{})
			release := make(chan struct{})
			done := make(chan any, 1)
			go func() {
				value, err := s.GetOrLoad(context.Background(), "k", time.Minute, func(context.Context) (any, error) {
					close(started)
					<-release
					return "stale", nil
				})
				assert.NoError(t, err)
				done <- value
			}()

			<-started
			invalidate(s)
			close(release)
			assert.Equal(t, "stale", <-done)

			_, ok := s.Get("k")
			assert.False(t, ok, "a load that raced an invalidation must not be cached")

			value, err := s.GetOrLoad(context.Background(), "k", time.Minute, func(context.Context) (any, error) {
				return "fresh", nil
			})
			require.NoError(t, err)
			assert.Equal(t, "fresh", value)
			cached, ok := s.Get("k")
			require.True(t, ok)
			assert.Equal(t, "fresh", cached)
		})
	}
}
