package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CapacityEvictsOldest(t *testing.T) {
	const maxEntries = 8
	var (
		mu      sync.Mutex
		evicted []string
	)
	store := NewStore(StoreOptions{
		MaxEntries: maxEntries,
		OnEvict: func(key Key, reason EvictReason) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, EvictCapacity, reason)
			evicted = append(evicted, key.String())
		},
	})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < maxEntries+3; i++ {
		_, isNew := store.CreateOrReuse(Key{Base: fmt.Sprintf("s-%d", i)}, start.Add(time.Duration(i)*time.Second))
		assert.True(t, isNew)
	}

	assert.Equal(t, maxEntries, store.Len())
	assert.Equal(t, maxEntries, store.Metrics(100).TotalSessions)
	assert.Equal(t, []string{"s-0", "s-1", "s-2"}, evicted)

	_, ok := store.Lookup(Key{Base: "s-0"})
	assert.False(t, ok)
	_, ok = store.Lookup(Key{Base: fmt.Sprintf("s-%d", maxEntries+2)})
	assert.True(t, ok)
}

func TestStore_CapacityIgnoresTTL(t *testing.T) {
	store := NewStore(StoreOptions{MaxEntries: 2, IdleTTL: time.Hour})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.CreateOrReuse(Key{Base: "fresh-1"}, now)
	store.CreateOrReuse(Key{Base: "fresh-2"}, now.Add(time.Second))
	store.CreateOrReuse(Key{Base: "fresh-3"}, now.Add(2*time.Second))

	assert.Equal(t, 2, store.Len())
	_, ok := store.Lookup(Key{Base: "fresh-1"})
	assert.False(t, ok)
}

func TestStore_ReuseDoesNotEvict(t *testing.T) {
	store := NewStore(StoreOptions{MaxEntries: 1})
	now := time.Now()
	first, isNew := store.CreateOrReuse(Key{Base: "only"}, now)
	require.True(t, isNew)

	again, isNew := store.CreateOrReuse(Key{Base: "only"}, now.Add(time.Minute))
	assert.False(t, isNew)
	assert.Same(t, first, again)
	assert.Equal(t, now, again.LastUpdated())
}

func TestStore_PruneExpired(t *testing.T) {
	store := NewStore(StoreOptions{IdleTTL: DefaultIdleTTL})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	store.CreateOrReuse(Key{Base: "stale"}, now.Add(-DefaultIdleTTL-time.Millisecond))
	store.CreateOrReuse(Key{Base: "edge"}, now.Add(-DefaultIdleTTL))
	store.CreateOrReuse(Key{Base: "live"}, now.Add(-time.Minute))

	removed := store.PruneExpired(now)
	assert.Equal(t, 1, removed)

	_, ok := store.Lookup(Key{Base: "stale"})
	assert.False(t, ok)
	_, ok = store.Lookup(Key{Base: "edge"})
	assert.True(t, ok)
	_, ok = store.Lookup(Key{Base: "live"})
	assert.True(t, ok)
}

func TestStore_PruneUsesLastUpdatedFromRequests(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Options{Enabled: true, Now: clock.Now})

	active := conversationRequest("active", user("hi"))
	m.ApplyRequest(active, m.GetContext(active))
	idle := conversationRequest("idle", user("hi"))
	m.ApplyRequest(idle, m.GetContext(idle))

	clock.Advance(20 * time.Minute)
	active2 := conversationRequest("active", user("hi"), user("again"))
	m.ApplyRequest(active2, m.GetContext(active2))

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, m.PruneIdleSessions(clock.Now()))

	_, ok := m.Lookup(Key{Base: "active"})
	assert.True(t, ok)
	_, ok = m.Lookup(Key{Base: "idle"})
	assert.False(t, ok)
}

func TestStore_MetricsOrdersByRecency(t *testing.T) {
	store := NewStore(StoreOptions{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		store.CreateOrReuse(Key{Base: fmt.Sprintf("m-%d", i)}, base.Add(time.Duration(i)*time.Minute))
	}
	st, _ := store.Lookup(Key{Base: "m-0"})
	st.recordCachedTokens(99, base.Add(time.Hour))

	metrics := store.Metrics(0)
	assert.True(t, metrics.Enabled)
	assert.Equal(t, 7, metrics.TotalSessions)
	require.Len(t, metrics.RecentSessions, DefaultMetricsLimit)
	assert.Equal(t, "m-0", metrics.RecentSessions[0].ID)
	require.NotNil(t, metrics.RecentSessions[0].LastCachedTokens)
	assert.Equal(t, 99, *metrics.RecentSessions[0].LastCachedTokens)
	assert.Equal(t, "m-6", metrics.RecentSessions[1].ID)
}

func TestStore_ForkKeysDoNotCollide(t *testing.T) {
	store := NewStore(StoreOptions{})
	now := time.Now()

	// A base id that happens to contain the rendered separator is a distinct key.
	a, _ := store.CreateOrReuse(Key{Base: "conv::fork::x"}, now)
	b, isNew := store.CreateOrReuse(Key{Base: "conv", Fork: "x"}, now)
	assert.True(t, isNew)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, store.Len())
}

func TestStore_EvictOldestIfOverCapacity(t *testing.T) {
	store := NewStore(StoreOptions{MaxEntries: 3})
	now := time.Now()
	for i := 0; i < 3; i++ {
		store.CreateOrReuse(Key{Base: fmt.Sprintf("e-%d", i)}, now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 1, store.EvictOldestIfOverCapacity())
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 0, store.EvictOldestIfOverCapacity())
}
