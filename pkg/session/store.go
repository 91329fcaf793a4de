package session

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultMaxEntries   = 100
	DefaultIdleTTL      = 30 * time.Minute
	DefaultMetricsLimit = 5
)

// EvictReason tells an OnEvict hook why a lineage was dropped.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictIdle     EvictReason = "idle"
)

type StoreOptions struct {
	MaxEntries int
	IdleTTL    time.Duration
	// OnEvict is called outside the store lock for every removed lineage.
	OnEvict func(key Key, reason EvictReason)
}

// Store is the bounded, lock-guarded owner of every lineage State.
type Store struct {
	mu         sync.Mutex
	entries    map[Key]*State
	maxEntries int
	idleTTL    time.Duration
	onEvict    func(key Key, reason EvictReason)
}

// SessionSummary is the metrics view of one lineage.
type SessionSummary struct {
	ID               string    `json:"id"`
	Key              string    `json:"key"`
	PromptCacheKey   string    `json:"promptCacheKey"`
	LastCachedTokens *int      `json:"lastCachedTokens,omitempty"`
	LastUpdated      time.Time `json:"lastUpdated"`
	InputTurns       int       `json:"inputTurns"`
	HasCompaction    bool      `json:"hasCompaction"`
}

type Metrics struct {
	Enabled        bool             `json:"enabled"`
	TotalSessions  int              `json:"totalSessions"`
	RecentSessions []SessionSummary `json:"recentSessions"`
}

type evicted struct {
	key    Key
	reason EvictReason
}

func NewStore(opts StoreOptions) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	return &Store{
		entries:    make(map[Key]*State),
		maxEntries: opts.MaxEntries,
		idleTTL:    opts.IdleTTL,
		onEvict:    opts.OnEvict,
	}
}

func (s *Store) MaxEntries() int { return s.maxEntries }

func (s *Store) IdleTTL() time.Duration { return s.idleTTL }

// Lookup is a pure read: it never refreshes lastUpdated.
func (s *Store) Lookup(key Key) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[key]
	return st, ok
}

// CreateOrReuse returns the lineage for key, creating it when absent. A
// full store evicts its oldest entry before the insert.
func (s *Store) CreateOrReuse(key Key, now time.Time) (*State, bool) {
	s.mu.Lock()
	if st, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return st, false
	}
	dropped := s.evictOldestLocked()
	st := newState(key.String(), now)
	s.entries[key] = st
	s.mu.Unlock()

	s.notify(dropped)
	return st, true
}

// Replace installs a regenerated lineage under an existing key.
func (s *Store) Replace(key Key, st *State) {
	s.mu.Lock()
	var dropped []evicted
	if _, ok := s.entries[key]; !ok {
		dropped = s.evictOldestLocked()
	}
	s.entries[key] = st
	s.mu.Unlock()

	s.notify(dropped)
}

// EvictOldestIfOverCapacity makes room for one insertion by dropping the
// least recently updated lineages. It ignores TTL entirely.
func (s *Store) EvictOldestIfOverCapacity() int {
	s.mu.Lock()
	dropped := s.evictOldestLocked()
	s.mu.Unlock()

	s.notify(dropped)
	return len(dropped)
}

func (s *Store) evictOldestLocked() []evicted {
	var dropped []evicted
	for len(s.entries) >= s.maxEntries {
		var (
			oldestKey Key
			oldestAt  time.Time
			found     bool
		)
		for key, st := range s.entries {
			at := st.LastUpdated()
			if !found || at.Before(oldestAt) {
				oldestKey, oldestAt, found = key, at, true
			}
		}
		if !found {
			break
		}
		delete(s.entries, oldestKey)
		dropped = append(dropped, evicted{key: oldestKey, reason: EvictCapacity})
	}
	return dropped
}

// PruneExpired removes every lineage idle for longer than the TTL.
func (s *Store) PruneExpired(now time.Time) int {
	s.mu.Lock()
	var dropped []evicted
	for key, st := range s.entries {
		if now.Sub(st.LastUpdated()) > s.idleTTL {
			delete(s.entries, key)
			dropped = append(dropped, evicted{key: key, reason: EvictIdle})
		}
	}
	s.mu.Unlock()

	s.notify(dropped)
	return len(dropped)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Metrics reports the total count and the limit most recently updated lineages.
func (s *Store) Metrics(limit int) Metrics {
	if limit <= 0 {
		limit = DefaultMetricsLimit
	}
	s.mu.Lock()
	summaries := make([]SessionSummary, 0, len(s.entries))
	for key, st := range s.entries {
		summaries = append(summaries, st.summarize(key))
	}
	s.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].LastUpdated.Equal(summaries[j].LastUpdated) {
			return summaries[i].Key < summaries[j].Key
		}
		return summaries[i].LastUpdated.After(summaries[j].LastUpdated)
	})
	total := len(summaries)
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return Metrics{
		Enabled:        true,
		TotalSessions:  total,
		RecentSessions: summaries,
	}
}

func (s *Store) notify(dropped []evicted) {
	if s.onEvict == nil {
		return
	}
	for _, d := range dropped {
		s.onEvict(d.key, d.reason)
	}
}
