package session

import (
	"sync"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
)

const forkSeparator = "::fork::"

// Key identifies one lineage: a base conversation plus an optional fork.
type Key struct {
	Base string
	Fork string
}

// String renders the key for logs, metrics and the journal. It is never
// parsed back, so base ids containing the separator cannot collide in the store.
func (k Key) String() string {
	if k.Fork == "" {
		return k.Base
	}
	return k.Base + forkSeparator + k.Fork
}

// Summary is a compaction result scoped to one lineage.
type Summary struct {
	PreservedSystem []responses.Item
	Text            string
}

// State is the per-lineage record owned by a Store.
type State struct {
	mu sync.Mutex

	id               string
	promptCacheKey   string
	store            bool
	lastInput        []responses.Item
	lastPrefixHash   string
	lastUpdated      time.Time
	lastCachedTokens *int
	compaction       *Summary
}

func newState(id string, now time.Time) *State {
	return &State{
		id:             id,
		promptCacheKey: id,
		store:          false,
		lastUpdated:    now,
	}
}

func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *State) PromptCacheKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptCacheKey
}

func (s *State) Store() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *State) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

func (s *State) LastCachedTokens() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCachedTokens == nil {
		return 0, false
	}
	return *s.lastCachedTokens, true
}

func (s *State) LastInput() []responses.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return responses.CloneItems(s.lastInput)
}

func (s *State) LastPrefixHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrefixHash
}

// Compaction returns a copy of the stored summary, or nil.
func (s *State) Compaction() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compaction == nil {
		return nil
	}
	return &Summary{
		PreservedSystem: responses.CloneItems(s.compaction.PreservedSystem),
		Text:            s.compaction.Text,
	}
}

func (s *State) baseline() ([]responses.Item, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput, s.lastPrefixHash
}

func (s *State) recordInput(input []responses.Item, prefixHash string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInput = input
	s.lastPrefixHash = prefixHash
	s.lastUpdated = now
}

func (s *State) recordCachedTokens(tokens int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCachedTokens = &tokens
	s.lastUpdated = now
}

// setCompaction stores the summary and clears the continuity baseline: the
// next request carries rehydrated history, not the pre-compaction input.
func (s *State) setCompaction(summary Summary, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compaction = &summary
	s.lastInput = nil
	s.lastPrefixHash = ""
	s.lastUpdated = now
}

func (s *State) summarize(key Key) SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := SessionSummary{
		ID:             s.id,
		Key:            key.String(),
		PromptCacheKey: s.promptCacheKey,
		LastUpdated:    s.lastUpdated,
		InputTurns:     len(s.lastInput),
		HasCompaction:  s.compaction != nil,
	}
	if s.lastCachedTokens != nil {
		v := *s.lastCachedTokens
		out.LastCachedTokens = &v
	}
	return out
}
