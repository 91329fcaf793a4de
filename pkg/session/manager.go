package session

import (
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// CacheKeyPrefix marks identifiers generated by the proxy rather than supplied
// by the caller.
const CacheKeyPrefix = "cache_"

var (
	conversationIDKeys = []string{"conversation_id", "conversationId", "session_id"}
	forkIDKeys         = []string{"forkId", "fork_id"}
)

// NewCacheKey returns a fresh random prompt cache identifier.
func NewCacheKey() string {
	return CacheKeyPrefix + uuid.NewString()
}

// DivergenceEvent describes a lineage that was regenerated because the
// incoming history did not extend the recorded one.
type DivergenceEvent struct {
	Key         Key
	PreviousKey string
	NewKey      string
	PrevTurns   int
	NextTurns   int
}

type Options struct {
	Enabled      bool
	MaxEntries   int
	IdleTTL      time.Duration
	VolatileTags []string
	// Extra volatile predicates applied alongside VolatileTags.
	VolatileFilters []VolatileFilter
	Now             func() time.Time
	NewID           func() string
	OnDivergence    func(DivergenceEvent)
	OnEvict         func(key Key, reason EvictReason)
}

// Context is the per-request view of a lineage. It is never stored.
type Context struct {
	SessionID   string
	Key         Key
	Enabled     bool
	PreserveIDs bool
	IsNew       bool
	State       *State
}

// Manager derives lineages for requests and keeps their cache identity stable.
type Manager struct {
	enabled      bool
	store        *Store
	fingerprint  *Fingerprinter
	now          func() time.Time
	newID        func() string
	onDivergence func(DivergenceEvent)
}

func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewCacheKey
	}
	tags := opts.VolatileTags
	if tags == nil {
		tags = DefaultVolatileTags
	}
	filters := append([]VolatileFilter{TagFilter(tags...)}, opts.VolatileFilters...)

	return &Manager{
		enabled: opts.Enabled,
		store: NewStore(StoreOptions{
			MaxEntries: opts.MaxEntries,
			IdleTTL:    opts.IdleTTL,
			OnEvict:    opts.OnEvict,
		}),
		fingerprint:  NewFingerprinter(filters...),
		now:          opts.Now,
		newID:        opts.NewID,
		onDivergence: opts.OnDivergence,
	}
}

func (m *Manager) Enabled() bool { return m != nil && m.enabled }

func (m *Manager) Fingerprinter() *Fingerprinter { return m.fingerprint }

// DeriveKey resolves the lineage key for a request: explicit prompt cache
// key, then metadata conversation id, then a random identifier. A fork id
// only qualifies a caller-supplied base.
func (m *Manager) DeriveKey(req *responses.Request) Key {
	base := ""
	if req != nil {
		base = req.PromptCacheKey
		if base == "" {
			base = req.MetadataString(conversationIDKeys...)
		}
	}
	if base == "" {
		return Key{Base: m.newID()}
	}
	fork := req.ForkID
	if fork == "" {
		fork = req.MetadataString(forkIDKeys...)
	}
	return Key{Base: base, Fork: fork}
}

// GetContext looks up or creates the lineage for req. It does not touch an
// existing lineage's state. Returns nil when sessions are disabled.
func (m *Manager) GetContext(req *responses.Request) *Context {
	if !m.Enabled() {
		return nil
	}
	key := m.DeriveKey(req)
	st, isNew := m.store.CreateOrReuse(key, m.now())
	return &Context{
		SessionID:   key.String(),
		Key:         key,
		Enabled:     true,
		PreserveIDs: !isNew,
		IsNew:       isNew,
		State:       st,
	}
}

// ApplyRequest stamps the lineage's cache key onto req and records its
// shape. History that does not extend the recorded input starts a new
// lineage under a fresh random key instead of mutating the old one.
func (m *Manager) ApplyRequest(req *responses.Request, ctx *Context) *Context {
	if req == nil || ctx == nil || ctx.State == nil {
		return ctx
	}
	now := m.now()
	st := ctx.State
	disabled := false
	req.Store = &disabled
	req.PromptCacheKey = st.PromptCacheKey()

	prevInput, prevHash := st.baseline()
	input := responses.CloneItems(req.Input)
	prefixHash := m.fingerprint.Fingerprint(input)

	if m.fingerprint.IsContinuation(prevInput, prevHash, req.Input) {
		st.recordInput(input, prefixHash, now)
		return ctx
	}

	fresh := newState(m.newID(), now)
	fresh.recordInput(input, prefixHash, now)
	m.store.Replace(ctx.Key, fresh)

	if m.onDivergence != nil {
		m.onDivergence(DivergenceEvent{
			Key:         ctx.Key,
			PreviousKey: req.PromptCacheKey,
			NewKey:      fresh.id,
			PrevTurns:   len(prevInput),
			NextTurns:   len(req.Input),
		})
	}

	ctx.State = fresh
	ctx.IsNew = true
	ctx.PreserveIDs = false
	req.PromptCacheKey = fresh.id
	return ctx
}

// RecordResponse keeps the cache-hit token count reported by upstream.
// Payloads without a numeric count are ignored.
func (m *Manager) RecordResponse(ctx *Context, payload []byte) {
	if ctx == nil || ctx.State == nil || !gjson.ValidBytes(payload) {
		return
	}
	cached := gjson.GetBytes(payload, "usage.cached_tokens")
	if cached.Type != gjson.Number {
		cached = gjson.GetBytes(payload, "usage.input_tokens_details.cached_tokens")
	}
	if cached.Type != gjson.Number {
		return
	}
	ctx.State.recordCachedTokens(int(cached.Int()), m.now())
}

// ApplyCompactionSummary stores summary on this lineage only.
func (m *Manager) ApplyCompactionSummary(ctx *Context, summary Summary) {
	if m == nil || ctx == nil || ctx.State == nil {
		return
	}
	ctx.State.setCompaction(Summary{
		PreservedSystem: responses.CloneItems(summary.PreservedSystem),
		Text:            summary.Text,
	}, m.now())
}

// ApplyCompactedHistory prepends the lineage's preserved system turns and
// summary to req.Input. It reports whether anything was prepended.
func (m *Manager) ApplyCompactedHistory(req *responses.Request, ctx *Context) bool {
	if req == nil || ctx == nil || ctx.State == nil {
		return false
	}
	comp := ctx.State.Compaction()
	if comp == nil {
		return false
	}
	input := make([]responses.Item, 0, len(comp.PreservedSystem)+1+len(req.Input))
	input = append(input, comp.PreservedSystem...)
	input = append(input, CreateSummaryMessage(comp.Text))
	input = append(input, req.Input...)
	req.Input = input
	return true
}

func (m *Manager) Metrics(limit int) Metrics {
	if !m.Enabled() {
		return Metrics{Enabled: false, RecentSessions: []SessionSummary{}}
	}
	return m.store.Metrics(limit)
}

func (m *Manager) PruneIdleSessions(now time.Time) int {
	if m == nil {
		return 0
	}
	return m.store.PruneExpired(now)
}

// Lookup exposes a pure read of a lineage for inspection.
func (m *Manager) Lookup(key Key) (*State, bool) {
	return m.store.Lookup(key)
}
