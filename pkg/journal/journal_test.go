package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) (*Journal, *time.Time) {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	return j, &now
}

func TestJournal_RecordAndListNewestFirst(t *testing.T) {
	j, now := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordEviction(ctx, session.Key{Base: "conv-old"}, session.EvictIdle))
	*now = now.Add(time.Second)
	require.NoError(t, j.RecordDivergence(ctx, session.DivergenceEvent{
		Key:         session.Key{Base: "conv-1", Fork: "f"},
		PreviousKey: "conv-1::fork::f",
		NewKey:      "cache_abc",
		PrevTurns:   4,
		NextTurns:   1,
	}))
	*now = now.Add(time.Second)
	id, err := j.RecordCompaction(ctx, Compaction{
		SessionKey:   "conv-1",
		Mode:         "auto",
		Reason:       "token limit exceeded",
		TotalTurns:   30,
		DroppedTurns: 12,
		Summary:      "summary text",
	})
	require.NoError(t, err)
	assert.Contains(t, id, "cmp-")

	events, err := j.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, KindCompaction, events[0].Kind)
	assert.Equal(t, id, events[0].Detail["compaction_id"])
	assert.Equal(t, "12", events[0].Detail["dropped_turns"])

	assert.Equal(t, KindDivergence, events[1].Kind)
	assert.Equal(t, "conv-1::fork::f", events[1].SessionKey)
	assert.Equal(t, "cache_abc", events[1].PromptCacheKey)
	assert.Equal(t, "4", events[1].Detail["prev_turns"])

	assert.Equal(t, KindEviction, events[2].Kind)
	assert.Equal(t, "idle", events[2].Detail["reason"])

	limited, err := j.ListRecent(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, KindCompaction, limited[0].Kind)

	scoped, err := j.ListRecent(ctx, "conv-old", 10)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, KindEviction, scoped[0].Kind)
}

func TestJournal_LatestCompaction(t *testing.T) {
	j, now := openTestJournal(t)
	ctx := context.Background()

	_, found, err := j.LatestCompaction(ctx, "conv-x")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = j.RecordCompaction(ctx, Compaction{SessionKey: "conv-x", Mode: "command", Summary: "first"})
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = j.RecordCompaction(ctx, Compaction{SessionKey: "conv-x", Mode: "auto", Summary: "second", TotalTurns: 9})
	require.NoError(t, err)

	latest, found, err := j.LatestCompaction(ctx, "conv-x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", latest.Summary)
	assert.Equal(t, 9, latest.TotalTurns)
	assert.Equal(t, now.UnixMilli(), latest.CreatedAt.UnixMilli())
}

func TestJournal_PurgeBefore(t *testing.T) {
	j, now := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordEviction(ctx, session.Key{Base: "old"}, session.EvictCapacity))
	_, err := j.RecordCompaction(ctx, Compaction{SessionKey: "old", Mode: "command"})
	require.NoError(t, err)

	*now = now.Add(48 * time.Hour)
	require.NoError(t, j.RecordEviction(ctx, session.Key{Base: "new"}, session.EvictCapacity))

	removed, err := j.PurgeBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	events, err := j.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].SessionKey)
}

func TestJournal_ReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordEviction(context.Background(), session.Key{Base: "kept"}, session.EvictIdle))
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.ListRecent(context.Background(), "", 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].SessionKey)
}
