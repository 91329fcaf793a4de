// Package journal keeps a durable record of lineage events: compactions,
// divergences and evictions. The in-memory session store stays the source of
// truth; the journal is for inspection after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/session"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Kind string

const (
	KindCompaction Kind = "compaction"
	KindDivergence Kind = "divergence"
	KindEviction   Kind = "eviction"
)

// Event is one journal row.
type Event struct {
	ID             string            `json:"id"`
	Kind           Kind              `json:"kind"`
	SessionKey     string            `json:"sessionKey"`
	PromptCacheKey string            `json:"promptCacheKey,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Compaction is the stored outcome of one finalized compaction.
type Compaction struct {
	ID             string    `json:"id"`
	SessionKey     string    `json:"sessionKey"`
	PromptCacheKey string    `json:"promptCacheKey,omitempty"`
	Mode           string    `json:"mode"`
	Reason         string    `json:"reason,omitempty"`
	TotalTurns     int       `json:"totalTurns"`
	DroppedTurns   int       `json:"droppedTurns"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Journal is a SQLite-backed event log.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, now: time.Now}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS lineage_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			session_key TEXT NOT NULL,
			prompt_cache_key TEXT NOT NULL DEFAULT '',
			detail_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS lineage_events_created_idx ON lineage_events(created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS lineage_events_session_idx ON lineage_events(session_key, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS lineage_compactions (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			prompt_cache_key TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			total_turns INTEGER NOT NULL DEFAULT 0,
			dropped_turns INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS lineage_compactions_session_idx ON lineage_compactions(session_key, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("init journal schema (%s): %w", trimSQL(stmt), err)
		}
	}
	return nil
}

// RecordCompaction stores a compaction and its event row in one transaction.
func (j *Journal) RecordCompaction(ctx context.Context, c Compaction) (string, error) {
	id := "cmp-" + uuid.NewString()
	at := j.now().UnixMilli()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("record compaction begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO lineage_compactions(id, session_key, prompt_cache_key, mode, reason, total_turns, dropped_turns, summary, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.SessionKey, c.PromptCacheKey, c.Mode, c.Reason, c.TotalTurns, c.DroppedTurns, c.Summary, at); err != nil {
		return "", fmt.Errorf("record compaction: %w", err)
	}

	detail := map[string]string{
		"compaction_id": id,
		"mode":          c.Mode,
		"total_turns":   fmt.Sprint(c.TotalTurns),
		"dropped_turns": fmt.Sprint(c.DroppedTurns),
	}
	if c.Reason != "" {
		detail["reason"] = c.Reason
	}
	if err := insertEvent(ctx, tx, KindCompaction, c.SessionKey, c.PromptCacheKey, detail, at); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("record compaction commit: %w", err)
	}
	return id, nil
}

func (j *Journal) RecordDivergence(ctx context.Context, ev session.DivergenceEvent) error {
	detail := map[string]string{
		"previous_key": ev.PreviousKey,
		"prev_turns":   fmt.Sprint(ev.PrevTurns),
		"next_turns":   fmt.Sprint(ev.NextTurns),
	}
	return insertEvent(ctx, j.db, KindDivergence, ev.Key.String(), ev.NewKey, detail, j.now().UnixMilli())
}

func (j *Journal) RecordEviction(ctx context.Context, key session.Key, reason session.EvictReason) error {
	detail := map[string]string{"reason": string(reason)}
	return insertEvent(ctx, j.db, KindEviction, key.String(), "", detail, j.now().UnixMilli())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, kind Kind, sessionKey, promptCacheKey string, detail map[string]string, atMS int64) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO lineage_events(id, kind, session_key, prompt_cache_key, detail_json, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`, "evt-"+uuid.NewString(), string(kind), sessionKey, promptCacheKey, encodeMap(detail), atMS)
	if err != nil {
		return fmt.Errorf("record %s event: %w", kind, err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first. A non-empty
// sessionKey restricts the result to that lineage.
func (j *Journal) ListRecent(ctx context.Context, sessionKey string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, kind, session_key, prompt_cache_key, detail_json, created_at_ms
FROM lineage_events
WHERE (? = '' OR session_key = ?)
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?`, sessionKey, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		var kind, detailRaw string
		var createdMS int64
		if err := rows.Scan(&ev.ID, &kind, &ev.SessionKey, &ev.PromptCacheKey, &detailRaw, &createdMS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.Detail = decodeMap(detailRaw)
		ev.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// LatestCompaction returns the newest compaction recorded for sessionKey.
func (j *Journal) LatestCompaction(ctx context.Context, sessionKey string) (Compaction, bool, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, session_key, prompt_cache_key, mode, reason, total_turns, dropped_turns, summary, created_at_ms
FROM lineage_compactions
WHERE session_key = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT 1`, sessionKey)

	var c Compaction
	var createdMS int64
	err := row.Scan(&c.ID, &c.SessionKey, &c.PromptCacheKey, &c.Mode, &c.Reason, &c.TotalTurns, &c.DroppedTurns, &c.Summary, &createdMS)
	if err == sql.ErrNoRows {
		return Compaction{}, false, nil
	}
	if err != nil {
		return Compaction{}, false, fmt.Errorf("latest compaction: %w", err)
	}
	c.CreatedAt = time.UnixMilli(createdMS)
	return c, true, nil
}

// PurgeBefore deletes events and compactions recorded before cutoff.
func (j *Journal) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ms := cutoff.UnixMilli()
	total := 0
	for _, table := range []string{"lineage_events", "lineage_compactions"} {
		res, err := j.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at_ms < ?`, ms)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

func trimSQL(stmt string) string {
	line := stmt
	for i, r := range line {
		if r == '\n' {
			line = line[:i]
			break
		}
	}
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}
