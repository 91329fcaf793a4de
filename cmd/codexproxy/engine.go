package main

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/compaction"
	"github.com/dotsetgreg/codexproxy/pkg/config"
	"github.com/dotsetgreg/codexproxy/pkg/journal"
	"github.com/dotsetgreg/codexproxy/pkg/logger"
	"github.com/dotsetgreg/codexproxy/pkg/providers"
	"github.com/dotsetgreg/codexproxy/pkg/proxy"
	"github.com/dotsetgreg/codexproxy/pkg/scheduler"
	"github.com/dotsetgreg/codexproxy/pkg/session"
)

const journalRetentionSchedule = "17 3 * * *"

// engine owns everything serve starts: the session manager, the optional
// journal, the maintenance scheduler and the HTTP proxy.
type engine struct {
	cfg       *config.Config
	sessions  *session.Manager
	journal   *journal.Journal
	scheduler *scheduler.Scheduler
	server    *proxy.Server
}

func newEngine(cfg *config.Config) (*engine, error) {
	upstream, err := url.Parse(cfg.GetAPIBase())
	if err != nil {
		return nil, fmt.Errorf("parse upstream.api_base: %w", err)
	}
	auth, err := providers.ResolveUpstreamAuth(cfg)
	if err != nil {
		return nil, err
	}
	transport, err := providers.NewTransport(cfg.Upstream.Proxy)
	if err != nil {
		return nil, err
	}
	if timeout := cfg.UpstreamTimeout(); timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}

	e := &engine{cfg: cfg, scheduler: scheduler.New()}
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			return nil, err
		}
		e.journal = j
	}

	e.sessions = session.NewManager(session.Options{
		Enabled:      cfg.Session.Enabled,
		MaxEntries:   cfg.Session.MaxEntries,
		IdleTTL:      cfg.IdleTTL(),
		VolatileTags: []string(cfg.Session.VolatileTags),
		OnDivergence: e.onDivergence,
		OnEvict:      e.onEvict,
	})

	var sink proxy.CompactionJournal
	if e.journal != nil {
		sink = e.journal
	}
	e.server, err = proxy.New(proxy.Options{
		Upstream:  upstream,
		Auth:      auth,
		Transport: transport,
		Sessions:  e.sessions,
		Compaction: compaction.Settings{
			Enabled:                cfg.Compaction.Enabled,
			AutoLimitTokens:        cfg.Compaction.AutoLimitTokens,
			AutoMinMessages:        cfg.Compaction.AutoMinMessages,
			TranscriptBudgetTokens: cfg.Compaction.TranscriptBudgetTokens,
		},
		Commands:     []string(cfg.Compaction.Commands),
		Journal:      sink,
		MetricsLimit: cfg.Session.MetricsLimit,
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	if err := e.registerJobs(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) registerJobs() error {
	if e.sessions.Enabled() && e.cfg.Session.PruneSchedule != "" {
		err := e.scheduler.Add("session-prune", e.cfg.Session.PruneSchedule, func(ctx context.Context, now time.Time) error {
			if n := e.sessions.PruneIdleSessions(now); n > 0 {
				logger.InfoCF("sessions", "Pruned idle lineages", map[string]interface{}{
					"count": n,
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if e.journal != nil && e.cfg.JournalRetention() > 0 {
		retention := e.cfg.JournalRetention()
		err := e.scheduler.Add("journal-retention", journalRetentionSchedule, func(ctx context.Context, now time.Time) error {
			n, err := e.journal.PurgeBefore(ctx, now.Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				logger.InfoCF("journal", "Purged old events", map[string]interface{}{
					"count": n,
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) onDivergence(ev session.DivergenceEvent) {
	logger.InfoCF("sessions", "History diverged; lineage regenerated", map[string]interface{}{
		"key":        ev.Key.String(),
		"previous":   ev.PreviousKey,
		"new":        ev.NewKey,
		"prev_turns": ev.PrevTurns,
		"next_turns": ev.NextTurns,
	})
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordDivergence(context.Background(), ev); err != nil {
		logger.WarnCF("journal", "Recording divergence failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (e *engine) onEvict(key session.Key, reason session.EvictReason) {
	logger.DebugCF("sessions", "Lineage evicted", map[string]interface{}{
		"key":    key.String(),
		"reason": string(reason),
	})
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordEviction(context.Background(), key, reason); err != nil {
		logger.WarnCF("journal", "Recording eviction failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Run serves until ctx is cancelled and the scheduler has stopped.
func (e *engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.scheduler.Run(ctx)
	}()

	err := e.server.ListenAndServe(ctx, e.cfg.ListenAddr())
	cancel()
	wg.Wait()
	return err
}

func (e *engine) Close() {
	if e.journal == nil {
		return
	}
	if err := e.journal.Close(); err != nil {
		logger.WarnCF("journal", "Close failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
