package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/journal"
	"github.com/dotsetgreg/codexproxy/pkg/session"
)

// fetchMetrics reads the lineage summary from a running proxy.
func fetchMetrics(ctx context.Context, baseURL string) (session.Metrics, error) {
	var m session.Metrics
	endpoint := strings.TrimRight(baseURL, "/") + "/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return m, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return m, fmt.Errorf("query %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return m, fmt.Errorf("query %s: status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return m, fmt.Errorf("decode metrics: %w", err)
	}
	return m, nil
}

func printMetrics(out io.Writer, m session.Metrics) {
	if !m.Enabled {
		fmt.Fprintln(out, "Session tracking is disabled.")
		return
	}
	fmt.Fprintf(out, "Tracked lineages: %d\n", m.TotalSessions)
	if len(m.RecentSessions) == 0 {
		return
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPROMPT CACHE KEY\tTURNS\tCACHED\tCOMPACTED\tUPDATED")
	for _, s := range m.RecentSessions {
		cached := "-"
		if s.LastCachedTokens != nil {
			cached = strconv.Itoa(*s.LastCachedTokens)
		}
		compacted := "no"
		if s.HasCompaction {
			compacted = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Key, s.PromptCacheKey, s.InputTurns, cached, compacted, s.LastUpdated.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

// openExistingJournal opens the journal without creating it.
func openExistingJournal(path string) (*journal.Journal, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("journal not initialized at %s (enable journal.enabled and run serve)", path)
		}
		return nil, err
	}
	return journal.Open(path)
}

func printJournalEvents(out io.Writer, events []journal.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No journal events.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tSESSION\tDETAIL")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Local().Format(time.DateTime), ev.Kind, ev.SessionKey, formatDetail(ev.Detail))
	}
	_ = tw.Flush()
}

func formatDetail(detail map[string]string) string {
	if len(detail) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.Join(strings.Fields(detail[k]), " ")
		if r := []rune(v); len(r) > 48 {
			v = string(r[:45]) + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
