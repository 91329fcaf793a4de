package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/dotsetgreg/codexproxy/pkg/compaction"
	"github.com/dotsetgreg/codexproxy/pkg/journal"
	"github.com/dotsetgreg/codexproxy/pkg/logger"
	"github.com/dotsetgreg/codexproxy/pkg/responses"
	"github.com/dotsetgreg/codexproxy/pkg/session"
)

type turnKey struct{}

// turn carries per-request state from the request pipeline to
// ModifyResponse.
type turn struct {
	session    *session.Context
	decision   *compaction.Decision
	rehydrated bool
	body       []byte
}

func turnFromContext(ctx context.Context) *turn {
	t, _ := ctx.Value(turnKey{}).(*turn)
	return t
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, "failed to read request", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	t := s.prepare(body)
	r = r.WithContext(context.WithValue(r.Context(), turnKey{}, t))
	r.Body = io.NopCloser(bytes.NewReader(t.body))
	r.ContentLength = int64(len(t.body))
	r.Header.Set("Content-Length", strconv.Itoa(len(t.body)))

	if !s.applyAuth(w, r) {
		return
	}
	s.proxy.ServeHTTP(w, r)
}

// prepare runs the request half of the engine: rehydration, compaction
// decision, then lineage stamping. Bodies that do not parse are forwarded
// unchanged.
func (s *Server) prepare(body []byte) *turn {
	t := &turn{body: body}
	req, err := responses.ParseRequest(body)
	if err != nil {
		logger.DebugCF("proxy", "Forwarding unparsed request body", map[string]interface{}{
			"error": err.Error(),
		})
		return t
	}

	sc := s.sessions.GetContext(req)
	if sc != nil && sc.State.Compaction() != nil {
		if trimmed, ok := compaction.TrimCompacted(req.Input); ok {
			req.Input = trimmed
		}
		t.rehydrated = s.sessions.ApplyCompactedHistory(req, sc)
	}

	command, _ := compaction.DetectCommand(req.Input, s.commands)
	t.decision = compaction.Decide(req, compaction.Options{
		Settings:      s.compaction,
		CommandText:   command,
		OriginalInput: responses.CloneItems(req.Input),
	})

	if sc != nil {
		sc = s.sessions.ApplyRequest(req, sc)
		if !sc.PreserveIDs {
			req.StripItemIDs()
		}
	}
	t.session = sc

	out, err := req.Marshal()
	if err != nil {
		logger.WarnCF("proxy", "Re-encoding request failed; forwarding original body", map[string]interface{}{
			"error": err.Error(),
		})
		t.session, t.decision = nil, nil
		return t
	}
	t.body = out

	fields := map[string]interface{}{
		"turns":      len(req.Input),
		"rehydrated": t.rehydrated,
	}
	if sc != nil {
		fields["session"] = sc.SessionID
		fields["prompt_cache_key"] = req.PromptCacheKey
		fields["new_lineage"] = sc.IsNew
	}
	if t.decision != nil {
		fields["compaction"] = string(t.decision.Mode)
		fields["dropped_turns"] = t.decision.Serialization.DroppedTurns
		logger.InfoCF("proxy", "Compaction requested", fields)
	} else {
		logger.DebugCF("proxy", "Forwarding request", fields)
	}
	return t
}

func (s *Server) modifyResponse(resp *http.Response) error {
	t := turnFromContext(resp.Request.Context())
	if t == nil {
		return nil
	}
	if t.decision != nil {
		return s.finalizeCompaction(resp, t)
	}
	if t.session == nil || resp.Body == nil {
		return nil
	}

	record := func(payload []byte) { s.sessions.RecordResponse(t.session, payload) }
	if responses.LooksLikeSSE(resp.Header.Get("Content-Type"), nil) {
		resp.Body = newUsageTap(resp.Body, record)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		record(body)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return nil
}

func (s *Server) finalizeCompaction(resp *http.Response, t *turn) error {
	capture := &summaryCapture{next: s.sessions}
	finalized, err := compaction.Finalize(compaction.FinalizeInput{
		Response: resp,
		Decision: t.decision,
		Recorder: capture,
		Context:  t.session,
	})
	if err != nil {
		return err
	}
	*resp = *finalized
	if t.session == nil {
		return nil
	}

	if capture.summary == nil {
		logger.WarnCF("proxy", "Compaction response carried no summary", map[string]interface{}{
			"status": resp.StatusCode,
			"mode":   string(t.decision.Mode),
		})
		return nil
	}
	logger.InfoCF("proxy", "Compaction finalized", map[string]interface{}{
		"session":       t.session.SessionID,
		"mode":          string(t.decision.Mode),
		"total_turns":   t.decision.Serialization.TotalTurns,
		"dropped_turns": t.decision.Serialization.DroppedTurns,
	})

	if s.journal == nil {
		return nil
	}
	_, err = s.journal.RecordCompaction(resp.Request.Context(), journal.Compaction{
		SessionKey:     t.session.Key.String(),
		PromptCacheKey: t.session.State.PromptCacheKey(),
		Mode:           string(t.decision.Mode),
		Reason:         t.decision.Reason,
		TotalTurns:     t.decision.Serialization.TotalTurns,
		DroppedTurns:   t.decision.Serialization.DroppedTurns,
		Summary:        capture.summary.Text,
	})
	if err != nil {
		logger.WarnCF("proxy", "Journal write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// summaryCapture forwards a finalized summary to the session manager and
// keeps a copy for the journal.
type summaryCapture struct {
	next    compaction.SummaryRecorder
	summary *session.Summary
}

func (c *summaryCapture) ApplyCompactionSummary(ctx *session.Context, summary session.Summary) {
	c.summary = &summary
	if c.next != nil {
		c.next.ApplyCompactionSummary(ctx, summary)
	}
}
