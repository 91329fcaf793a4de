package compaction

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
	"github.com/dotsetgreg/codexproxy/pkg/session"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Marker opens every finalized summary so later turns and log readers can
// recognize compaction output.
const Marker = "[codex-proxy compaction summary]"

const metadataPath = "metadata.codex_compaction"

// SummaryRecorder stores a finalized summary on a lineage.
type SummaryRecorder interface {
	ApplyCompactionSummary(ctx *session.Context, summary session.Summary)
}

type FinalizeInput struct {
	Response *http.Response
	Decision *Decision
	// Recorder and Context are optional. When both are set the summary is
	// stored for rehydration of later turns.
	Recorder SummaryRecorder
	Context  *session.Context
}

// Metadata is written to metadata.codex_compaction on the finalized response.
type Metadata struct {
	Mode         Mode   `json:"mode"`
	Reason       string `json:"reason,omitempty"`
	TotalTurns   int    `json:"total_turns"`
	DroppedTurns int    `json:"dropped_turns"`
}

// Finalize rewrites a summarization response: the summary text is framed
// with Marker and the compaction metadata is attached. Status and headers are
// preserved. Only a failure to read the body is returned as an error.
func Finalize(in FinalizeInput) (*http.Response, error) {
	resp := in.Response
	if resp == nil || in.Decision == nil {
		return resp, nil
	}
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read compaction response: %w", err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return withBody(resp, body), nil
	}

	var (
		out     []byte
		summary string
	)
	if responses.LooksLikeSSE(resp.Header.Get("Content-Type"), body) {
		out = body
		if rewritten, text, ok := finalizeStream(body, in.Decision); ok {
			out, summary = rewritten, text
		}
	} else {
		out, summary = FinalizeBody(body, in.Decision)
	}

	if summary != "" && in.Recorder != nil && in.Context != nil {
		in.Recorder.ApplyCompactionSummary(in.Context, session.Summary{
			PreservedSystem: in.Decision.PreservedSystem,
			Text:            summary,
		})
	}
	return withBody(resp, out), nil
}

// FinalizeBody patches a completion object. It returns the new body and the
// finalized summary text, which is empty when the response carried no
// assistant text. Bodies that are not JSON objects are returned unchanged.
func FinalizeBody(payload []byte, d *Decision) ([]byte, string) {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return payload, ""
	}

	summary := ""
	if path, text, ok := assistantTextPath(payload); ok {
		summary = composeSummary(d, text)
		if patched, err := sjson.SetBytes(payload, path, summary); err == nil {
			payload = patched
		}
		if gjson.GetBytes(payload, "output_text").Type == gjson.String {
			if patched, err := sjson.SetBytes(payload, "output_text", summary); err == nil {
				payload = patched
			}
		}
	}

	if !gjson.GetBytes(payload, "metadata").IsObject() {
		if patched, err := sjson.SetRawBytes(payload, "metadata", []byte("{}")); err == nil {
			payload = patched
		}
	}
	meta := Metadata{
		Mode:         d.Mode,
		Reason:       d.Reason,
		TotalTurns:   d.Serialization.TotalTurns,
		DroppedTurns: d.Serialization.DroppedTurns,
	}
	if patched, err := sjson.SetBytes(payload, metadataPath, meta); err == nil {
		payload = patched
	}
	return payload, summary
}

// finalizeStream patches an event stream: the completed response as in
// FinalizeBody, and the finished assistant item so clients that rebuild
// history from item events see the framed summary too.
func finalizeStream(stream []byte, d *Decision) ([]byte, string, bool) {
	summary := ""
	itemPatched := false
	out, ok := responses.RewriteEvents(stream, func(ev responses.SSEEvent) (responses.SSEEvent, bool) {
		switch {
		case responses.IsCompletionEvent(ev):
			completed := gjson.Get(ev.Data, "response")
			if !completed.IsObject() {
				return ev, false
			}
			patched, text := FinalizeBody([]byte(completed.Raw), d)
			data, err := sjson.SetRaw(ev.Data, "response", string(patched))
			if err != nil {
				return ev, false
			}
			summary = text
			ev.Data = data
			return ev, true
		case !itemPatched && gjson.Get(ev.Data, "type").String() == responses.EventOutputItemDone:
			sub, text, found := messageTextPath(gjson.Get(ev.Data, "item"))
			if !found {
				return ev, false
			}
			data, err := sjson.Set(ev.Data, "item."+sub, composeSummary(d, text))
			if err != nil {
				return ev, false
			}
			itemPatched = true
			ev.Data = data
			return ev, true
		}
		return ev, false
	})
	return out, summary, ok
}

// assistantTextPath locates the first text part of the first assistant
// message in output.
func assistantTextPath(payload []byte) (string, string, bool) {
	output := gjson.GetBytes(payload, "output")
	if !output.IsArray() {
		return "", "", false
	}
	for i, item := range output.Array() {
		if sub, text, ok := messageTextPath(item); ok {
			return fmt.Sprintf("output.%d.%s", i, sub), text, true
		}
	}
	return "", "", false
}

// messageTextPath returns the path of the first text part within an
// assistant message item, relative to the item.
func messageTextPath(item gjson.Result) (string, string, bool) {
	if item.Get("role").String() != responses.RoleAssistant {
		return "", "", false
	}
	if t := item.Get("type").String(); t != "" && t != responses.ItemMessage {
		return "", "", false
	}
	content := item.Get("content")
	if content.Type == gjson.String {
		return "content", content.String(), true
	}
	if !content.IsArray() {
		return "", "", false
	}
	for j, part := range content.Array() {
		switch part.Get("type").String() {
		case responses.PartOutputText, "text", "":
		default:
			continue
		}
		if text := part.Get("text"); text.Type == gjson.String {
			return fmt.Sprintf("content.%d.text", j), text.String(), true
		}
	}
	return "", "", false
}

func composeSummary(d *Decision, text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, Marker) {
		return text
	}
	var b strings.Builder
	b.WriteString(Marker)
	b.WriteString("\n")
	if d.Mode == ModeAuto {
		b.WriteString("Note: auto compaction triggered")
		if d.Reason != "" {
			b.WriteString(": ")
			b.WriteString(d.Reason)
		}
		b.WriteString(".\n")
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}

func withBody(resp *http.Response, body []byte) *http.Response {
	out := *resp
	out.Header = resp.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	out.ContentLength = int64(len(body))
	out.TransferEncoding = nil
	out.Body = io.NopCloser(bytes.NewReader(body))
	return &out
}
