package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/responses"
	"github.com/tidwall/gjson"
)

type ClientOptions struct {
	// BaseURL is the API root; "/responses" is appended to it.
	BaseURL string
	// Auth is optional. The local proxy adds upstream credentials itself.
	Auth    AuthStrategy
	Proxy   string
	Timeout time.Duration
	Headers map[string]string
}

// Client sends Responses API requests and parses JSON or streamed replies.
type Client struct {
	baseURL      string
	auth         AuthStrategy
	httpClient   *http.Client
	extraHeaders map[string]string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CachedTokens int
}

// CompactionInfo mirrors metadata.codex_compaction on a compacted response.
type CompactionInfo struct {
	Mode         string
	Reason       string
	TotalTurns   int
	DroppedTurns int
}

type Result struct {
	ResponseID string
	Text       string
	// Output holds the response items in wire form, ready to be appended to
	// the caller's history.
	Output     []responses.Item
	Usage      *Usage
	Compaction *CompactionInfo
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("responses base URL is required")
	}
	httpClient, err := NewHTTPClient(opts.Proxy, opts.Timeout)
	if err != nil {
		return nil, err
	}

	cleanHeaders := map[string]string{}
	for k, v := range opts.Headers {
		name := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if name == "" || value == "" {
			continue
		}
		cleanHeaders[name] = value
	}

	return &Client{
		baseURL:      baseURL,
		auth:         opts.Auth,
		httpClient:   httpClient,
		extraHeaders: cleanHeaders,
	}, nil
}

// Create posts req to /responses. Streamed replies are buffered and the
// completion event is parsed.
func (c *Client) Create(ctx context.Context, req *responses.Request) (*Result, error) {
	if c == nil {
		return nil, fmt.Errorf("client not initialized")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	jsonData, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		if err := c.auth.Apply(ctx, httpReq); err != nil {
			return nil, fmt.Errorf("apply auth: %w", err)
		}
	}
	for name, value := range c.extraHeaders {
		httpReq.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send responses request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read responses reply: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := augmentUpstreamError(extractAPIError(body))
		return nil, fmt.Errorf("responses request failed: status=%d error=%s", resp.StatusCode, msg)
	}

	if responses.LooksLikeSSE(resp.Header.Get("Content-Type"), body) {
		return parseResponsesStreamBody(body)
	}
	return parseResponsesResponse(body)
}

func parseResponsesResponse(body []byte) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("parse responses reply: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	result := &Result{ResponseID: strings.TrimSpace(root.Get("id").String())}

	if output := root.Get("output"); output.IsArray() {
		if err := json.Unmarshal([]byte(output.Raw), &result.Output); err != nil {
			return nil, fmt.Errorf("decode response output: %w", err)
		}
	}

	contentParts := make([]string, 0, 2)
	for _, item := range result.Output {
		if !item.HasRole(responses.RoleAssistant) {
			continue
		}
		if txt := strings.TrimSpace(item.Text()); txt != "" {
			contentParts = append(contentParts, txt)
		}
	}
	if len(contentParts) == 0 {
		if top := flattenResponsesOutputText(root.Get("output_text")); top != "" {
			contentParts = append(contentParts, top)
			result.Output = append(result.Output, responses.NewMessage(responses.RoleAssistant, top))
		}
	}
	result.Text = strings.TrimSpace(strings.Join(contentParts, "\n"))

	if usage := root.Get("usage"); usage.IsObject() {
		cached := usage.Get("input_tokens_details.cached_tokens")
		if !cached.Exists() {
			cached = usage.Get("cached_tokens")
		}
		result.Usage = &Usage{
			InputTokens:  int(usage.Get("input_tokens").Int()),
			OutputTokens: int(usage.Get("output_tokens").Int()),
			TotalTokens:  int(usage.Get("total_tokens").Int()),
			CachedTokens: int(cached.Int()),
		}
	}

	if meta := root.Get("metadata.codex_compaction"); meta.IsObject() {
		result.Compaction = &CompactionInfo{
			Mode:         meta.Get("mode").String(),
			Reason:       meta.Get("reason").String(),
			TotalTurns:   int(meta.Get("total_turns").Int()),
			DroppedTurns: int(meta.Get("dropped_turns").Int()),
		}
	}
	return result, nil
}

// parseResponsesStreamBody reads the response.completed payload, falling
// back to concatenated output_text deltas when the stream was cut short.
func parseResponsesStreamBody(body []byte) (*Result, error) {
	if completed, ok := responses.CompletedResponse(body); ok {
		return parseResponsesResponse(completed)
	}

	var text strings.Builder
	scanner := responses.NewSSEScanner(bytes.NewReader(body))
	for scanner.Next() {
		ev := scanner.Event()
		if ev.Data == "[DONE]" {
			continue
		}
		if gjson.Get(ev.Data, "type").String() == "response.output_text.delta" {
			text.WriteString(gjson.Get(ev.Data, "delta").String())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read responses stream: %w", err)
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, fmt.Errorf("responses stream carried no completion event")
	}
	return &Result{
		Text:   content,
		Output: []responses.Item{responses.NewMessage(responses.RoleAssistant, content)},
	}, nil
}

func flattenResponsesOutputText(raw gjson.Result) string {
	switch {
	case raw.Type == gjson.String:
		return strings.TrimSpace(raw.String())
	case raw.IsArray():
		parts := make([]string, 0, 2)
		raw.ForEach(func(_, item gjson.Result) bool {
			switch {
			case item.Type == gjson.String:
				if s := strings.TrimSpace(item.String()); s != "" {
					parts = append(parts, s)
				}
			case item.IsObject():
				for _, key := range []string{"text", "content"} {
					if s := strings.TrimSpace(item.Get(key).String()); s != "" {
						parts = append(parts, s)
					}
				}
			}
			return true
		})
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
