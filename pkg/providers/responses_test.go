package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotsetgreg/codexproxy/pkg/config"
	"github.com/dotsetgreg/codexproxy/pkg/responses"
	"github.com/tidwall/gjson"
)

func TestParseResponsesResponse_TextUsageAndCompaction(t *testing.T) {
	body := []byte(`{
		"id":"resp_1",
		"status":"completed",
		"output":[
			{"type":"reasoning","summary":[]},
			{"type":"message","role":"assistant","content":[{"type":"output_text","text":"assistant text"}]}
		],
		"usage":{"input_tokens":10,"output_tokens":4,"total_tokens":14,"input_tokens_details":{"cached_tokens":8}},
		"metadata":{"codex_compaction":{"mode":"auto","reason":"token limit exceeded","total_turns":12,"dropped_turns":3}}
	}`)

	parsed, err := parseResponsesResponse(body)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if parsed.ResponseID != "resp_1" {
		t.Fatalf("expected response id resp_1, got %q", parsed.ResponseID)
	}
	if parsed.Text != "assistant text" {
		t.Fatalf("expected assistant text, got %q", parsed.Text)
	}
	if len(parsed.Output) != 2 {
		t.Fatalf("expected both output items kept, got %d", len(parsed.Output))
	}
	if parsed.Usage == nil || parsed.Usage.TotalTokens != 14 || parsed.Usage.CachedTokens != 8 {
		t.Fatalf("unexpected usage %+v", parsed.Usage)
	}
	if parsed.Compaction == nil || parsed.Compaction.Mode != "auto" || parsed.Compaction.DroppedTurns != 3 {
		t.Fatalf("unexpected compaction info %+v", parsed.Compaction)
	}
}

func TestParseResponsesResponse_OutputTextFallback(t *testing.T) {
	parsed, err := parseResponsesResponse([]byte(`{"id":"r","output_text":["one",{"text":"two"}]}`))
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if parsed.Text != "one\ntwo" {
		t.Fatalf("expected flattened output_text, got %q", parsed.Text)
	}
	if len(parsed.Output) != 1 || !parsed.Output[0].HasRole(responses.RoleAssistant) {
		t.Fatalf("expected a synthesized assistant item, got %+v", parsed.Output)
	}
}

func TestParseResponsesResponse_InvalidJSON(t *testing.T) {
	if _, err := parseResponsesResponse([]byte("<html>")); err == nil {
		t.Fatalf("expected invalid JSON error")
	}
}

func TestParseResponsesStreamBody_CompletionEvent(t *testing.T) {
	body := []byte("data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_stream_1\",\"status\":\"completed\",\"output\":[{\"type\":\"message\",\"role\":\"assistant\",\"content\":[{\"type\":\"output_text\",\"text\":\"hello\"}]}],\"usage\":{\"input_tokens\":3,\"output_tokens\":2,\"total_tokens\":5}}}\n\ndata: [DONE]\n\n")
	parsed, err := parseResponsesStreamBody(body)
	if err != nil {
		t.Fatalf("parse stream body: %v", err)
	}
	if parsed.ResponseID != "resp_stream_1" {
		t.Fatalf("expected response id resp_stream_1, got %q", parsed.ResponseID)
	}
	if got := parsed.Text; got != "hello" {
		t.Fatalf("expected content hello, got %q", got)
	}
}

func TestParseResponsesStreamBody_DeltaFallback(t *testing.T) {
	body := []byte("data: {\"type\":\"response.output_text.delta\",\"delta\":\"hello\"}\n\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\" world\"}\n\ndata: [DONE]\n\n")
	parsed, err := parseResponsesStreamBody(body)
	if err != nil {
		t.Fatalf("parse stream body fallback: %v", err)
	}
	if got := parsed.Text; got != "hello world" {
		t.Fatalf("expected fallback content hello world, got %q", got)
	}
}

func TestClientCreate_SendsRequestAndAuth(t *testing.T) {
	var seenAuth, seenPath string
	var seenBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		seenBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_9","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{
		BaseURL: server.URL + "/v1/",
		Auth:    NewAPIKeyAuth(NewStaticTokenSource("sk-test", "test")),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	req := &responses.Request{
		Model:    "gpt-5",
		Input:    []responses.Item{responses.NewMessage(responses.RoleUser, "hi")},
		Metadata: map[string]interface{}{"conversation_id": "conv-1"},
	}
	res, err := client.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Text != "ok" {
		t.Fatalf("expected ok, got %q", res.Text)
	}
	if seenAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer auth, got %q", seenAuth)
	}
	if seenPath != "/v1/responses" {
		t.Fatalf("expected /v1/responses path, got %q", seenPath)
	}
	if got := gjson.GetBytes(seenBody, "metadata.conversation_id").String(); got != "conv-1" {
		t.Fatalf("expected metadata to be forwarded, got %s", seenBody)
	}
}

func TestClientCreate_ErrorStatusCarriesHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Create(context.Background(), &responses.Request{Input: []responses.Item{responses.NewMessage(responses.RoleUser, "hi")}})
	if err == nil {
		t.Fatalf("expected error for 401")
	}
	if !strings.Contains(err.Error(), "status=401") || !strings.Contains(err.Error(), "Hint:") {
		t.Fatalf("expected status and hint in error, got %v", err)
	}
}

func TestResolveUpstreamAuth_Modes(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := ResolveUpstreamAuth(cfg); err == nil {
		t.Fatalf("expected missing credential error")
	}

	cfg.Upstream.APIKey = "sk-1"
	auth, err := ResolveUpstreamAuth(cfg)
	if err != nil {
		t.Fatalf("resolve api key: %v", err)
	}
	if auth.Mode() != AuthModeAPIKey {
		t.Fatalf("expected api key mode, got %q", auth.Mode())
	}

	cfg.Upstream.PassthroughAuth = true
	if _, err := ResolveUpstreamAuth(cfg); err == nil || !strings.Contains(err.Error(), "set exactly one") {
		t.Fatalf("expected multiple source error, got %v", err)
	}

	cfg.Upstream.APIKey = ""
	auth, err = ResolveUpstreamAuth(cfg)
	if err != nil {
		t.Fatalf("resolve passthrough: %v", err)
	}
	if auth.Mode() != AuthModePassthrough {
		t.Fatalf("expected passthrough mode, got %q", auth.Mode())
	}
}

func TestResolveUpstreamAuth_TokenFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Upstream.OAuthTokenFile = filepath.Join(t.TempDir(), "missing.json")
	if _, err := ResolveUpstreamAuth(cfg); err == nil {
		t.Fatalf("expected inaccessible token file error")
	}
	if ok, _ := CredentialStatus(cfg); ok {
		t.Fatalf("missing token file should not count as configured")
	}

	if err := os.WriteFile(cfg.Upstream.OAuthTokenFile, []byte(`{"tokens":{"access_token":"at","account_id":"acct"}}`), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	auth, err := ResolveUpstreamAuth(cfg)
	if err != nil {
		t.Fatalf("resolve token file: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, "http://upstream.test", nil)
	if err := auth.Apply(context.Background(), req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if req.Header.Get("ChatGPT-Account-Id") != "acct" {
		t.Fatalf("expected account id from auth.json, got %q", req.Header.Get("ChatGPT-Account-Id"))
	}
	if ok, mode := CredentialStatus(cfg); !ok || mode != "oauth_token_file" {
		t.Fatalf("unexpected credential status %v %q", ok, mode)
	}
}
