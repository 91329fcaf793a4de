package providers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStaticTokenSource_RejectsPlaceholderToken(t *testing.T) {
	src := NewStaticTokenSource("<OPENAI_API_KEY>", "upstream.api_key")
	if _, err := src.Token(context.Background()); err == nil {
		t.Fatalf("expected placeholder token to be rejected")
	}
}

func TestStaticTokenSource_RejectsEnvReferenceToken(t *testing.T) {
	src := NewStaticTokenSource("${OPENAI_API_KEY}", "upstream.api_key")
	if _, err := src.Token(context.Background()); err == nil {
		t.Fatalf("expected env reference token to be rejected")
	}
}

func TestFileTokenSource_PlainTokenFile(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token.txt")
	if err := os.WriteFile(tokenFile, []byte("oauth-token-123\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	src := NewFileTokenSource(tokenFile)
	got, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != "oauth-token-123" {
		t.Fatalf("expected plain token, got %q", got)
	}
}

func TestFileTokenSource_CodexAuthJSON(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "auth.json")
	payload := `{"auth_mode":"chatgpt","tokens":{"access_token":"oauth-from-codex","account_id":"acct-42"}}`
	if err := os.WriteFile(tokenFile, []byte(payload), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	src := NewFileTokenSource(tokenFile)
	got, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != "oauth-from-codex" {
		t.Fatalf("expected token from codex json, got %q", got)
	}
	if id := AccountIDFromTokenFile(tokenFile); id != "acct-42" {
		t.Fatalf("expected account id acct-42, got %q", id)
	}
}

func TestFileTokenSource_JSONMissingAccessToken(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "auth.json")
	payload := `{"tokens":{"refresh_token":"rt_123"}}`
	if err := os.WriteFile(tokenFile, []byte(payload), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	src := NewFileTokenSource(tokenFile)
	_, err := src.Token(context.Background())
	if err == nil {
		t.Fatalf("expected missing access token error")
	}
	if !strings.Contains(err.Error(), "missing access_token") {
		t.Fatalf("expected missing access_token message, got %v", err)
	}
}

func TestBearerTokenAuth_SetsAccountHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://upstream.test/responses", nil)
	auth := NewBearerTokenAuth(NewStaticTokenSource("tok", "test"), "acct-1")
	if err := auth.Apply(context.Background(), req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok" {
		t.Fatalf("unexpected Authorization %q", got)
	}
	if got := req.Header.Get("ChatGPT-Account-Id"); got != "acct-1" {
		t.Fatalf("unexpected account header %q", got)
	}
	if auth.Mode() != AuthModeBearerToken {
		t.Fatalf("unexpected mode %q", auth.Mode())
	}
}

func TestPassthroughAuth_RequiresCallerHeader(t *testing.T) {
	auth := NewPassthroughAuth()
	req, _ := http.NewRequest(http.MethodPost, "http://upstream.test/responses", nil)
	if err := auth.Apply(context.Background(), req); err == nil {
		t.Fatalf("expected missing Authorization to be rejected")
	}
	req.Header.Set("Authorization", "Bearer caller")
	if err := auth.Apply(context.Background(), req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer caller" {
		t.Fatalf("passthrough should keep the caller header, got %q", got)
	}
}
