package providers

import (
	"strings"
	"testing"
)

func TestAugmentUpstreamError_ScopeHint(t *testing.T) {
	msg := augmentUpstreamError("You have insufficient permissions for this operation. Missing scopes: model.request.")
	if !strings.Contains(msg, "Codex backend") {
		t.Fatalf("expected codex backend guidance in hint, got %q", msg)
	}
}

func TestAugmentUpstreamError_IncorrectAPIKeyHint(t *testing.T) {
	msg := augmentUpstreamError("Incorrect API key provided")
	if !strings.Contains(msg, "Platform API credential") {
		t.Fatalf("expected platform credential hint, got %q", msg)
	}
}

func TestAugmentUpstreamError_CloudflareHint(t *testing.T) {
	msg := augmentUpstreamError("Just a moment... Enable JavaScript and cookies to continue")
	if !strings.Contains(msg, "chatgpt.com/backend-api") {
		t.Fatalf("expected chatgpt backend hint, got %q", msg)
	}
}

func TestAugmentUpstreamError_AccountIDHint(t *testing.T) {
	msg := augmentUpstreamError("missing chatgpt_account_id in token")
	if !strings.Contains(msg, "upstream.account_id") {
		t.Fatalf("expected account-id hint, got %q", msg)
	}
}

func TestExtractAPIError(t *testing.T) {
	if got := extractAPIError([]byte(`{"error":{"message":"bad things"}}`)); got != "bad things" {
		t.Fatalf("expected nested message, got %q", got)
	}
	if got := extractAPIError([]byte("plain failure")); got != "plain failure" {
		t.Fatalf("expected raw body, got %q", got)
	}
}
