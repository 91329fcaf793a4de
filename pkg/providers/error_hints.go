package providers

import (
	"strings"

	"github.com/tidwall/gjson"
)

// extractAPIError pulls the message out of an OpenAI-style error body,
// falling back to the raw body text.
func extractAPIError(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "detail"} {
			if msg := strings.TrimSpace(gjson.GetBytes(body, path).String()); msg != "" {
				return msg
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return msg
}

func augmentUpstreamError(message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "missing scopes: model.request") ||
		strings.Contains(lower, "insufficient permissions for this operation"):
		return msg + " Hint: a ChatGPT/Codex OAuth token needs upstream.api_base set to the Codex backend, not the Platform API."
	case strings.Contains(lower, "incorrect api key provided"):
		return msg + " Hint: upstream.api_key expects a Platform API credential. For ChatGPT/Codex OAuth, use upstream.oauth_token_file."
	case strings.Contains(lower, "enable javascript and cookies"):
		return msg + " Hint: the request hit a browser challenge. Use https://chatgpt.com/backend-api/codex as upstream.api_base for OAuth tokens."
	case strings.Contains(lower, "chatgpt_account_id") || strings.Contains(lower, "chatgpt-account-id"):
		return msg + " Hint: set upstream.account_id or use a Codex auth.json that carries tokens.account_id."
	case strings.Contains(lower, "previous_response_not_found") || strings.Contains(lower, "item with id"):
		return msg + " Hint: upstream does not store responses; resend full history instead of item references."
	}
	return msg
}
