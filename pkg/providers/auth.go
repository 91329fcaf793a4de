package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	AuthModeAPIKey      = "api_key"
	AuthModeBearerToken = "bearer_token"
	AuthModePassthrough = "passthrough"
)

// TokenSource returns bearer material for request auth.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Source() string
}

type staticTokenSource struct {
	token  string
	source string
}

func NewStaticTokenSource(token, source string) TokenSource {
	return &staticTokenSource{
		token:  strings.TrimSpace(token),
		source: strings.TrimSpace(source),
	}
}

func (s *staticTokenSource) Token(context.Context) (string, error) {
	tok := strings.TrimSpace(s.token)
	if tok == "" {
		return "", fmt.Errorf("token is empty for %s", s.Source())
	}
	if looksLikePlaceholder(tok) {
		return "", fmt.Errorf("token for %s looks like a placeholder (%s)", s.Source(), tok)
	}
	return tok, nil
}

func (s *staticTokenSource) Source() string {
	if s.source != "" {
		return s.source
	}
	return "static"
}

type fileTokenSource struct {
	path string
}

// NewFileTokenSource reads a token from path on every call. The file may
// hold a bare token or a Codex CLI auth.json document.
func NewFileTokenSource(path string) TokenSource {
	return &fileTokenSource{path: strings.TrimSpace(path)}
}

func (s *fileTokenSource) Token(context.Context) (string, error) {
	resolved := expandHome(strings.TrimSpace(s.path))
	if resolved == "" {
		return "", fmt.Errorf("token file path is empty")
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", resolved, err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", fmt.Errorf("token file %s is empty", resolved)
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	if !gjson.Valid(raw) {
		return "", fmt.Errorf("token file %s is not valid JSON", resolved)
	}
	for _, path := range []string{"tokens.access_token", "access_token", "OPENAI_API_KEY"} {
		if tok := strings.TrimSpace(gjson.Get(raw, path).String()); tok != "" {
			return tok, nil
		}
	}
	return "", fmt.Errorf("token file %s is missing access_token", resolved)
}

func (s *fileTokenSource) Source() string {
	resolved := expandHome(strings.TrimSpace(s.path))
	if resolved != "" {
		return resolved
	}
	return "token_file"
}

// AccountIDFromTokenFile returns tokens.account_id from a Codex auth.json
// file, or "" when the file is a bare token or has no account id.
func AccountIDFromTokenFile(path string) string {
	data, err := os.ReadFile(expandHome(strings.TrimSpace(path)))
	if err != nil || !gjson.ValidBytes(data) {
		return ""
	}
	return strings.TrimSpace(gjson.GetBytes(data, "tokens.account_id").String())
}

// AuthStrategy applies request auth for upstream HTTP calls.
type AuthStrategy interface {
	Mode() string
	Apply(ctx context.Context, req *http.Request) error
}

type apiKeyAuth struct {
	source TokenSource
}

func NewAPIKeyAuth(source TokenSource) AuthStrategy {
	return &apiKeyAuth{source: source}
}

func (a *apiKeyAuth) Mode() string {
	return AuthModeAPIKey
}

func (a *apiKeyAuth) Apply(ctx context.Context, req *http.Request) error {
	return applyBearerAuth(ctx, req, a.source)
}

type bearerTokenAuth struct {
	source    TokenSource
	accountID string
}

// NewBearerTokenAuth sends an OAuth access token. A non-empty accountID is
// sent as the ChatGPT-Account-Id header.
func NewBearerTokenAuth(source TokenSource, accountID string) AuthStrategy {
	return &bearerTokenAuth{source: source, accountID: strings.TrimSpace(accountID)}
}

func (a *bearerTokenAuth) Mode() string {
	return AuthModeBearerToken
}

func (a *bearerTokenAuth) Apply(ctx context.Context, req *http.Request) error {
	if err := applyBearerAuth(ctx, req, a.source); err != nil {
		return err
	}
	if a.accountID != "" {
		req.Header.Set("ChatGPT-Account-Id", a.accountID)
	}
	return nil
}

type passthroughAuth struct{}

// NewPassthroughAuth leaves the caller's Authorization header in place.
func NewPassthroughAuth() AuthStrategy {
	return passthroughAuth{}
}

func (passthroughAuth) Mode() string {
	return AuthModePassthrough
}

func (passthroughAuth) Apply(_ context.Context, req *http.Request) error {
	if strings.TrimSpace(req.Header.Get("Authorization")) == "" {
		return fmt.Errorf("passthrough auth: request has no Authorization header")
	}
	return nil
}

func applyBearerAuth(ctx context.Context, req *http.Request, source TokenSource) error {
	if source == nil {
		return fmt.Errorf("auth token source is nil")
	}
	tok, err := source.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func looksLikePlaceholder(tok string) bool {
	if strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">") {
		return true
	}
	if strings.HasPrefix(tok, "${") && strings.HasSuffix(tok, "}") {
		return true
	}
	return false
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
