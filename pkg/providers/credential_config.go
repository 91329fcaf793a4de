package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dotsetgreg/codexproxy/pkg/config"
)

const (
	credentialAPIKey         = "api_key"
	credentialOAuthTokenFile = "oauth_token_file"
	credentialPassthrough    = "passthrough"
)

type credentialCandidate struct {
	mode   string
	source string
	field  string
}

// ResolveUpstreamAuth builds the auth strategy for upstream requests from
// the upstream config section. Exactly one credential source may be set.
func ResolveUpstreamAuth(cfg *config.Config) (AuthStrategy, error) {
	mode, source, err := resolveUpstreamCredential(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateOAuthTokenFileSource(mode, source, "Upstream"); err != nil {
		return nil, err
	}

	switch mode {
	case credentialAPIKey:
		return NewAPIKeyAuth(NewStaticTokenSource(source, "upstream.api_key")), nil
	case credentialOAuthTokenFile:
		accountID := strings.TrimSpace(cfg.Upstream.AccountID)
		if accountID == "" {
			accountID = AccountIDFromTokenFile(source)
		}
		return NewBearerTokenAuth(NewFileTokenSource(source), accountID), nil
	case credentialPassthrough:
		return NewPassthroughAuth(), nil
	default:
		return nil, fmt.Errorf("unsupported upstream auth mode %q", mode)
	}
}

// CredentialStatus reports whether usable upstream credentials are
// configured and which mode they use.
func CredentialStatus(cfg *config.Config) (bool, string) {
	mode, source, err := resolveUpstreamCredential(cfg)
	if err != nil {
		return false, ""
	}
	if validateOAuthTokenFileSource(mode, source, "Upstream") != nil {
		return false, mode
	}
	return true, mode
}

func resolveUpstreamCredential(cfg *config.Config) (mode string, source string, err error) {
	if cfg == nil {
		return "", "", fmt.Errorf("config is required")
	}
	candidates := make([]credentialCandidate, 0, 3)
	if key := strings.TrimSpace(cfg.Upstream.APIKey); key != "" {
		candidates = append(candidates, credentialCandidate{
			mode:   credentialAPIKey,
			source: key,
			field:  "upstream.api_key",
		})
	}
	if tokenFile := strings.TrimSpace(cfg.Upstream.OAuthTokenFile); tokenFile != "" {
		candidates = append(candidates, credentialCandidate{
			mode:   credentialOAuthTokenFile,
			source: tokenFile,
			field:  "upstream.oauth_token_file",
		})
	}
	if cfg.Upstream.PassthroughAuth {
		candidates = append(candidates, credentialCandidate{
			mode:  credentialPassthrough,
			field: "upstream.passthrough_auth",
		})
	}
	return selectSingleCredential(
		candidates,
		"upstream credentials are required (set upstream.api_key, upstream.oauth_token_file or upstream.passthrough_auth)",
		"multiple upstream credential sources configured",
	)
}

func selectSingleCredential(
	candidates []credentialCandidate,
	missingMessage string,
	multiPrefix string,
) (mode string, source string, err error) {
	switch len(candidates) {
	case 0:
		return "", "", fmt.Errorf("%s", strings.TrimSpace(missingMessage))
	case 1:
		chosen := candidates[0]
		return chosen.mode, chosen.source, nil
	default:
		fields := make([]string, 0, len(candidates))
		for _, item := range candidates {
			fields = append(fields, item.field)
		}
		sort.Strings(fields)
		return "", "", fmt.Errorf(
			"%s (%s); set exactly one",
			strings.TrimSpace(multiPrefix),
			strings.Join(fields, ", "),
		)
	}
}

func validateOAuthTokenFileSource(mode, source, label string) error {
	if mode != credentialOAuthTokenFile {
		return nil
	}
	resolved := expandHome(strings.TrimSpace(source))
	if _, err := os.Stat(resolved); err != nil {
		label = strings.TrimSpace(label)
		if label == "" {
			label = "Upstream"
		}
		return fmt.Errorf("%s OAuth token file not accessible at %s: %w", label, resolved, err)
	}
	return nil
}
