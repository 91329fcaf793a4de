package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// FlexibleStringSlice is a []string that also accepts JSON numbers and a
// single comma-separated string.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = splitList(single)
		return nil
	}

	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type Config struct {
	Proxy      ProxyConfig      `json:"proxy"`
	Upstream   UpstreamConfig   `json:"upstream"`
	Session    SessionConfig    `json:"session"`
	Compaction CompactionConfig `json:"compaction"`
	Journal    JournalConfig    `json:"journal"`
	Log        LogConfig        `json:"log"`
	mu         sync.RWMutex
}

type ProxyConfig struct {
	Host string `json:"host" env:"CODEXPROXY_PROXY_HOST"`
	Port int    `json:"port" env:"CODEXPROXY_PROXY_PORT"`
}

type UpstreamConfig struct {
	APIBase         string `json:"api_base" env:"CODEXPROXY_UPSTREAM_API_BASE"`
	APIKey          string `json:"api_key,omitempty" env:"CODEXPROXY_UPSTREAM_API_KEY"`
	OAuthTokenFile  string `json:"oauth_token_file,omitempty" env:"CODEXPROXY_UPSTREAM_OAUTH_TOKEN_FILE"`
	AccountID       string `json:"account_id,omitempty" env:"CODEXPROXY_UPSTREAM_ACCOUNT_ID"`
	Proxy           string `json:"proxy,omitempty" env:"CODEXPROXY_UPSTREAM_PROXY"`
	TimeoutSeconds  int    `json:"timeout_seconds" env:"CODEXPROXY_UPSTREAM_TIMEOUT_SECONDS"`
	PassthroughAuth bool   `json:"passthrough_auth" env:"CODEXPROXY_UPSTREAM_PASSTHROUGH_AUTH"`
}

type SessionConfig struct {
	Enabled        bool                `json:"enabled" env:"CODEXPROXY_SESSION_ENABLED"`
	MaxEntries     int                 `json:"max_entries" env:"CODEXPROXY_SESSION_MAX_ENTRIES"`
	IdleTTLMinutes int                 `json:"idle_ttl_minutes" env:"CODEXPROXY_SESSION_IDLE_TTL_MINUTES"`
	PruneSchedule  string              `json:"prune_schedule" env:"CODEXPROXY_SESSION_PRUNE_SCHEDULE"`
	VolatileTags   FlexibleStringSlice `json:"volatile_tags" env:"CODEXPROXY_SESSION_VOLATILE_TAGS"`
	MetricsLimit   int                 `json:"metrics_limit" env:"CODEXPROXY_SESSION_METRICS_LIMIT"`
}

type CompactionConfig struct {
	Enabled                bool                `json:"enabled" env:"CODEXPROXY_COMPACTION_ENABLED"`
	AutoLimitTokens        int                 `json:"auto_limit_tokens" env:"CODEXPROXY_COMPACTION_AUTO_LIMIT_TOKENS"`
	AutoMinMessages        int                 `json:"auto_min_messages" env:"CODEXPROXY_COMPACTION_AUTO_MIN_MESSAGES"`
	TranscriptBudgetTokens int                 `json:"transcript_budget_tokens" env:"CODEXPROXY_COMPACTION_TRANSCRIPT_BUDGET_TOKENS"`
	Commands               FlexibleStringSlice `json:"commands" env:"CODEXPROXY_COMPACTION_COMMANDS"`
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled" env:"CODEXPROXY_JOURNAL_ENABLED"`
	Path          string `json:"path" env:"CODEXPROXY_JOURNAL_PATH"`
	RetentionDays int    `json:"retention_days" env:"CODEXPROXY_JOURNAL_RETENTION_DAYS"`
}

type LogConfig struct {
	Level  string `json:"level" env:"CODEXPROXY_LOG_LEVEL"`
	Format string `json:"format" env:"CODEXPROXY_LOG_FORMAT"` // text or json
}

func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Upstream: UpstreamConfig{
			APIBase:        "https://api.openai.com/v1",
			TimeoutSeconds: 600,
		},
		Session: SessionConfig{
			Enabled:        true,
			MaxEntries:     100,
			IdleTTLMinutes: 30,
			PruneSchedule:  "*/5 * * * *",
			VolatileTags: FlexibleStringSlice{
				"environment_context",
				"workspace_context",
				"directory_listing",
				"current_time",
			},
			MetricsLimit: 5,
		},
		Compaction: CompactionConfig{
			Enabled:                true,
			AutoLimitTokens:        180000,
			AutoMinMessages:        8,
			TranscriptBudgetTokens: 60000,
			Commands:               FlexibleStringSlice{"/compact", "codex-compact"},
		},
		Journal: JournalConfig{
			Enabled:       false,
			Path:          "~/.codexproxy/journal.db",
			RetentionDays: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads the JSON file at path over the defaults, then applies
// CODEXPROXY_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate reports the first setting that cannot be served.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("%w: proxy.port must be between 1 and 65535, got %d", ErrInvalidConfig, c.Proxy.Port)
	}
	if strings.TrimSpace(c.Upstream.APIBase) == "" {
		return fmt.Errorf("%w: upstream.api_base is required", ErrInvalidConfig)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: upstream.timeout_seconds must be non-negative, got %d", ErrInvalidConfig, c.Upstream.TimeoutSeconds)
	}
	if c.Session.MaxEntries < 0 {
		return fmt.Errorf("%w: session.max_entries must be non-negative, got %d", ErrInvalidConfig, c.Session.MaxEntries)
	}
	if c.Session.IdleTTLMinutes < 0 {
		return fmt.Errorf("%w: session.idle_ttl_minutes must be non-negative, got %d", ErrInvalidConfig, c.Session.IdleTTLMinutes)
	}
	if c.Session.PruneSchedule != "" && !gronx.New().IsValid(c.Session.PruneSchedule) {
		return fmt.Errorf("%w: session.prune_schedule %q is not a valid cron expression", ErrInvalidConfig, c.Session.PruneSchedule)
	}
	if c.Compaction.AutoLimitTokens < 0 || c.Compaction.AutoMinMessages < 0 || c.Compaction.TranscriptBudgetTokens < 0 {
		return fmt.Errorf("%w: compaction limits must be non-negative", ErrInvalidConfig)
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return fmt.Errorf("%w: journal.path is required when the journal is enabled", ErrInvalidConfig)
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("%w: journal.retention_days must be non-negative, got %d", ErrInvalidConfig, c.Journal.RetentionDays)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Proxy.Host, c.Proxy.Port)
}

func (c *Config) IdleTTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Session.IdleTTLMinutes) * time.Minute
}

func (c *Config) UpstreamTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

func (c *Config) JournalPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Journal.Path)
}

func (c *Config) JournalRetention() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Journal.RetentionDays) * 24 * time.Hour
}

func (c *Config) TokenFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Upstream.OAuthTokenFile)
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.TrimRight(c.Upstream.APIBase, "/")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
