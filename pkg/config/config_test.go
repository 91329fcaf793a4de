package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// TestDefaultConfig_Proxy verifies listen defaults
func TestDefaultConfig_Proxy(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Proxy.Host != "127.0.0.1" {
		t.Error("Proxy host should default to loopback")
	}
	if cfg.Proxy.Port == 0 {
		t.Error("Proxy port should have default value")
	}
	if got := cfg.ListenAddr(); got != "127.0.0.1:18791" {
		t.Errorf("ListenAddr() = %q, want %q", got, "127.0.0.1:18791")
	}
}

// TestDefaultConfig_Session verifies store bounds match the engine defaults
func TestDefaultConfig_Session(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Session.Enabled {
		t.Error("Sessions should be enabled by default")
	}
	if cfg.Session.MaxEntries != 100 {
		t.Errorf("MaxEntries = %d, want 100", cfg.Session.MaxEntries)
	}
	if cfg.IdleTTL() != 30*time.Minute {
		t.Errorf("IdleTTL() = %v, want 30m", cfg.IdleTTL())
	}
	if len(cfg.Session.VolatileTags) == 0 {
		t.Error("Volatile tags should have defaults")
	}
}

// TestDefaultConfig_Compaction verifies compaction defaults
func TestDefaultConfig_Compaction(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Compaction.AutoLimitTokens == 0 {
		t.Error("AutoLimitTokens should not be zero")
	}
	if cfg.Compaction.TranscriptBudgetTokens >= cfg.Compaction.AutoLimitTokens {
		t.Error("TranscriptBudgetTokens should be below AutoLimitTokens")
	}
	if len(cfg.Compaction.Commands) != 2 {
		t.Errorf("expected 2 default commands, got %v", cfg.Compaction.Commands)
	}
}

// TestDefaultConfig_UpstreamCredentials verifies credentials are empty by default
func TestDefaultConfig_UpstreamCredentials(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Upstream.APIKey != "" {
		t.Error("API key should be empty by default")
	}
	if cfg.Upstream.OAuthTokenFile != "" {
		t.Error("OAuth token file should be empty by default")
	}
	if cfg.Journal.Enabled {
		t.Error("Journal should be disabled by default")
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"port":           func(c *Config) { c.Proxy.Port = 0 },
		"api base":       func(c *Config) { c.Upstream.APIBase = " " },
		"prune schedule": func(c *Config) { c.Session.PruneSchedule = "every five minutes" },
		"negative ttl":   func(c *Config) { c.Session.IdleTTLMinutes = -1 },
		"journal path":   func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
		"compaction":     func(c *Config) { c.Compaction.AutoMinMessages = -3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Proxy.Port = 9999
	cfg.Session.VolatileTags = FlexibleStringSlice{"environment_context"}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Proxy.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", loaded.Proxy.Port)
	}
	if len(loaded.Session.VolatileTags) != 1 {
		t.Fatalf("expected saved volatile tags, got %v", loaded.Session.VolatileTags)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"compaction":{"auto_limit_tokens":5000}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Compaction.AutoLimitTokens != 5000 {
		t.Fatalf("expected file value 5000, got %d", cfg.Compaction.AutoLimitTokens)
	}
	if cfg.Compaction.AutoMinMessages != 8 {
		t.Fatalf("expected default min messages, got %d", cfg.Compaction.AutoMinMessages)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"proxy":`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("CODEXPROXY_UPSTREAM_API_BASE", "https://chatgpt.example/backend-api/codex")
	t.Setenv("CODEXPROXY_SESSION_MAX_ENTRIES", "7")
	t.Setenv("CODEXPROXY_COMPACTION_ENABLED", "false")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.GetAPIBase(); got != "https://chatgpt.example/backend-api/codex" {
		t.Fatalf("expected env override api base, got %q", got)
	}
	if cfg.Session.MaxEntries != 7 {
		t.Fatalf("expected env override max entries, got %d", cfg.Session.MaxEntries)
	}
	if cfg.Compaction.Enabled {
		t.Fatal("expected env to disable compaction")
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"log":{"level":"debug"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CODEXPROXY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected env to win over file, got %q", cfg.Log.Level)
	}
}

func TestFlexibleStringSlice_UnmarshalJSON(t *testing.T) {
	cases := map[string][]string{
		`["a","b"]`:  {"a", "b"},
		`["a", 12]`:  {"a", "12"},
		`"a, b ,,c"`: {"a", "b", "c"},
		`[]`:         {},
	}
	for input, want := range cases {
		var got FlexibleStringSlice
		if err := json.Unmarshal([]byte(input), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", input, err)
		}
		if len(got) != len(want) {
			t.Fatalf("unmarshal %s = %v, want %v", input, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("unmarshal %s = %v, want %v", input, got, want)
			}
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/.codexproxy/journal.db"); got != filepath.Join(home, ".codexproxy", "journal.db") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute paths should be unchanged, got %q", got)
	}
}
