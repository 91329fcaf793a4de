// codexproxy - session-continuity and compaction proxy for the Responses API

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dotsetgreg/codexproxy/pkg/config"
	"github.com/dotsetgreg/codexproxy/pkg/logger"
	"github.com/dotsetgreg/codexproxy/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "codexproxy"

// configPathFlag is set by the root --config flag.
var configPathFlag string

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if p := strings.TrimSpace(configPathFlag); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codexproxy", "config.json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error in %s: %w", getConfigPath(), err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, debug bool) {
	logger.Configure(os.Stderr, cfg.Log.Format)
	level := logger.ParseLevel(cfg.Log.Level)
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
}

func onboard(in io.Reader, out io.Writer) error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config already exists at %s\n", configPath)
		fmt.Fprint(out, "Overwrite? (y/n): ")
		reader := bufio.NewReader(in)
		response, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			fmt.Fprintln(out, "Aborted.")
			return fmt.Errorf("read input: %w", readErr)
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(out, "%s is ready!\n", appName)
	fmt.Fprintf(out, "  Config: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set one upstream credential in the config:")
	fmt.Fprintln(out, "     upstream.api_key, upstream.oauth_token_file (e.g. ~/.codex/auth.json)")
	fmt.Fprintln(out, "     or upstream.passthrough_auth")
	fmt.Fprintf(out, "  2. Start the proxy: %s serve\n", appName)
	fmt.Fprintf(out, "  3. Point your client at http://%s/v1\n", cfg.ListenAddr())
	return nil
}

func statusCmd(out io.Writer) error {
	configPath := getConfigPath()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	if build, _ := formatBuildInfo(); build != "" {
		fmt.Fprintf(out, "Build: %s\n", build)
	}
	fmt.Fprintln(out)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintln(out, "Config:", configPath, "✓")
	} else {
		fmt.Fprintln(out, "Config:", configPath, "✗")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(out, "Config valid: ✗", err)
	} else {
		fmt.Fprintln(out, "Config valid: ✓")
	}

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "off"
	}

	fmt.Fprintln(out, "Listen:", cfg.ListenAddr())
	fmt.Fprintln(out, "Upstream:", cfg.GetAPIBase())
	if ok, mode := providers.CredentialStatus(cfg); ok {
		fmt.Fprintf(out, "Credentials: %s ✓\n", mode)
	} else if mode != "" {
		fmt.Fprintf(out, "Credentials: %s ✗\n", mode)
	} else {
		fmt.Fprintln(out, "Credentials: not set")
	}
	fmt.Fprintln(out, "Sessions:", status(cfg.Session.Enabled))
	fmt.Fprintln(out, "Auto-compaction:", status(cfg.Compaction.Enabled))

	if !cfg.Journal.Enabled {
		fmt.Fprintln(out, "Journal: off")
		return nil
	}
	journalPath := cfg.JournalPath()
	if _, err := os.Stat(journalPath); err == nil {
		fmt.Fprintln(out, "Journal:", journalPath, "✓")
	} else {
		fmt.Fprintln(out, "Journal:", journalPath, "not initialized")
	}
	return nil
}
