package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/logger"
	"github.com/dotsetgreg/codexproxy/pkg/providers"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand(true)
	return root.Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "codexproxy",
		Short: "Session-continuity and compaction proxy for the OpenAI Responses API",
		Long: strings.TrimSpace(`codexproxy sits between a Codex-style client and the Responses API.

It gives every conversation a stable prompt_cache_key, forces stateless
requests, regenerates the cache identity when history is edited, and
compacts long conversations into a summary on request or automatically.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&configPathFlag, "config", "", "Config file path (default ~/.codexproxy/config.json)")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newMetricsCommand())
	root.AddCommand(newJournalCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		root.AddCommand(newDocsCommand(func() *cobra.Command { return buildRootCommand(false) }))
	}

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default ~/.codexproxy/config.json",
		Long:    "Create the default configuration file for a new codexproxy installation.",
		Example: "  codexproxy onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		Long: strings.TrimSpace(`Start the HTTP proxy. Responses API requests to /v1/responses are
rewritten for cache continuity and compaction; every other path is
forwarded upstream unchanged. GET /sessions reports tracked lineages.`),
		Example: strings.TrimSpace(`
  codexproxy serve
  codexproxy serve --debug
  CODEXPROXY_PROXY_PORT=9000 codexproxy serve`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg, debug)

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			_, mode := providers.CredentialStatus(cfg)
			fmt.Fprintf(out, "✓ Proxy listening on http://%s/v1 (upstream %s, auth %s)\n", cfg.ListenAddr(), cfg.GetAPIBase(), mode)
			fmt.Fprintln(out, "Press Ctrl+C to stop")

			if err := e.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "\n✓ Proxy stopped")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		message      string
		conversation string
		fork         string
		model        string
		baseURL      string
		stream       bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a model through a running proxy",
		Long: strings.TrimSpace(`Send Responses API turns through a running codexproxy. The full history is
resent every turn, so the proxy's cache continuity and compaction apply.
Type /compact to summarize the conversation so far.`),
		Example: strings.TrimSpace(`
  codexproxy chat
  codexproxy chat -m "Hello"
  codexproxy chat --conversation work --fork experiment`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg, false)

			if strings.TrimSpace(baseURL) == "" {
				baseURL = "http://" + cfg.ListenAddr() + "/v1"
			}
			if strings.TrimSpace(conversation) == "" {
				conversation = "cli-" + uuid.NewString()
			}
			client, err := providers.NewClient(providers.ClientOptions{
				BaseURL: baseURL,
				Timeout: cfg.UpstreamTimeout(),
			})
			if err != nil {
				return err
			}

			session := &chatSession{
				client:       client,
				model:        model,
				conversation: conversation,
				fork:         fork,
				stream:       stream,
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if message != "" {
				result, err := session.Send(ctx, message)
				if err != nil {
					return err
				}
				session.printResult(out, result)
				return nil
			}

			fmt.Fprintf(out, "%s Interactive mode, conversation %s (Ctrl+C to exit)\n\n", appName, conversation)
			interactiveMode(ctx, session, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and exit")
	cmd.Flags().StringVar(&conversation, "conversation", "", "Conversation id sent as metadata.conversation_id (default: random)")
	cmd.Flags().StringVar(&fork, "fork", "", "Fork id within the conversation")
	cmd.Flags().StringVar(&model, "model", "gpt-5-codex", "Model name")
	cmd.Flags().StringVar(&baseURL, "url", "", "Proxy API root (default http://<proxy.host>:<proxy.port>/v1)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Request a streamed reply")
	return cmd
}

func newMetricsCommand() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:     "metrics",
		Short:   "Show tracked lineages of a running proxy",
		Example: "  codexproxy metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(baseURL) == "" {
				baseURL = "http://" + cfg.ListenAddr()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			m, err := fetchMetrics(ctx, baseURL)
			if err != nil {
				return err
			}
			printMetrics(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Proxy root URL (default http://<proxy.host>:<proxy.port>)")
	return cmd
}

func newJournalCommand() *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the compaction and lineage journal",
		Example: strings.TrimSpace(`
  codexproxy journal list
  codexproxy journal list --session conv-1 --limit 50
  codexproxy journal show conv-1
  codexproxy journal purge --days 7`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		sessionKey string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			j, err := openExistingJournal(cfg.JournalPath())
			if err != nil {
				return err
			}
			defer j.Close()

			events, err := j.ListRecent(cmd.Context(), sessionKey, limit)
			if err != nil {
				return err
			}
			printJournalEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}
	list.Flags().StringVar(&sessionKey, "session", "", "Only events for this lineage key")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum events to show")

	show := &cobra.Command{
		Use:   "show <session-key>",
		Short: "Print the latest compaction summary for a lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			j, err := openExistingJournal(cfg.JournalPath())
			if err != nil {
				return err
			}
			defer j.Close()

			c, ok, err := j.LatestCompaction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "No compaction recorded for %s\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "Session: %s\n", c.SessionKey)
			fmt.Fprintf(out, "Compacted: %s (%s)\n", c.CreatedAt.Local().Format(time.DateTime), c.Mode)
			fmt.Fprintf(out, "Turns: %d total, %d dropped\n", c.TotalTurns, c.DroppedTurns)
			if c.Reason != "" {
				fmt.Fprintf(out, "Reason: %s\n", c.Reason)
			}
			fmt.Fprintf(out, "\n%s\n", c.Summary)
			return nil
		},
	}

	var days int
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete journal events older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			retention := cfg.JournalRetention()
			if days > 0 {
				retention = time.Duration(days) * 24 * time.Hour
			}
			if retention <= 0 {
				return fmt.Errorf("no retention window: set journal.retention_days or --days")
			}
			j, err := openExistingJournal(cfg.JournalPath())
			if err != nil {
				return err
			}
			defer j.Close()

			n, err := j.PurgeBefore(cmd.Context(), time.Now().Add(-retention))
			if err != nil {
				return err
			}
			logger.InfoCF("journal", "Purged old events", map[string]interface{}{"count": n})
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Purged %d events\n", n)
			return nil
		},
	}
	purge.Flags().IntVar(&days, "days", 0, "Override journal.retention_days")

	journalCmd.AddCommand(list, show, purge)
	return journalCmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show config, credential and journal status",
		Example: "  codexproxy status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd(cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Example: "  codexproxy version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
