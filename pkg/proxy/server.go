// Package proxy is the HTTP host for the session and compaction engine. It
// reshapes Responses API requests, forwards them upstream and post-processes
// the replies.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/codexproxy/pkg/compaction"
	"github.com/dotsetgreg/codexproxy/pkg/journal"
	"github.com/dotsetgreg/codexproxy/pkg/logger"
	"github.com/dotsetgreg/codexproxy/pkg/providers"
	"github.com/dotsetgreg/codexproxy/pkg/session"
)

const maxRequestBodySize = 64 << 20

// CompactionJournal receives finalized compactions. *journal.Journal
// satisfies it.
type CompactionJournal interface {
	RecordCompaction(ctx context.Context, c journal.Compaction) (string, error)
}

type Options struct {
	// Upstream is the API root, e.g. https://api.openai.com/v1.
	Upstream *url.URL
	Auth     providers.AuthStrategy
	// Transport defaults to http.DefaultTransport.
	Transport    http.RoundTripper
	Sessions     *session.Manager
	Compaction   compaction.Settings
	Commands     []string
	Journal      CompactionJournal
	MetricsLimit int
}

// Server is an http.Handler that proxies the Responses API.
type Server struct {
	upstream     *url.URL
	auth         providers.AuthStrategy
	sessions     *session.Manager
	compaction   compaction.Settings
	commands     []string
	journal      CompactionJournal
	metricsLimit int
	proxy        *httputil.ReverseProxy
	mux          *http.ServeMux
}

func New(opts Options) (*Server, error) {
	if opts.Upstream == nil || opts.Upstream.Host == "" {
		return nil, fmt.Errorf("upstream URL is required")
	}
	settings := opts.Compaction
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	commands := opts.Commands
	if len(commands) == 0 {
		commands = compaction.DefaultCommands
	}
	if opts.MetricsLimit <= 0 {
		opts.MetricsLimit = session.DefaultMetricsLimit
	}

	s := &Server{
		upstream:     opts.Upstream,
		auth:         opts.Auth,
		sessions:     opts.Sessions,
		compaction:   settings,
		commands:     commands,
		journal:      opts.Journal,
		metricsLimit: opts.MetricsLimit,
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite:        s.rewrite,
		Transport:      opts.Transport,
		ModifyResponse: s.modifyResponse,
		ErrorHandler:   s.proxyError,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/responses", s.handleResponses)
	mux.HandleFunc("/responses", s.handleResponses)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handlePassthrough)
	s.mux = mux
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("proxy", "Listening", map[string]interface{}{
			"addr":     addr,
			"upstream": s.upstream.String(),
		})
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("proxy listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("proxy shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	if !s.applyAuth(w, r) {
		return
	}
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Metrics(s.metricsLimit))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"time":     time.Now().Format(time.RFC3339),
		"sessions": s.sessions.Enabled(),
	})
}

// rewrite maps /v1/<path> and /<path> onto the upstream root.
func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	suffix := strings.TrimPrefix(pr.In.URL.Path, "/v1")
	if suffix == "" {
		suffix = "/"
	}
	target := *s.upstream
	target.Path = strings.TrimRight(s.upstream.Path, "/") + suffix
	target.RawPath = ""
	target.RawQuery = pr.In.URL.RawQuery

	pr.Out.URL = &target
	pr.Out.Host = target.Host
	pr.Out.Header.Del("Accept-Encoding")
}

// applyAuth replaces the caller's credentials with the upstream ones. It
// writes an error response and returns false when auth cannot be resolved.
func (s *Server) applyAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.auth == nil {
		return true
	}
	if s.auth.Mode() != providers.AuthModePassthrough {
		r.Header.Del("Authorization")
	}
	if err := s.auth.Apply(r.Context(), r); err != nil {
		logger.ErrorCF("proxy", "Upstream auth failed", map[string]interface{}{
			"mode":  s.auth.Mode(),
			"error": err.Error(),
		})
		writeError(w, "upstream credentials unavailable", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, context.Canceled) {
		status = 499
	}
	logger.WarnCF("proxy", "Upstream request failed", map[string]interface{}{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	writeError(w, "upstream request failed", status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "proxy_error"},
	})
}
