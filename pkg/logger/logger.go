// Package logger provides component-scoped structured logging on top of log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	base     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

func init() {
	levelVar.Set(slog.LevelInfo)
}

// Configure replaces the output handler. format is "json" or "text".
func Configure(w io.Writer, format string) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	mu.Lock()
	base = slog.New(handler)
	mu.Unlock()
}

func SetLevel(level LogLevel) {
	levelVar.Set(toSlogLevel(level))
}

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(raw string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logCF(level LogLevel, component, message string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	slvl := toSlogLevel(level)
	if !l.Enabled(context.Background(), slvl) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields)+1)
	if component != "" {
		attrs = append(attrs, slog.String("component", component))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	l.LogAttrs(context.Background(), slvl, message, attrs...)
}

func DebugCF(component, message string, fields map[string]interface{}) {
	logCF(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logCF(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logCF(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logCF(ERROR, component, message, fields)
}

func Info(message string) {
	logCF(INFO, "", message, nil)
}

func Warn(message string) {
	logCF(WARN, "", message, nil)
}
