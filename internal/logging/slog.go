package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// stdout is the console sink used when no log file is configured.
var stdout io.Writer = os.Stdout

// SlogManager manages slog-based logging with optional OTel and GELF output.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	// optional GELF sink, see SetGraylog
	graylog io.Writer

	provider ContextProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetGraylog registers a GELF writer that receives JSON-encoded records.
// It takes effect on the next Setup call.
func (m *SlogManager) SetGraylog(w io.Writer) {
	m.graylog = w
}

// SetContextProvider registers a provider whose attributes are added to
// every record. It takes effect on the next Setup call.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.provider = p
}

// Setup initializes the logging system with file and optional OTel output.
// Console output is used only when no file is given.
// If provider is nil, OTel logging is disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stdout, handlerOpts))
	}

	if m.graylog != nil {
		handlers = append(handlers, slog.NewJSONHandler(m.graylog, handlerOpts))
	}

	if provider != nil {
		handlers = append(handlers, otelslog.NewHandler("posecontrol", otelslog.WithLoggerProvider(provider)))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if m.provider != nil {
		h = NewContextHandler(h, m.provider)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
