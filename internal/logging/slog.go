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

// osStdout is the console sink; tests swap it for a pipe.
var osStdout io.Writer = os.Stdout

// Options selects the outputs wired by SlogManager.Setup.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// File receives text logs. When nil, logs go to stdout instead.
	File io.Writer
	// Provider enables the otelslog bridge when non-nil.
	Provider *sdklog.LoggerProvider
	// Graylog ships records over GELF when non-nil.
	Graylog *GelfHandler
	// Context adds dynamic attributes (player id, session state) to every record.
	Context ContextProvider
}

// SlogManager manages slog-based logging with optional OTel and Graylog outputs.
type SlogManager struct {
	service string
	logger  *slog.Logger

	logProvider *sdklog.LoggerProvider
	graylog     *GelfHandler
}

// NewSlogManager creates a logging manager for the named program.
func NewSlogManager(service string) *SlogManager {
	return &SlogManager{service: service}
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

// Setup builds the logger. Calling it again replaces the previous outputs.
func (m *SlogManager) Setup(opts Options) {
	lvl := parseLevel(opts.Level)
	m.logProvider = opts.Provider
	m.graylog = opts.Graylog

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
	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}

	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(m.service, otelslog.WithLoggerProvider(opts.Provider)))
	}

	if opts.Graylog != nil {
		handlers = append(handlers, opts.Graylog)
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}

	m.logger = slog.New(h).With("service", m.service)
	m.logger.Info("Logging initialized", "level", lvl.String())
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
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

// Close releases the Graylog connection, if any.
func (m *SlogManager) Close() error {
	if m.graylog != nil {
		return m.graylog.Close()
	}
	return nil
}
