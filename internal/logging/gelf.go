package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// GelfHandler is a slog.Handler that ships records to Graylog over UDP.
type GelfHandler struct {
	w        *gelf.Writer
	host     string
	facility string
	level    slog.Leveler
	attrs    []slog.Attr
	group    string
}

// NewGelfHandler dials addr (host:port) and returns a handler that sends
// records at or above level.
func NewGelfHandler(addr, facility string, level string) (*GelfHandler, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create GELF writer: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &GelfHandler{
		w:        w,
		host:     host,
		facility: facility,
		level:    parseLevel(level),
	}, nil
}

// Enabled reports whether level reaches the configured threshold.
func (h *GelfHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle converts the record to a GELF message. Attributes become
// additional fields.
func (h *GelfHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		extra[gelfKey(a.Key)] = gelfValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		extra[gelfKey(key)] = gelfValue(a.Value)
		return true
	})

	msg := &gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(r.Time.UnixNano()) / 1e9,
		Level:    syslogLevel(r.Level),
		Facility: h.facility,
		Extra:    extra,
	}
	return h.w.WriteMessage(msg)
}

// WithAttrs returns a handler that adds attrs to every message.
func (h *GelfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup prefixes subsequent attribute keys with name.
func (h *GelfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// Close closes the UDP connection.
func (h *GelfHandler) Close() error {
	return h.w.Close()
}

// gelfKey prefixes additional fields with an underscore. GELF reserves _id.
func gelfKey(k string) string {
	if k == "id" {
		k = "id_"
	}
	return "_" + k
}

func gelfValue(v slog.Value) any {
	a := v.Resolve().Any()
	if err, ok := a.(error); ok {
		return err.Error()
	}
	if d, ok := a.(time.Duration); ok {
		return d.String()
	}
	return a
}

// syslogLevel maps slog levels onto syslog severities.
func syslogLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 4
	case l >= slog.LevelInfo:
		return 6
	default:
		return 7
	}
}
