package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// MultiHandler fans records out to the console or file handler, the OTel
// bridge and Graylog.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler drops nil entries, so optional outputs can be passed as is.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	handlers = slices.DeleteFunc(slices.Clone(handlers), func(h slog.Handler) bool { return h == nil })
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(m.handlers, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

// Handle delivers to every output that accepts the level and joins the
// errors of those that failed.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			err = errors.Join(err, h.Handle(ctx, r.Clone()))
		}
	}
	return err
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	return m.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	out := &MultiHandler{handlers: make([]slog.Handler, 0, len(m.handlers))}
	for _, h := range m.handlers {
		out.handlers = append(out.handlers, fn(h))
	}
	return out
}
