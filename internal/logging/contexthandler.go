package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes that change over the process lifetime,
// such as the relay-assigned player id or the session state.
type ContextProvider func() []slog.Attr

// ContextHandler asks its provider for fresh attributes on every record.
// Empty string values are left out so an unregistered client does not log
// player="".
type ContextHandler struct {
	slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{Handler: inner, provider: provider}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.dynamic()...)
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) dynamic() []slog.Attr {
	if h.provider == nil {
		return nil
	}
	attrs := h.provider()
	kept := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{Handler: h.Handler.WithGroup(name), provider: h.provider}
}
