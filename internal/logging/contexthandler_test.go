package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHandler_AddsDynamicAttrs(t *testing.T) {
	var buf bytes.Buffer
	state := "connecting"
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("state", state)}
	})
	logger := slog.New(h)

	logger.Info("one")
	state = "connected"
	logger.Info("two")

	assert.Contains(t, buf.String(), "msg=one state=connecting")
	assert.Contains(t, buf.String(), "msg=two state=connected")
}

func TestContextHandler_WithAttrsKeepsProvider(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.Int("tick", 7)}
	})

	slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "game")})).Info("x")

	assert.Contains(t, buf.String(), "component=game")
	assert.Contains(t, buf.String(), "tick=7")
	assert.Equal(t, h, h.WithGroup(""))
}
