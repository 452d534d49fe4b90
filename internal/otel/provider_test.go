package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gotel "go.opentelemetry.io/otel"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NotNil(t, p.Meter("test"))
}

func TestNew_EnabledWithoutExporter(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true, ServiceName: "echo-client"})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_FileExporter(t *testing.T) {
	prev := gotel.GetMeterProvider()
	t.Cleanup(func() { gotel.SetMeterProvider(prev) })

	var buf bytes.Buffer
	p, err := New(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "echo-client",
		ServiceVersion: "1.0.0",
		BatchTimeout:   time.Second,
		LogWriter:      &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	counter, err := p.Meter("test").Int64Counter("session.messages.sent")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	assert.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "session.messages.sent")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EndpointOnly(t *testing.T) {
	p, err := New(context.Background(), Config{
		Enabled:     true,
		ServiceName: "echo-client",
		Endpoint:    "127.0.0.1:4318",
		Insecure:    true,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Shutdown(ctx)
}
