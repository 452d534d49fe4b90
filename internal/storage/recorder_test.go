package storage_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echochamber/arena/internal/storage"
	"github.com/echochamber/arena/pkg/core"
)

var (
	testMatch  = core.Match{ID: "m-1", LocalPlayerID: "abc"}
	testDamage = core.DamageEvent{SourceID: "abc", TargetID: "def", Damage: 20}
)

type fakeBackend struct {
	storage.Discard
	calls   []string
	failOn  string
	panicOn string
	closed  bool
}

func (f *fakeBackend) do(op string) error {
	f.calls = append(f.calls, op)
	if f.panicOn == op {
		panic("backend exploded")
	}
	if f.failOn == op {
		return errors.New(op + " failed")
	}
	return nil
}

func (f *fakeBackend) StartMatch(core.Match) error         { return f.do("start") }
func (f *fakeBackend) EndMatch() error                     { return f.do("end") }
func (f *fakeBackend) RecordPulse(core.PulseEvent) error   { return f.do("pulse") }
func (f *fakeBackend) RecordDamage(core.DamageEvent) error { return f.do("damage") }
func (f *fakeBackend) RecordHealth(core.HealthEvent) error { return f.do("health") }
func (f *fakeBackend) RecordConnection(core.ConnectionEvent) error {
	return f.do("connection")
}
func (f *fakeBackend) Close() error {
	f.closed = true
	return f.do("close")
}

func newLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestRecorder_ForwardsCalls(t *testing.T) {
	fb := &fakeBackend{}
	log, _ := newLogger()
	rec := storage.NewRecorder(fb, log)

	rec.StartMatch(testMatch)
	assert.True(t, rec.Started())
	rec.Pulse(core.PulseEvent{Kind: core.PulseFired})
	rec.Damage(testDamage)
	rec.Health(core.HealthEvent{PlayerID: "abc", Health: 80})
	rec.Connection(core.ConnectionEvent{From: "connecting", To: "connected"})
	require.NoError(t, rec.Close())

	assert.Equal(t, []string{"start", "pulse", "damage", "health", "connection", "end", "close"}, fb.calls)
	assert.True(t, fb.closed)
	assert.False(t, rec.Started())
}

func TestRecorder_ErrorsAreLogged(t *testing.T) {
	fb := &fakeBackend{failOn: "damage"}
	log, buf := newLogger()
	rec := storage.NewRecorder(fb, log)

	rec.Damage(testDamage)

	assert.Contains(t, buf.String(), "recorder call failed")
	assert.Contains(t, buf.String(), "op=damage")
	assert.Contains(t, buf.String(), "damage failed")
}

func TestRecorder_PanicsAreRecovered(t *testing.T) {
	fb := &fakeBackend{panicOn: "pulse"}
	log, buf := newLogger()
	rec := storage.NewRecorder(fb, log)

	assert.NotPanics(t, func() { rec.Pulse(core.PulseEvent{}) })
	assert.Contains(t, buf.String(), "backend exploded")
}

func TestRecorder_FailedStartIsNotOpen(t *testing.T) {
	fb := &fakeBackend{failOn: "start"}
	log, _ := newLogger()
	rec := storage.NewRecorder(fb, log)

	rec.StartMatch(testMatch)
	assert.False(t, rec.Started())

	rec.EndMatch()
	assert.Equal(t, []string{"start"}, fb.calls)
}

func TestRecorder_StartEndsOpenMatch(t *testing.T) {
	fb := &fakeBackend{}
	log, _ := newLogger()
	rec := storage.NewRecorder(fb, log)

	rec.StartMatch(testMatch)
	rec.StartMatch(core.Match{ID: "m-2"})

	assert.Equal(t, []string{"start", "end", "start"}, fb.calls)
}

func TestRecorder_CloseReturnsBackendError(t *testing.T) {
	fb := &fakeBackend{failOn: "close"}
	log, _ := newLogger()
	rec := storage.NewRecorder(fb, log)

	assert.EqualError(t, rec.Close(), "close failed")
}

func TestRecorder_NilBackend(t *testing.T) {
	rec := storage.NewRecorder(nil, nil)
	assert.IsType(t, storage.Discard{}, rec.Backend())
	assert.NotPanics(t, func() {
		rec.StartMatch(testMatch)
		rec.Damage(testDamage)
		_ = rec.Close()
	})
}
