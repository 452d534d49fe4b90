package gormstorage

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/echochamber/arena/internal/database"
	"github.com/echochamber/arena/internal/model"
	"github.com/echochamber/arena/pkg/core"
)

func newSQLiteBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(Dependencies{
		Open:          func() (*gorm.DB, error) { return database.OpenSQLite("", zerolog.Nop()) },
		Logger:        zerolog.Nop(),
		FlushInterval: time.Hour,
	})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func sampleMatch() core.Match {
	return core.Match{
		ID:            "match-1",
		ServerURL:     "ws://localhost:8765",
		LocalPlayerID: "abc",
		StartedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestInit_WithoutDBOrOpener(t *testing.T) {
	b := New(Dependencies{Logger: zerolog.Nop()})
	assert.ErrorIs(t, b.Init(), ErrNotInitialized)
	assert.ErrorIs(t, b.StartMatch(sampleMatch()), ErrNotInitialized)
}

func TestInit_OpenError(t *testing.T) {
	b := New(Dependencies{
		Open:   func() (*gorm.DB, error) { return nil, errors.New("refused") },
		Logger: zerolog.Nop(),
	})
	assert.EqualError(t, b.Init(), "refused")
}

func TestRecordAndFlush(t *testing.T) {
	b := newSQLiteBackend(t)
	require.NoError(t, b.StartMatch(sampleMatch()))

	require.NoError(t, b.RecordPulse(core.PulseEvent{
		PulseID: 1, OwnerID: "abc", Kind: core.PulseFired, Position: core.V3(0, 1.7, 0), Speed: 15,
	}))
	require.NoError(t, b.RecordPulse(core.PulseEvent{
		PulseID: 1, OwnerID: "abc", Kind: core.PulseExhausted, BounceCount: 3,
		Trail: []core.Vec3{core.V3(0, 1.7, 0), core.V3(0, 1.7, 9.5)},
	}))
	require.NoError(t, b.RecordDamage(core.DamageEvent{PulseID: 1, SourceID: "abc", TargetID: "def", Damage: 20}))
	require.NoError(t, b.RecordHealth(core.HealthEvent{PlayerID: "def", Health: 80}))
	require.NoError(t, b.RecordConnection(core.ConnectionEvent{From: "connecting", To: "connected"}))
	assert.Equal(t, 5, b.Pending())

	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.Pending())

	var pulses []model.PulseEvent
	require.NoError(t, b.DB().Order("id").Find(&pulses).Error)
	require.Len(t, pulses, 2)
	assert.Equal(t, "fired", pulses[0].Kind)
	assert.Equal(t, "exhausted", pulses[1].Kind)
	assert.Contains(t, pulses[1].Trail, "LINESTRING Z")
	assert.NotZero(t, pulses[0].MatchID)

	var damage model.DamageEvent
	require.NoError(t, b.DB().First(&damage).Error)
	assert.Equal(t, "def", damage.TargetID)
	assert.Equal(t, pulses[0].MatchID, damage.MatchID)

	var count int64
	require.NoError(t, b.DB().Model(&model.HealthEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, b.DB().Model(&model.ConnectionEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFlush_HoldsRowsUntilMatchStarts(t *testing.T) {
	b := newSQLiteBackend(t)

	require.NoError(t, b.RecordHealth(core.HealthEvent{PlayerID: "abc", Local: true, Health: 100}))
	require.NoError(t, b.Flush())
	assert.Equal(t, 1, b.Pending())

	require.NoError(t, b.StartMatch(sampleMatch()))
	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.Pending())
}

func TestEndMatch_FlushesAndStampsEnd(t *testing.T) {
	b := newSQLiteBackend(t)
	require.NoError(t, b.StartMatch(sampleMatch()))
	require.NoError(t, b.RecordDamage(core.DamageEvent{TargetID: "def", Damage: 20}))

	require.NoError(t, b.EndMatch())
	assert.Equal(t, 0, b.Pending())

	var m model.Match
	require.NoError(t, b.DB().Where("match_uid = ?", "match-1").First(&m).Error)
	require.NotNil(t, m.EndedAt)

	// a second EndMatch without a match is a no-op
	require.NoError(t, b.EndMatch())
}

func TestClose_IsIdempotent(t *testing.T) {
	b := newSQLiteBackend(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}
