// Package influx records match events as InfluxDB points through the
// non-blocking write API. When the server cannot be reached at Init the
// points go to a gzipped line protocol backup file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/echochamber/arena/internal/config"
	"github.com/echochamber/arena/internal/model/convert"
	"github.com/echochamber/arena/pkg/core"
)

const (
	MeasurementPulse      = "pulse_event"
	MeasurementDamage     = "damage_event"
	MeasurementHealth     = "health"
	MeasurementConnection = "connection"
)

// ErrUnavailable is returned by Init when the server is down and no backup
// path is configured.
var ErrUnavailable = errors.New("influxdb unavailable and no backup path configured")

// Backend writes one point per recorded event.
type Backend struct {
	cfg config.InfluxConfig
	log zerolog.Logger

	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	mu        sync.Mutex
	match     core.Match
	backup    *os.File
	backupGz  *gzip.Writer
	pingLimit time.Duration
}

// New creates an InfluxDB backend. No connection is made until Init.
func New(cfg config.InfluxConfig, log zerolog.Logger) *Backend {
	return &Backend{
		cfg:       cfg,
		log:       log.With().Str("backend", "influx").Logger(),
		pingLimit: 5 * time.Second,
	}
}

// Init connects and creates the write API, or opens the backup file when the
// server does not answer a ping.
func (b *Backend) Init() error {
	b.client = influxdb2.NewClientWithOptions(
		b.cfg.URL(),
		b.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), b.pingLimit)
	defer cancel()
	running, err := b.client.Ping(ctx)
	if err == nil && running {
		b.writer = b.client.WriteAPI(b.cfg.Org, b.cfg.Bucket)
		errorsCh := b.writer.Errors()
		go func() {
			for writeErr := range errorsCh {
				b.log.Error().Err(writeErr).Str("bucket", b.cfg.Bucket).Msg("Error sending data to InfluxDB")
			}
		}()
		b.log.Info().Str("url", b.cfg.URL()).Msg("InfluxDB client initialized")
		return nil
	}

	b.client.Close()
	b.client = nil
	if b.cfg.BackupPath == "" {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	file, ferr := os.OpenFile(b.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if ferr != nil {
		return fmt.Errorf("error creating backup file: %w", ferr)
	}
	b.backup = file
	b.backupGz = gzip.NewWriter(file)
	b.log.Warn().Str("backupPath", b.cfg.BackupPath).Msg("InfluxDB unreachable, writing to backup file")
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		b.writer.Flush()
		b.client.Close()
		b.client = nil
	}
	if b.backupGz != nil {
		gzErr := b.backupGz.Close()
		fErr := b.backup.Close()
		b.backupGz, b.backup = nil, nil
		return errors.Join(gzErr, fErr)
	}
	return nil
}

// StartMatch sets the match tag for subsequent points.
func (b *Backend) StartMatch(m core.Match) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.match = m
	return nil
}

// EndMatch flushes buffered points.
func (b *Backend) EndMatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writer != nil && b.client != nil {
		b.writer.Flush()
	}
	if b.backupGz != nil {
		if err := b.backupGz.Flush(); err != nil {
			return fmt.Errorf("flush backup: %w", err)
		}
	}
	b.match = core.Match{}
	return nil
}

func (b *Backend) RecordPulse(e core.PulseEvent) error {
	return b.write(PulsePoint(b.matchID(), e))
}

func (b *Backend) RecordDamage(e core.DamageEvent) error {
	return b.write(DamagePoint(b.matchID(), e))
}

func (b *Backend) RecordHealth(e core.HealthEvent) error {
	return b.write(HealthPoint(b.matchID(), e))
}

func (b *Backend) RecordConnection(e core.ConnectionEvent) error {
	return b.write(ConnectionPoint(b.matchID(), e))
}

func (b *Backend) matchID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.match.ID
}

// write sends a point to InfluxDB or appends it to the backup file.
func (b *Backend) write(p *influxdb2_write.Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		b.writer.WritePoint(p)
		return nil
	}
	if b.backupGz == nil {
		return errors.New("influxdb backend not initialized")
	}
	line := strings.TrimRight(influxdb2_write.PointToLineProtocol(p, time.Nanosecond), "\n") + "\n"
	if _, err := b.backupGz.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// tags adds non-empty tag pairs; line protocol has no empty tag values.
func tags(p *influxdb2_write.Point, kv ...string) *influxdb2_write.Point {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			p.AddTag(kv[i], kv[i+1])
		}
	}
	return p
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// PulsePoint builds the point for a pulse event.
func PulsePoint(matchID string, e core.PulseEvent) *influxdb2_write.Point {
	p := tags(influxdb2_write.NewPointWithMeasurement(MeasurementPulse),
		"match", matchID, "owner", e.OwnerID, "kind", string(e.Kind),
		"remote", fmt.Sprint(e.Remote), "material", e.Material).
		AddField("pulse_id", int64(e.PulseID)).
		AddField("x", e.Position.X).
		AddField("y", e.Position.Y).
		AddField("z", e.Position.Z).
		AddField("speed", e.Speed).
		AddField("bounces", e.BounceCount).
		AddField("multiplier", e.DamageMultiplier).
		AddField("damage", e.Damage).
		SetTime(timeOrNow(e.Time))
	if len(e.Trail) > 1 {
		p.AddField("trail_length", convert.TrailLength(e.Trail))
	}
	return p
}

// DamagePoint builds the point for a damage report.
func DamagePoint(matchID string, e core.DamageEvent) *influxdb2_write.Point {
	return tags(influxdb2_write.NewPointWithMeasurement(MeasurementDamage),
		"match", matchID, "source", e.SourceID, "target", e.TargetID).
		AddField("pulse_id", int64(e.PulseID)).
		AddField("damage", e.Damage).
		SetTime(timeOrNow(e.Time))
}

// HealthPoint builds the point for a health update.
func HealthPoint(matchID string, e core.HealthEvent) *influxdb2_write.Point {
	return tags(influxdb2_write.NewPointWithMeasurement(MeasurementHealth),
		"match", matchID, "player", e.PlayerID, "local", fmt.Sprint(e.Local)).
		AddField("health", e.Health).
		SetTime(timeOrNow(e.Time))
}

// ConnectionPoint builds the point for a session transition.
func ConnectionPoint(matchID string, e core.ConnectionEvent) *influxdb2_write.Point {
	p := tags(influxdb2_write.NewPointWithMeasurement(MeasurementConnection),
		"match", matchID, "from", e.From, "to", e.To).
		AddField("attempt", e.Attempt).
		SetTime(timeOrNow(e.Time))
	if e.Reason != "" {
		p.AddField("reason", e.Reason)
	}
	return p
}
