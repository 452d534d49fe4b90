package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/echochamber/arena/internal/model/convert"
	"github.com/echochamber/arena/pkg/core"
)

// ExportVersion is bumped whenever the file layout changes.
const ExportVersion = 1

// MatchExport is the root of an exported match file.
type MatchExport struct {
	Version       int              `json:"version"`
	MatchID       string           `json:"matchId"`
	ServerURL     string           `json:"serverUrl"`
	LocalPlayerID string           `json:"localPlayerId"`
	StartedAt     time.Time        `json:"startedAt"`
	EndedAt       time.Time        `json:"endedAt"`
	Summary       Summary          `json:"summary"`
	Pulses        []PulseJSON      `json:"pulses"`
	Damage        []DamageJSON     `json:"damage"`
	Health        []HealthJSON     `json:"health"`
	Connections   []ConnectionJSON `json:"connections"`
}

// Summary aggregates the match for quick review.
type Summary struct {
	DurationSeconds float64 `json:"durationSeconds"`
	PulsesFired     int     `json:"pulsesFired"`
	RemotePulses    int     `json:"remotePulses"`
	Bounces         int     `json:"bounces"`
	Hits            int     `json:"hits"`
	DamageDealt     float64 `json:"damageDealt"`
	MaxMultiplier   float64 `json:"maxMultiplier"`
	Reconnects      int     `json:"reconnects"`
	TrailDistance   float64 `json:"trailDistance"`
}

type PulseJSON struct {
	Time       time.Time `json:"time"`
	PulseID    uint64    `json:"pulseId"`
	OwnerID    string    `json:"ownerId"`
	Remote     bool      `json:"remote"`
	Kind       string    `json:"kind"`
	Position   core.Vec3 `json:"position"`
	Direction  core.Vec3 `json:"direction"`
	Speed      float64   `json:"speed"`
	Bounces    int       `json:"bounces"`
	Multiplier float64   `json:"multiplier"`
	Damage     float64   `json:"damage"`
	Material   string    `json:"material,omitempty"`
	Trail      string    `json:"trail,omitempty"` // WKT LINESTRING Z
}

type DamageJSON struct {
	Time     time.Time `json:"time"`
	PulseID  uint64    `json:"pulseId"`
	SourceID string    `json:"sourceId"`
	TargetID string    `json:"targetId"`
	Damage   float64   `json:"damage"`
}

type HealthJSON struct {
	Time     time.Time `json:"time"`
	PlayerID string    `json:"playerId"`
	Local    bool      `json:"local"`
	Health   float64   `json:"health"`
}

type ConnectionJSON struct {
	Time    time.Time `json:"time"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Attempt int       `json:"attempt,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func (b *Backend) buildExport() MatchExport {
	m := b.match
	export := MatchExport{
		Version:       ExportVersion,
		MatchID:       m.ID,
		ServerURL:     m.ServerURL,
		LocalPlayerID: m.LocalPlayerID,
		StartedAt:     m.StartedAt,
		EndedAt:       m.EndedAt,
		Pulses:        make([]PulseJSON, 0),
		Damage:        make([]DamageJSON, 0),
		Health:        make([]HealthJSON, 0),
		Connections:   make([]ConnectionJSON, 0),
	}
	if !m.EndedAt.Before(m.StartedAt) {
		export.Summary.DurationSeconds = m.EndedAt.Sub(m.StartedAt).Seconds()
	}

	for _, e := range b.pulses.Drain() {
		export.Pulses = append(export.Pulses, PulseJSON{
			Time:       e.Time,
			PulseID:    e.PulseID,
			OwnerID:    e.OwnerID,
			Remote:     e.Remote,
			Kind:       string(e.Kind),
			Position:   e.Position,
			Direction:  e.Direction,
			Speed:      e.Speed,
			Bounces:    e.BounceCount,
			Multiplier: e.DamageMultiplier,
			Damage:     e.Damage,
			Material:   e.Material,
			Trail:      convert.TrailWKT(e.Trail),
		})
		summarizePulse(&export.Summary, e)
	}
	for _, e := range b.damage.Drain() {
		export.Damage = append(export.Damage, DamageJSON(e))
		export.Summary.DamageDealt += e.Damage
	}
	for _, e := range b.health.Drain() {
		export.Health = append(export.Health, HealthJSON(e))
	}
	for _, e := range b.connections.Drain() {
		export.Connections = append(export.Connections, ConnectionJSON(e))
		if e.To == "reconnecting" {
			export.Summary.Reconnects++
		}
	}
	return export
}

func summarizePulse(s *Summary, e core.PulseEvent) {
	switch e.Kind {
	case core.PulseFired:
		if e.Remote {
			s.RemotePulses++
		} else {
			s.PulsesFired++
		}
	case core.PulseBounced:
		s.Bounces++
	case core.PulseScored:
		s.Hits++
	}
	if e.DamageMultiplier > s.MaxMultiplier {
		s.MaxMultiplier = e.DamageMultiplier
	}
	s.TrailDistance += convert.TrailLength(e.Trail)
}

// fileName builds a filesystem safe name from the match id and start time.
func (b *Backend) fileName() string {
	id := b.match.ID
	if id == "" {
		id = "match"
	}
	id = strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_").Replace(id)
	name := fmt.Sprintf("%s_%s.%s", id, b.match.StartedAt.UTC().Format("20060102_150405"), b.cfg.Format)
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return name
}

func (b *Backend) write(export MatchExport) (string, error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(b.cfg.OutputDir, b.fileName())

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if b.cfg.CompressOutput {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if err := encode(w, b.cfg.Format, export); err != nil {
		return "", err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return "", fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	return path, nil
}

func encode(w io.Writer, format string, export MatchExport) error {
	switch format {
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(export); err != nil {
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
	default:
		enc := json.NewEncoder(w)
		if err := enc.Encode(export); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	}
	return nil
}

// ReadExport decodes a file written by EndMatch, detecting gzip and format
// from its extension.
func ReadExport(path string) (MatchExport, error) {
	var export MatchExport
	f, err := os.Open(path)
	if err != nil {
		return export, err
	}
	defer f.Close()

	var r io.Reader = f
	name := path
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return export, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
		name = strings.TrimSuffix(name, ".gz")
	}

	if strings.HasSuffix(name, "."+FormatMsgpack) {
		dec := msgpack.NewDecoder(r)
		dec.SetCustomStructTag("json")
		err = dec.Decode(&export)
	} else {
		err = json.NewDecoder(r).Decode(&export)
	}
	if err != nil {
		return export, fmt.Errorf("failed to decode export: %w", err)
	}
	return export, nil
}
