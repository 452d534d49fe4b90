// Package convert maps recorder events onto their database rows and shared
// export encodings.
package convert

import (
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/echochamber/arena/internal/model"
	"github.com/echochamber/arena/pkg/core"
)

// TrailWKT renders a pulse path as WKT LINESTRING Z. Fewer than two points
// yield an empty string.
func TrailWKT(points []core.Vec3) string {
	ls, ok := TrailLineString(points)
	if !ok {
		return ""
	}
	return ls.AsText()
}

// TrailLineString builds a 3D line string from points.
func TrailLineString(points []core.Vec3) (geom.LineString, bool) {
	if len(points) < 2 {
		return geom.LineString{}, false
	}
	coords := make([]float64, 0, len(points)*3)
	for _, p := range points {
		coords = append(coords, p.X, p.Y, p.Z)
	}
	return geom.NewLineString(geom.NewSequence(coords, geom.DimXYZ)), true
}

// TrailLength returns the path length of a trail.
func TrailLength(points []core.Vec3) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += points[i].Distance(points[i-1])
	}
	return total
}

// toJSON marshals v for a datatypes.JSON column, falling back to an empty object.
func toJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

// CoreToMatch converts a core match to its row.
func CoreToMatch(m core.Match) model.Match {
	row := model.Match{
		MatchUID:      m.ID,
		ServerURL:     m.ServerURL,
		LocalPlayerID: m.LocalPlayerID,
		StartedAt:     m.StartedAt,
	}
	if !m.EndedAt.IsZero() {
		ended := m.EndedAt
		row.EndedAt = &ended
	}
	return row
}

// CoreToPulseEvent converts a pulse event to its row.
func CoreToPulseEvent(e core.PulseEvent) model.PulseEvent {
	return model.PulseEvent{
		Time:             e.Time,
		PulseID:          e.PulseID,
		OwnerID:          e.OwnerID,
		Remote:           e.Remote,
		Kind:             string(e.Kind),
		X:                e.Position.X,
		Y:                e.Position.Y,
		Z:                e.Position.Z,
		Speed:            e.Speed,
		BounceCount:      e.BounceCount,
		DamageMultiplier: e.DamageMultiplier,
		Damage:           e.Damage,
		Material:         e.Material,
		Trail:            TrailWKT(e.Trail),
		Payload:          toJSON(e),
	}
}

// CoreToDamageEvent converts a damage report to its row.
func CoreToDamageEvent(e core.DamageEvent) model.DamageEvent {
	return model.DamageEvent{
		Time:     e.Time,
		PulseID:  e.PulseID,
		SourceID: e.SourceID,
		TargetID: e.TargetID,
		Damage:   e.Damage,
	}
}

// CoreToHealthEvent converts a health update to its row.
func CoreToHealthEvent(e core.HealthEvent) model.HealthEvent {
	return model.HealthEvent{
		Time:     e.Time,
		PlayerID: e.PlayerID,
		Local:    e.Local,
		Health:   e.Health,
	}
}

// CoreToConnectionEvent converts a session transition to its row.
func CoreToConnectionEvent(e core.ConnectionEvent) model.ConnectionEvent {
	reason := e.Reason
	if len(reason) > 255 {
		reason = reason[:255]
	}
	return model.ConnectionEvent{
		Time:    e.Time,
		From:    e.From,
		To:      e.To,
		Attempt: e.Attempt,
		Reason:  reason,
	}
}
