package missionlog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by MissionByID for an unknown id.
var ErrNotFound = errors.New("mission not found")

// MissionSummary is one row of the missions table.
type MissionSummary struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	GridSize      int        `json:"grid_size"`
	Heading       string     `json:"heading"`
	Itinerary     string     `json:"itinerary"`
	RouteLength   int        `json:"route_length"`
	Unreachable   bool       `json:"unreachable"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	Cycles        int        `json:"cycles"`
	Intersections int        `json:"intersections"`
	Avoidances    int        `json:"avoidances"`
	OffsetSamples int        `json:"offset_samples"`
	MeanAbsOffset *float64   `json:"mean_abs_offset,omitempty"`
	OffsetStdDev  *float64   `json:"offset_stddev,omitempty"`
}

// EventRecord is one stored mission event.
type EventRecord struct {
	ID        int64     `json:"id"`
	MissionID string    `json:"mission_id"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase"`
	Index     int       `json:"index"`
	Turn      string    `json:"turn,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

const missionColumns = `
	mission_id, name, grid_size, heading, itinerary, route_length, unreachable,
	started_unix_ns, finished_unix_ns, outcome, cycles, intersections, avoidances,
	offset_samples, mean_abs_offset, offset_stddev`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(r rowScanner) (MissionSummary, error) {
	var (
		ms       MissionSummary
		started  int64
		finished sql.NullInt64
		outcome  sql.NullString
		mean     sql.NullFloat64
		stddev   sql.NullFloat64
	)
	err := r.Scan(
		&ms.ID, &ms.Name, &ms.GridSize, &ms.Heading, &ms.Itinerary, &ms.RouteLength, &ms.Unreachable,
		&started, &finished, &outcome, &ms.Cycles, &ms.Intersections, &ms.Avoidances,
		&ms.OffsetSamples, &mean, &stddev,
	)
	if err != nil {
		return MissionSummary{}, err
	}
	ms.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		ms.FinishedAt = &t
	}
	ms.Outcome = outcome.String
	if mean.Valid {
		ms.MeanAbsOffset = &mean.Float64
	}
	if stddev.Valid {
		ms.OffsetStdDev = &stddev.Float64
	}
	return ms, nil
}

// Missions returns the most recent missions, newest first. A non-positive
// limit returns all of them.
func (s *Store) Missions(limit int) ([]MissionSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.Query(`SELECT `+missionColumns+` FROM missions
		ORDER BY started_unix_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query missions: %w", err)
	}
	defer rows.Close()

	var out []MissionSummary
	for rows.Next() {
		ms, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// MissionByID returns one mission.
func (s *Store) MissionByID(id string) (MissionSummary, error) {
	row := s.QueryRow(`SELECT `+missionColumns+` FROM missions WHERE mission_id = ?`, id)
	ms, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MissionSummary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ms, err
}

// Events returns the events of one mission in recording order.
func (s *Store) Events(missionID string) ([]EventRecord, error) {
	rows, err := s.Query(`
		SELECT event_id, mission_id, at_unix_ns, kind, phase, itinerary_index, turn, detail
		FROM mission_events WHERE mission_id = ? ORDER BY event_id`, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			ev EventRecord
			at int64
		)
		if err := rows.Scan(&ev.ID, &ev.MissionID, &at, &ev.Kind, &ev.Phase, &ev.Index, &ev.Turn, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, at).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
