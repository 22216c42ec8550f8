package missionlog

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/gridrover/internal/navigation"
	"github.com/banshee-data/gridrover/internal/planner"
	"github.com/banshee-data/gridrover/internal/timeutil"
)

// ErrFinished is returned when recording into a mission that has already
// been finished.
var ErrFinished = errors.New("mission already finished")

// Mission is one run being recorded. It implements navigation.EventSink.
type Mission struct {
	store *Store
	id    string
	clock timeutil.Clock

	mu       sync.Mutex
	finished bool
}

// Begin inserts a mission row for plan and returns the recorder.
func (s *Store) Begin(name string, plan planner.Plan, clock timeutil.Clock) (*Mission, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id := uuid.New().String()
	p := plan.Params
	_, err := s.Exec(`
		INSERT INTO missions (
			mission_id, name, grid_size, start_row, start_col, end_row, end_col,
			heading, itinerary, route_length, unreachable, started_unix_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, p.GridSize, p.Start.Row, p.Start.Col, p.End.Row, p.End.Col,
		p.Heading.String(), plan.Itinerary.String(), plan.Route.Edges(), plan.Unreachable,
		clock.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin mission: %w", err)
	}
	logLog.Opsf("mission %s started: %s", id, plan.Itinerary)
	return &Mission{store: s, id: id, clock: clock}, nil
}

// ID returns the mission's uuid.
func (m *Mission) ID() string { return m.id }

// Record stores one navigation event.
func (m *Mission) Record(ev navigation.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return ErrFinished
	}
	at := ev.At
	if at.IsZero() {
		at = m.clock.Now()
	}
	turn := ""
	if ev.Turn.Valid() {
		turn = ev.Turn.String()
	}
	_, err := m.store.Exec(`
		INSERT INTO mission_events (mission_id, at_unix_ns, kind, phase, itinerary_index, turn, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.id, at.UnixNano(), string(ev.Kind), ev.Phase.String(), ev.Index, turn, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", ev.Kind, err)
	}
	return nil
}

// TrackingStats summarises line-following quality.
type TrackingStats struct {
	Samples int
	// MeanAbsOffset is undefined without samples.
	MeanAbsOffset sql.NullFloat64
	// StdDev is undefined with fewer than two samples.
	StdDev sql.NullFloat64
}

// ComputeTrackingStats summarises the per-cycle lateral offsets.
func ComputeTrackingStats(offsets []float64) TrackingStats {
	ts := TrackingStats{Samples: len(offsets)}
	if len(offsets) == 0 {
		return ts
	}
	abs := make([]float64, len(offsets))
	for i, o := range offsets {
		abs[i] = math.Abs(o)
	}
	ts.MeanAbsOffset = sql.NullFloat64{Float64: stat.Mean(abs, nil), Valid: true}
	if len(offsets) >= 2 {
		ts.StdDev = sql.NullFloat64{Float64: stat.StdDev(offsets, nil), Valid: true}
	}
	return ts
}

// Finish stores the outcome, the executor's counters and the tracking
// statistics. Later Record calls fail with ErrFinished.
func (m *Mission) Finish(outcome string, state navigation.State, offsets []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return ErrFinished
	}
	ts := ComputeTrackingStats(offsets)
	_, err := m.store.Exec(`
		UPDATE missions SET
			finished_unix_ns = ?, outcome = ?, cycles = ?, intersections = ?,
			avoidances = ?, offset_samples = ?, mean_abs_offset = ?, offset_stddev = ?
		WHERE mission_id = ?`,
		m.clock.Now().UnixNano(), outcome, state.Cycles, state.Intersections,
		state.Avoidances, ts.Samples, ts.MeanAbsOffset, ts.StdDev, m.id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish mission: %w", err)
	}
	m.finished = true
	logLog.Opsf("mission %s finished: %s", m.id, outcome)
	return nil
}
