package navigation

import (
	"sync"
	"time"

	"github.com/banshee-data/gridrover/internal/planner"
)

// EventKind classifies mission events.
type EventKind string

const (
	EventPhase        EventKind = "phase"
	EventTurn         EventKind = "turn"
	EventIntersection EventKind = "intersection"
	EventAvoidance    EventKind = "avoidance"
	EventOutcome      EventKind = "outcome"
)

// Event is one notable moment of a mission.
type Event struct {
	Kind  EventKind
	At    time.Time
	Phase Phase
	// Index is the itinerary position for turns, -1 for the pre-roll and
	// final correction, and the running count for intersections.
	Index  int
	Turn   planner.Turn
	Detail string
}

// EventSink receives mission events. Record must not block for long; it is
// called from the control loop.
type EventSink interface {
	Record(Event) error
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Record appends ev.
func (m *MemorySink) Record(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns the recorded events, optionally only those of the given
// kinds.
func (m *MemorySink) Events(kinds ...EventKind) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(kinds) == 0 {
		return append([]Event(nil), m.events...)
	}
	var out []Event
	for _, ev := range m.events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Turns returns the turns recorded, in order.
func (m *MemorySink) Turns() []planner.Turn {
	var out []planner.Turn
	for _, ev := range m.Events(EventTurn) {
		out = append(out, ev.Turn)
	}
	return out
}

// MultiSink fans events out to several sinks and returns the first error.
type MultiSink []EventSink

// Record forwards ev to every sink.
func (ms MultiSink) Record(ev Event) error {
	var first error
	for _, s := range ms {
		if s == nil {
			continue
		}
		if err := s.Record(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
