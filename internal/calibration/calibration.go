// Package calibration persists and measures the vehicle's turn timing.
//
// The only persisted value is the time the vehicle needs for one full
// rotation in place. It is stored as a single key=value line:
//
//	turn_duration=2.8
package calibration

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gridrover/internal/fsutil"
	"github.com/banshee-data/gridrover/internal/monitoring"
)

var calLog = monitoring.Component("calibration")

// DefaultTurnDuration is used when no calibration file is available.
const DefaultTurnDuration = 2800 * time.Millisecond

// MaxTurnDuration bounds the accepted turn duration.
const MaxTurnDuration = time.Minute

const turnDurationKey = "turn_duration"

// ErrNoTurnDuration is returned by Parse when the input has no usable
// turn_duration entry.
var ErrNoTurnDuration = errors.New("calibration has no turn_duration")

// Calibration holds the measured motion constants.
type Calibration struct {
	// TurnDuration is the time for a 360 degree rotation in place.
	TurnDuration time.Duration
}

// Default returns the uncalibrated constants.
func Default() Calibration {
	return Calibration{TurnDuration: DefaultTurnDuration}
}

// Parse reads key=value lines. Blank lines and lines starting with '#' are
// skipped; unknown keys are ignored. The turn duration must be a finite
// number of seconds in (0, MaxTurnDuration].
func Parse(r io.Reader) (Calibration, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != turnDurationKey {
			continue
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Calibration{}, fmt.Errorf("parse %s: %w", turnDurationKey, err)
		}
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return Calibration{}, fmt.Errorf("%s must be finite, got %v", turnDurationKey, secs)
		}
		if secs <= 0 {
			return Calibration{}, fmt.Errorf("%s must be positive, got %v", turnDurationKey, secs)
		}
		if secs > MaxTurnDuration.Seconds() {
			return Calibration{}, fmt.Errorf("%s must be at most %v, got %vs", turnDurationKey, MaxTurnDuration, secs)
		}
		return Calibration{TurnDuration: time.Duration(math.Round(secs * float64(time.Second)))}, nil
	}
	if err := sc.Err(); err != nil {
		return Calibration{}, err
	}
	return Calibration{}, ErrNoTurnDuration
}

// Format renders c in the persisted form.
func Format(c Calibration) []byte {
	return []byte(fmt.Sprintf("%s=%s\n", turnDurationKey,
		strconv.FormatFloat(c.TurnDuration.Seconds(), 'f', -1, 64)))
}

// Store reads and writes calibration files through a FileSystem.
type Store struct {
	FS fsutil.FileSystem
}

// NewStore returns a Store on the real filesystem.
func NewStore() *Store {
	return &Store{FS: fsutil.OSFileSystem{}}
}

// Load returns the calibration stored at path. A missing or unusable file
// yields Default and is logged, never an error.
func (s *Store) Load(path string) Calibration {
	data, err := s.FS.ReadFile(path)
	if err != nil {
		calLog.Opsf("no calibration at %s (%v), using default turn duration %s", path, err, DefaultTurnDuration)
		return Default()
	}
	c, err := Parse(bytes.NewReader(data))
	if err != nil {
		calLog.Opsf("ignoring calibration at %s: %v; using default turn duration %s", path, err, DefaultTurnDuration)
		return Default()
	}
	calLog.Diagf("loaded turn duration %s from %s", c.TurnDuration, path)
	return c
}

// Save writes c to path.
func (s *Store) Save(path string, c Calibration) error {
	if c.TurnDuration <= 0 {
		return fmt.Errorf("refusing to save non-positive turn duration %s", c.TurnDuration)
	}
	if c.TurnDuration > MaxTurnDuration {
		return fmt.Errorf("refusing to save turn duration %s above %s", c.TurnDuration, MaxTurnDuration)
	}
	if err := s.FS.WriteFile(path, Format(c), 0o644); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	calLog.Opsf("saved turn duration %s to %s", c.TurnDuration, path)
	return nil
}

// Load reads path from the real filesystem. See Store.Load.
func Load(path string) Calibration {
	return NewStore().Load(path)
}

// Save writes path on the real filesystem.
func Save(path string, c Calibration) error {
	return NewStore().Save(path, c)
}
