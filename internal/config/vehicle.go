// Package config loads the vehicle tuning file and mission files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/gridrover/internal/avoidance"
	"github.com/banshee-data/gridrover/internal/calibration"
	"github.com/banshee-data/gridrover/internal/fsutil"
	"github.com/banshee-data/gridrover/internal/motorlink"
	"github.com/banshee-data/gridrover/internal/navigation"
	"github.com/banshee-data/gridrover/internal/pid"
)

// DefaultConfigPath is the example tuning file shipped with the repository.
const DefaultConfigPath = "config/vehicle.example.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// maxSpeed is the firmware's PWM ceiling.
const maxSpeed = 255

// VehicleConfig is the on-disk tuning for one vehicle. Every field is
// optional; the Get* methods fall back to the stock values for anything the
// file leaves out.
type VehicleConfig struct {
	// Line-centering controller
	Kp        *float64 `json:"kp,omitempty"`
	Ki        *float64 `json:"ki,omitempty"`
	Kd        *float64 `json:"kd,omitempty"`
	BaseSpeed *float64 `json:"base_speed,omitempty"`

	// Motion
	StraightSpeed   *int     `json:"straight_speed,omitempty"`
	TurnSpeed       *int     `json:"turn_speed,omitempty"`
	SensorForward   *int     `json:"sensor_forward,omitempty"`
	SensorLeft      *int     `json:"sensor_left,omitempty"`
	SensorRight     *int     `json:"sensor_right,omitempty"`
	SensorSettle    *string  `json:"sensor_settle,omitempty"` // duration string like "300ms"
	SideClearanceCm *float64 `json:"side_clearance_cm,omitempty"`

	// Navigation
	DebounceFrames   *int    `json:"debounce_frames,omitempty"`
	ApproachDuration *string `json:"approach_duration,omitempty"`

	// Obstacle avoidance
	AvoidanceDisabled    *bool    `json:"avoidance_disabled,omitempty"`
	StopThresholdCm      *float64 `json:"stop_threshold_cm,omitempty"`
	ClearanceMarginCm    *float64 `json:"clearance_margin_cm,omitempty"`
	AvoidRotateSpeed     *int     `json:"avoid_rotate_speed,omitempty"`
	AvoidAdvanceSpeed    *int     `json:"avoid_advance_speed,omitempty"`
	AvoidAdvanceDuration *string  `json:"avoid_advance_duration,omitempty"`
	AvoidAdvanceCounts   *int     `json:"avoid_advance_counts,omitempty"`
	AvoidSensorSide      *int     `json:"avoid_sensor_side,omitempty"`
	AvoidPollInterval    *string  `json:"avoid_poll_interval,omitempty"`
	AvoidMaxPolls        *int     `json:"avoid_max_polls,omitempty"`
	FailClosed           *bool    `json:"fail_closed,omitempty"`

	// Link
	AckTimeout       *string                `json:"ack_timeout,omitempty"`
	HandshakeTimeout *string                `json:"handshake_timeout,omitempty"`
	SettleDelay      *string                `json:"settle_delay,omitempty"`
	Serial           *motorlink.PortOptions `json:"serial,omitempty"`
}

// LoadVehicleConfig loads a VehicleConfig from a JSON file on disk.
func LoadVehicleConfig(path string) (*VehicleConfig, error) {
	return LoadVehicleConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadVehicleConfigFS loads a VehicleConfig through fs. The file must have
// a .json extension and be under 1MB. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func LoadVehicleConfigFS(fs fsutil.FileSystem, path string) (*VehicleConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := fs.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseVehicleConfig(data)
}

// ParseVehicleConfig decodes and validates JSON tuning data.
func ParseVehicleConfig(data []byte) (*VehicleConfig, error) {
	cfg := &VehicleConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are in range. Unset values always pass.
func (c *VehicleConfig) Validate() error {
	gains := []struct {
		name string
		v    *float64
	}{
		{"kp", c.Kp},
		{"ki", c.Ki},
		{"kd", c.Kd},
	}
	for _, g := range gains {
		if g.v != nil && *g.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", g.name, *g.v)
		}
	}
	if c.BaseSpeed != nil && (*c.BaseSpeed <= 0 || *c.BaseSpeed > maxSpeed) {
		return fmt.Errorf("base_speed must be in (0, %d], got %v", maxSpeed, *c.BaseSpeed)
	}

	speeds := []struct {
		name string
		v    *int
	}{
		{"straight_speed", c.StraightSpeed},
		{"turn_speed", c.TurnSpeed},
		{"avoid_rotate_speed", c.AvoidRotateSpeed},
		{"avoid_advance_speed", c.AvoidAdvanceSpeed},
	}
	for _, s := range speeds {
		if s.v != nil && (*s.v <= 0 || *s.v > maxSpeed) {
			return fmt.Errorf("%s must be in (0, %d], got %d", s.name, maxSpeed, *s.v)
		}
	}

	angles := []struct {
		name string
		v    *int
	}{
		{"sensor_forward", c.SensorForward},
		{"sensor_left", c.SensorLeft},
		{"sensor_right", c.SensorRight},
		{"avoid_sensor_side", c.AvoidSensorSide},
	}
	for _, a := range angles {
		if a.v != nil && (*a.v < 0 || *a.v > 180) {
			return fmt.Errorf("%s must be a servo angle in [0, 180], got %d", a.name, *a.v)
		}
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"sensor_settle", c.SensorSettle},
		{"approach_duration", c.ApproachDuration},
		{"avoid_advance_duration", c.AvoidAdvanceDuration},
		{"avoid_poll_interval", c.AvoidPollInterval},
		{"ack_timeout", c.AckTimeout},
		{"handshake_timeout", c.HandshakeTimeout},
		{"settle_delay", c.SettleDelay},
	}
	for _, d := range durations {
		if d.v == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.v)
		}
	}

	if c.SideClearanceCm != nil && *c.SideClearanceCm < 0 {
		return fmt.Errorf("side_clearance_cm must be non-negative, got %v", *c.SideClearanceCm)
	}
	if c.DebounceFrames != nil && *c.DebounceFrames < 1 {
		return fmt.Errorf("debounce_frames must be at least 1, got %d", *c.DebounceFrames)
	}
	if c.StopThresholdCm != nil && *c.StopThresholdCm <= 0 {
		return fmt.Errorf("stop_threshold_cm must be positive, got %v", *c.StopThresholdCm)
	}
	if c.ClearanceMarginCm != nil && *c.ClearanceMarginCm < 0 {
		return fmt.Errorf("clearance_margin_cm must be non-negative, got %v", *c.ClearanceMarginCm)
	}
	if c.AvoidAdvanceCounts != nil && *c.AvoidAdvanceCounts < 0 {
		return fmt.Errorf("avoid_advance_counts must be non-negative, got %d", *c.AvoidAdvanceCounts)
	}
	if c.AvoidMaxPolls != nil && *c.AvoidMaxPolls < 1 {
		return fmt.Errorf("avoid_max_polls must be at least 1, got %d", *c.AvoidMaxPolls)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetGains returns the line-centering gains.
func (c *VehicleConfig) GetGains() pid.Gains {
	g := pid.DefaultGains()
	g.Kp = getFloat(c.Kp, g.Kp)
	g.Ki = getFloat(c.Ki, g.Ki)
	g.Kd = getFloat(c.Kd, g.Kd)
	g.BaseSpeed = getFloat(c.BaseSpeed, g.BaseSpeed)
	return g
}

// GetCarConfig returns the motion parameters with the calibrated turn
// duration applied.
func (c *VehicleConfig) GetCarConfig(cal calibration.Calibration) motorlink.CarConfig {
	cc := motorlink.DefaultCarConfig()
	cc.StraightSpeed = int16(getInt(c.StraightSpeed, int(cc.StraightSpeed)))
	cc.TurnSpeed = int16(getInt(c.TurnSpeed, int(cc.TurnSpeed)))
	cc.SensorForward = int16(getInt(c.SensorForward, int(cc.SensorForward)))
	cc.SensorLeft = int16(getInt(c.SensorLeft, int(cc.SensorLeft)))
	cc.SensorRight = int16(getInt(c.SensorRight, int(cc.SensorRight)))
	cc.SensorSettle = getDuration(c.SensorSettle, cc.SensorSettle)
	cc.SideClearanceCm = getFloat(c.SideClearanceCm, cc.SideClearanceCm)
	if cal.TurnDuration > 0 {
		cc.TurnDuration = cal.TurnDuration
	}
	return cc
}

// GetExecutorConfig returns the navigation tuning.
func (c *VehicleConfig) GetExecutorConfig() navigation.Config {
	nc := navigation.DefaultConfig()
	nc.DebounceFrames = getInt(c.DebounceFrames, nc.DebounceFrames)
	nc.ApproachDuration = getDuration(c.ApproachDuration, nc.ApproachDuration)
	return nc
}

// GetAvoidanceConfig returns the obstacle maneuver parameters. The sensor's
// forward angle is shared with the motion config.
func (c *VehicleConfig) GetAvoidanceConfig() avoidance.Config {
	ac := avoidance.DefaultConfig()
	ac.StopThresholdCm = getFloat(c.StopThresholdCm, ac.StopThresholdCm)
	ac.ClearanceMarginCm = getFloat(c.ClearanceMarginCm, ac.ClearanceMarginCm)
	ac.RotateSpeed = int16(getInt(c.AvoidRotateSpeed, int(ac.RotateSpeed)))
	ac.AdvanceSpeed = int16(getInt(c.AvoidAdvanceSpeed, int(ac.AdvanceSpeed)))
	ac.AdvanceDuration = getDuration(c.AvoidAdvanceDuration, ac.AdvanceDuration)
	ac.AdvanceCounts = int32(getInt(c.AvoidAdvanceCounts, int(ac.AdvanceCounts)))
	ac.SensorForward = int16(getInt(c.SensorForward, int(ac.SensorForward)))
	ac.SensorSide = int16(getInt(c.AvoidSensorSide, int(ac.SensorSide)))
	ac.PollInterval = getDuration(c.AvoidPollInterval, ac.PollInterval)
	ac.MaxPolls = getInt(c.AvoidMaxPolls, ac.MaxPolls)
	ac.FailClosed = getBool(c.FailClosed, ac.FailClosed)
	return ac
}

// GetAvoidanceDisabled reports whether the obstacle supervisor is off.
func (c *VehicleConfig) GetAvoidanceDisabled() bool {
	return getBool(c.AvoidanceDisabled, false)
}

// GetLinkConfig returns the protocol timeouts. The clock is left unset.
func (c *VehicleConfig) GetLinkConfig() motorlink.Config {
	return motorlink.Config{
		AckTimeout:       getDuration(c.AckTimeout, motorlink.DefaultAckTimeout),
		HandshakeTimeout: getDuration(c.HandshakeTimeout, motorlink.DefaultHandshakeTimeout),
		SettleDelay:      getDuration(c.SettleDelay, motorlink.DefaultSettleDelay),
	}
}

// GetPortOptions returns the normalised serial parameters.
func (c *VehicleConfig) GetPortOptions() motorlink.PortOptions {
	var opts motorlink.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	normalised, err := opts.Normalise()
	if err != nil {
		// Validate rejects this case for loaded files.
		normalised, _ = motorlink.PortOptions{}.Normalise()
	}
	return normalised
}

// SessionConfig assembles everything a navigation session needs.
func (c *VehicleConfig) SessionConfig(cal calibration.Calibration) navigation.SessionConfig {
	return navigation.SessionConfig{
		Car:               c.GetCarConfig(cal),
		Gains:             c.GetGains(),
		Executor:          c.GetExecutorConfig(),
		Avoidance:         c.GetAvoidanceConfig(),
		AvoidanceDisabled: c.GetAvoidanceDisabled(),
	}
}
