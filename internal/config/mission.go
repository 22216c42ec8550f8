package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/gridrover/internal/fsutil"
	"github.com/banshee-data/gridrover/internal/planner"
)

// Mission is a YAML mission file:
//
//	name: warehouse loop
//	grid_size: 4
//	start: {row: 0, col: 0}
//	end: {row: 3, col: 2.5}
//	heading: up
//	blocked:
//	  - {a: {row: 1, col: 1}, b: {row: 1, col: 2}}
type Mission struct {
	Name                  string `yaml:"name,omitempty"`
	planner.MissionParams `yaml:",inline"`
}

// LoadMission reads a mission file from disk.
func LoadMission(path string) (*Mission, error) {
	return LoadMissionFS(fsutil.OSFileSystem{}, path)
}

// LoadMissionFS reads a .yaml or .yml mission file through fs.
func LoadMissionFS(fs fsutil.FileSystem, path string) (*Mission, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("mission file must have .yaml or .yml extension, got %q", ext)
	}

	info, err := fs.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat mission file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("mission file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := fs.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read mission file: %w", err)
	}
	return ParseMission(data)
}

// ParseMission decodes and validates YAML mission data. Unknown keys are
// rejected.
func ParseMission(data []byte) (*Mission, error) {
	m := &Mission{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("mission file is empty")
		}
		return nil, fmt.Errorf("failed to parse mission YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mission: %w", err)
	}
	return m, nil
}

// Validate checks the fields a planner cannot default.
func (m *Mission) Validate() error {
	if m.GridSize < 1 {
		return fmt.Errorf("%w: %d", planner.ErrInvalidGridSize, m.GridSize)
	}
	if !m.Heading.Valid() {
		return fmt.Errorf("%w: heading is required", planner.ErrInvalidHeading)
	}
	return nil
}

// Params returns the planner inputs.
func (m *Mission) Params() planner.MissionParams {
	return m.MissionParams
}
