// Package config loads detection tuning from JSON files. Fields are
// pointers so a partial file only overrides what it names; the Get*
// accessors supply the defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/trackline.report/internal/track"
)

// TuningConfig is the root configuration for detection parameters. The
// same JSON schema serves startup configuration and saved run parameters.
type TuningConfig struct {
	// Plateau model params
	MinLength           *float64 `json:"min_length,omitempty"`
	MaxLength           *float64 `json:"max_length,omitempty"`
	StartLength         *float64 `json:"start_length,omitempty"`
	ThicknessTolerance  *float64 `json:"thickness_tolerance,omitempty"`
	SlopeTolerance      *float64 `json:"slope_tolerance,omitempty"`
	SideShiftTolerance  *float64 `json:"side_shift_tolerance,omitempty"`
	SearchDistance      *float64 `json:"plateau_search_distance,omitempty"`
	FirstSearchDistance *float64 `json:"first_plateau_search_distance,omitempty"`
	MaxTilt             *int     `json:"max_tilt,omitempty"`
	TailMinSize         *int     `json:"tail_min_size,omitempty"`
	DeviationPrediction *bool    `json:"deviation_prediction,omitempty"`
	SlopePrediction     *bool    `json:"slope_prediction,omitempty"`
	NetBuild            *bool    `json:"net_build,omitempty"`

	// Detector params
	PlateauLackTolerance *int     `json:"plateau_lack_tolerance,omitempty"`
	MaxShiftLength       *float64 `json:"max_shift_length,omitempty"`
	MinDensity           *int     `json:"min_density,omitempty"`
	ShiftLengthPruning   *bool    `json:"shift_length_pruning,omitempty"`
	DensityPruning       *bool    `json:"density_pruning,omitempty"`
	DensityInsensitive   *bool    `json:"density_insensitive,omitempty"`
	InitialTrackExtent   *int     `json:"initial_track_extent,omitempty"`
	ConnectOn            *bool    `json:"connect_on,omitempty"`

	// Coordinator params
	BufferSize   *int     `json:"buffer_size,omitempty"`
	SubDiv       *int     `json:"sub_div,omitempty"`
	CellSize     *float64 `json:"cell_size,omitempty"`
	SeedShift    *int     `json:"seed_shift,omitempty"`
	SeedWidth    *int     `json:"seed_width,omitempty"`
	MinSeedLen   *int     `json:"min_seed_length,omitempty"`
	ConnectedOut *bool    `json:"connected_output,omitempty"`
}

// Coordinator defaults.
const (
	DefaultSubDiv     = 5
	DefaultCellSize   = 0.5
	DefaultSeedShift  = 12
	DefaultSeedWidth  = 6
	DefaultMinSeedLen = 10
)

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)",
			fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects values outside their operating ranges.
func (c *TuningConfig) Validate() error {
	if c.MinDensity != nil && (*c.MinDensity < 0 || *c.MinDensity > 100) {
		return fmt.Errorf("min_density must be in [0, 100], got %d", *c.MinDensity)
	}
	if c.PlateauLackTolerance != nil && *c.PlateauLackTolerance < 0 {
		return fmt.Errorf("plateau_lack_tolerance must be >= 0, got %d",
			*c.PlateauLackTolerance)
	}
	if c.MaxShiftLength != nil && *c.MaxShiftLength < 0 {
		return fmt.Errorf("max_shift_length must be >= 0, got %f", *c.MaxShiftLength)
	}
	if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
		return fmt.Errorf("min_length %f exceeds max_length %f",
			*c.MinLength, *c.MaxLength)
	}
	if c.SubDiv != nil && *c.SubDiv < 1 {
		return fmt.Errorf("sub_div must be >= 1, got %d", *c.SubDiv)
	}
	if c.CellSize != nil && *c.CellSize <= 0 {
		return fmt.Errorf("cell_size must be positive, got %f", *c.CellSize)
	}
	return nil
}

// GetSubDiv returns the point grid subdivision factor.
func (c *TuningConfig) GetSubDiv() int {
	if c.SubDiv != nil {
		return *c.SubDiv
	}
	return DefaultSubDiv
}

// GetCellSize returns the DTM cell size in metres.
func (c *TuningConfig) GetCellSize() float32 {
	if c.CellSize != nil {
		return float32(*c.CellSize)
	}
	return DefaultCellSize
}

// GetBufferSize returns the tile buffer size; zero keeps every tile
// resident.
func (c *TuningConfig) GetBufferSize() int {
	if c.BufferSize != nil {
		return *c.BufferSize
	}
	return 0
}

// GetSeedShift returns the stroke spacing along a seed segment, in cells.
func (c *TuningConfig) GetSeedShift() int {
	if c.SeedShift != nil {
		return *c.SeedShift
	}
	return DefaultSeedShift
}

// GetSeedWidth returns the stroke spread of a seed, in cells.
func (c *TuningConfig) GetSeedWidth() int {
	if c.SeedWidth != nil {
		return *c.SeedWidth
	}
	return DefaultSeedWidth
}

// GetMinSeedLen returns the minimal seed segment length, in cells.
func (c *TuningConfig) GetMinSeedLen() int {
	if c.MinSeedLen != nil {
		return *c.MinSeedLen
	}
	return DefaultMinSeedLen
}

// IsConnectedOut reports whether only the connected component of each
// track is painted.
func (c *TuningConfig) IsConnectedOut() bool {
	return c.ConnectedOut != nil && *c.ConnectedOut
}

// ApplyToDetector pushes every set field onto the detector and its
// plateau model.
func (c *TuningConfig) ApplyToDetector(det *track.Detector) {
	m := det.Model()
	if c.MinLength != nil {
		m.MinLength = float32(*c.MinLength)
	}
	if c.MaxLength != nil {
		m.MaxLength = float32(*c.MaxLength)
	}
	if c.StartLength != nil {
		m.StartLength = float32(*c.StartLength)
	}
	if c.ThicknessTolerance != nil {
		m.ThicknessTolerance = float32(*c.ThicknessTolerance)
	}
	if c.SlopeTolerance != nil {
		m.SlopeTolerance = float32(*c.SlopeTolerance)
	}
	if c.SideShiftTolerance != nil {
		m.SideShiftTolerance = float32(*c.SideShiftTolerance)
	}
	if c.SearchDistance != nil {
		m.SearchDistance = float32(*c.SearchDistance)
	}
	if c.FirstSearchDistance != nil {
		m.FirstSearchDistance = float32(*c.FirstSearchDistance)
	}
	if c.MaxTilt != nil {
		m.MaxTilt = *c.MaxTilt
	}
	if c.TailMinSize != nil {
		m.TailMinSize = *c.TailMinSize
	}
	if c.DeviationPrediction != nil {
		m.DeviationPrediction = *c.DeviationPrediction
	}
	if c.SlopePrediction != nil {
		m.SlopePrediction = *c.SlopePrediction
	}
	if c.NetBuild != nil {
		m.NetBuild = *c.NetBuild
	}
	if c.PlateauLackTolerance != nil {
		det.SetPlateauLackTolerance(*c.PlateauLackTolerance)
	}
	if c.MaxShiftLength != nil {
		det.SetMaxShiftLength(float32(*c.MaxShiftLength))
	}
	if c.MinDensity != nil {
		det.SetMinDensity(*c.MinDensity)
	}
	if c.ShiftLengthPruning != nil {
		det.SetShiftLengthPruning(*c.ShiftLengthPruning)
	}
	if c.DensityPruning != nil {
		det.SetDensityPruning(*c.DensityPruning)
	}
	if c.DensityInsensitive != nil {
		det.SetDensityInsensitive(*c.DensityInsensitive)
	}
	if c.InitialTrackExtent != nil {
		det.SetInitialTrackExtent(*c.InitialTrackExtent)
	}
	if c.ConnectOn != nil {
		det.SetConnectOn(*c.ConnectOn)
	}
}

// Save writes the configuration as indented JSON.
func (c *TuningConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
