// Package config loads the elevation-mapping configuration surface.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical mapping defaults file.
const DefaultConfigPath = "config/mapping.defaults.json"

// Axis variance modes accepted by axis_variance_mode.
const (
	AxisVarianceSequential  = "sequential"
	AxisVarianceIndependent = "independent"
)

// SensorPose is the static mounting of the point-cloud sensor in the parent
// frame. Angles are radians.
type SensorPose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// MappingConfig represents the root configuration for the mapping node.
// The schema matches the /api/params endpoint for the fields that may be
// changed at runtime, so the same JSON can be posted there.
type MappingConfig struct {
	// Point cloud source
	PointCloudAddr    *string  `json:"point_cloud_addr,omitempty"` // UDP listen address
	SensorCutoffDepth *float64 `json:"sensor_cutoff_depth,omitempty"`

	// Frames
	ParentFrameID *string     `json:"parent_frame_id,omitempty"`
	MapFrameID    *string     `json:"map_frame_id,omitempty"`
	SensorFrameID *string     `json:"sensor_frame_id,omitempty"`
	MapOffsetX    *float64    `json:"map_offset_x,omitempty"` // map -> parent translation along x
	SensorPose    *SensorPose `json:"sensor_pose,omitempty"`

	// Grid geometry
	LengthX    *float64 `json:"length_x,omitempty"`
	LengthY    *float64 `json:"length_y,omitempty"`
	Resolution *float64 `json:"resolution,omitempty"`

	// Fusion params
	MinVariance         *float64 `json:"min_variance,omitempty"`
	MaxVariance         *float64 `json:"max_variance,omitempty"`
	MeasurementVariance *float64 `json:"measurement_variance,omitempty"`
	ProcessNoiseDelta   *float64 `json:"process_noise_delta,omitempty"`
	AxisVarianceMode    *string  `json:"axis_variance_mode,omitempty"`

	// Freshness
	MinUpdateRate *float64 `json:"min_update_rate,omitempty"` // Hz
	SettleDelay   *string  `json:"settle_delay,omitempty"`    // duration string like "1s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// EmptyMappingConfig returns a MappingConfig with all fields set to nil.
func EmptyMappingConfig() *MappingConfig {
	return &MappingConfig{}
}

// DefaultMappingConfig returns a MappingConfig with every field populated
// from the built-in defaults.
func DefaultMappingConfig() *MappingConfig {
	c := EmptyMappingConfig()
	pose := c.GetSensorPose()
	return &MappingConfig{
		PointCloudAddr:      ptrString(c.GetPointCloudAddr()),
		SensorCutoffDepth:   ptrFloat64(c.GetSensorCutoffDepth()),
		ParentFrameID:       ptrString(c.GetParentFrameID()),
		MapFrameID:          ptrString(c.GetMapFrameID()),
		SensorFrameID:       ptrString(c.GetSensorFrameID()),
		MapOffsetX:          ptrFloat64(c.GetMapOffsetX()),
		SensorPose:          &pose,
		LengthX:             ptrFloat64(c.GetLengthX()),
		LengthY:             ptrFloat64(c.GetLengthY()),
		Resolution:          ptrFloat64(c.GetResolution()),
		MinVariance:         ptrFloat64(c.GetMinVariance()),
		MaxVariance:         ptrFloat64(c.GetMaxVariance()),
		MeasurementVariance: ptrFloat64(c.GetMeasurementVariance()),
		ProcessNoiseDelta:   ptrFloat64(c.GetProcessNoiseDelta()),
		AxisVarianceMode:    ptrString(c.GetAxisVarianceMode()),
		MinUpdateRate:       ptrFloat64(c.GetMinUpdateRate()),
		SettleDelay:         ptrString(c.GetSettleDelay().String()),
	}
}

// LoadMappingConfig loads a MappingConfig from a JSON file.
// Fields omitted from the JSON file fall back to defaults through the Get*
// accessors, so partial configs are safe.
func LoadMappingConfig(path string) (*MappingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMappingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *MappingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadMappingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Every dimensional
// value must be strictly positive.
func (c *MappingConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"sensor_cutoff_depth", c.SensorCutoffDepth},
		{"length_x", c.LengthX},
		{"length_y", c.LengthY},
		{"resolution", c.Resolution},
		{"min_variance", c.MinVariance},
		{"max_variance", c.MaxVariance},
		{"measurement_variance", c.MeasurementVariance},
		{"min_update_rate", c.MinUpdateRate},
	}
	for _, p := range positive {
		if p.v != nil && !(*p.v > 0) {
			return fmt.Errorf("%s must be positive, got %v", p.name, *p.v)
		}
	}

	if c.ProcessNoiseDelta != nil && *c.ProcessNoiseDelta < 0 {
		return fmt.Errorf("process_noise_delta must be non-negative, got %v", *c.ProcessNoiseDelta)
	}

	if c.GetMinVariance() > c.GetMaxVariance() {
		return fmt.Errorf("min_variance (%v) must not exceed max_variance (%v)", c.GetMinVariance(), c.GetMaxVariance())
	}

	if c.GetLengthX() < c.GetResolution() || c.GetLengthY() < c.GetResolution() {
		return fmt.Errorf("grid length (%v, %v) must hold at least one cell of resolution %v",
			c.GetLengthX(), c.GetLengthY(), c.GetResolution())
	}

	if c.AxisVarianceMode != nil {
		switch *c.AxisVarianceMode {
		case AxisVarianceSequential, AxisVarianceIndependent:
		default:
			return fmt.Errorf("axis_variance_mode must be %q or %q, got %q",
				AxisVarianceSequential, AxisVarianceIndependent, *c.AxisVarianceMode)
		}
	}

	for _, id := range []struct {
		name string
		v    *string
	}{
		{"parent_frame_id", c.ParentFrameID},
		{"map_frame_id", c.MapFrameID},
		{"sensor_frame_id", c.SensorFrameID},
	} {
		if id.v != nil && *id.v == "" {
			return fmt.Errorf("%s must not be empty", id.name)
		}
	}
	if c.GetMapFrameID() == c.GetParentFrameID() {
		return fmt.Errorf("map_frame_id and parent_frame_id must differ, both are %q", c.GetMapFrameID())
	}

	if c.SettleDelay != nil && *c.SettleDelay != "" {
		d, err := time.ParseDuration(*c.SettleDelay)
		if err != nil {
			return fmt.Errorf("invalid settle_delay '%s': %w", *c.SettleDelay, err)
		}
		if d < 0 {
			return fmt.Errorf("settle_delay must be non-negative, got %v", d)
		}
	}

	return nil
}

// GetPointCloudAddr returns the point_cloud_addr value or the default.
func (c *MappingConfig) GetPointCloudAddr() string {
	if c.PointCloudAddr == nil {
		return ":2370"
	}
	return *c.PointCloudAddr
}

// GetSensorCutoffDepth returns the sensor_cutoff_depth value or the default.
func (c *MappingConfig) GetSensorCutoffDepth() float64 {
	if c.SensorCutoffDepth == nil {
		return 3.0
	}
	return *c.SensorCutoffDepth
}

// GetParentFrameID returns the parent_frame_id value or the default.
func (c *MappingConfig) GetParentFrameID() string {
	if c.ParentFrameID == nil {
		return "map"
	}
	return *c.ParentFrameID
}

// GetMapFrameID returns the map_frame_id value or the default.
func (c *MappingConfig) GetMapFrameID() string {
	if c.MapFrameID == nil {
		return "elevation_map"
	}
	return *c.MapFrameID
}

// GetSensorFrameID returns the sensor_frame_id value or the default.
func (c *MappingConfig) GetSensorFrameID() string {
	if c.SensorFrameID == nil {
		return "sensor"
	}
	return *c.SensorFrameID
}

// GetMapOffsetX returns the map_offset_x value or the default.
func (c *MappingConfig) GetMapOffsetX() float64 {
	if c.MapOffsetX == nil {
		return 0.8
	}
	return *c.MapOffsetX
}

// GetSensorPose returns the sensor_pose value or the identity pose.
func (c *MappingConfig) GetSensorPose() SensorPose {
	if c.SensorPose == nil {
		return SensorPose{}
	}
	return *c.SensorPose
}

// GetLengthX returns the length_x value or the default.
func (c *MappingConfig) GetLengthX() float64 {
	if c.LengthX == nil {
		return 3.0
	}
	return *c.LengthX
}

// GetLengthY returns the length_y value or the default.
func (c *MappingConfig) GetLengthY() float64 {
	if c.LengthY == nil {
		return 3.0
	}
	return *c.LengthY
}

// GetResolution returns the resolution value or the default.
func (c *MappingConfig) GetResolution() float64 {
	if c.Resolution == nil {
		return 0.01
	}
	return *c.Resolution
}

// GetMinVariance returns the min_variance value or the default.
func (c *MappingConfig) GetMinVariance() float64 {
	if c.MinVariance == nil {
		return 0.001
	}
	return *c.MinVariance
}

// GetMaxVariance returns the max_variance value or the default.
func (c *MappingConfig) GetMaxVariance() float64 {
	if c.MaxVariance == nil {
		return 0.5
	}
	return *c.MaxVariance
}

// GetMeasurementVariance returns the measurement_variance value or the default.
func (c *MappingConfig) GetMeasurementVariance() float64 {
	if c.MeasurementVariance == nil {
		return 0.3
	}
	return *c.MeasurementVariance
}

// GetProcessNoiseDelta returns the process_noise_delta value or the default.
func (c *MappingConfig) GetProcessNoiseDelta() float64 {
	if c.ProcessNoiseDelta == nil {
		return 0.005
	}
	return *c.ProcessNoiseDelta
}

// GetAxisVarianceMode returns the axis_variance_mode value or the default.
func (c *MappingConfig) GetAxisVarianceMode() string {
	if c.AxisVarianceMode == nil || *c.AxisVarianceMode == "" {
		return AxisVarianceSequential
	}
	return *c.AxisVarianceMode
}

// GetMinUpdateRate returns the min_update_rate value or the default.
func (c *MappingConfig) GetMinUpdateRate() float64 {
	if c.MinUpdateRate == nil {
		return 2.0
	}
	return *c.MinUpdateRate
}

// GetSettleDelay parses and returns the SettleDelay as a time.Duration.
func (c *MappingConfig) GetSettleDelay() time.Duration {
	if c.SettleDelay == nil || *c.SettleDelay == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.SettleDelay)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}

// GetMaxNoUpdateDuration returns 1/min_update_rate as a duration.
func (c *MappingConfig) GetMaxNoUpdateDuration() time.Duration {
	return time.Duration(float64(time.Second) / c.GetMinUpdateRate())
}
