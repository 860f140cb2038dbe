package elevation

import (
	"fmt"
	"time"

	"github.com/banshee-data/elevation.map/internal/config"
	"github.com/banshee-data/elevation.map/internal/frames"
	"github.com/banshee-data/elevation.map/internal/grid"
)

// Config holds the resolved settings of a Map.
type Config struct {
	ParentFrameID string
	MapFrameID    string

	SensorCutoffDepth float64

	Length     grid.Length
	Resolution float64

	MinVariance         float64
	MaxVariance         float64
	MeasurementVariance float64
	ProcessNoiseDelta   float64
	AxisVarianceMode    grid.AxisVarianceMode

	// MinUpdateRate is the lowest rate (Hz) at which the map transform is
	// broadcast, with or without sensor data.
	MinUpdateRate float64

	// MapTransform places the map frame in the parent frame.
	MapTransform frames.Transform

	// SettleDelay is waited after the first broadcast in Initialize.
	SettleDelay time.Duration
}

// MaxNoUpdateDuration is the longest the map may go without a transform
// broadcast. It also bounds how long a batch waits for a transform lookup.
func (c Config) MaxNoUpdateDuration() time.Duration {
	return time.Duration(float64(time.Second) / c.MinUpdateRate)
}

// WatchdogPeriod is the freshness check interval, twice the minimum rate.
func (c Config) WatchdogPeriod() time.Duration {
	return c.MaxNoUpdateDuration() / 2
}

func (c Config) validate() error {
	if err := c.check(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) check() error {
	switch {
	case c.ParentFrameID == "" || c.MapFrameID == "":
		return fmt.Errorf("frame ids must be set")
	case c.ParentFrameID == c.MapFrameID:
		return fmt.Errorf("map frame %q must differ from its parent", c.MapFrameID)
	case !(c.Resolution > 0):
		return fmt.Errorf("resolution must be positive, got %v", c.Resolution)
	case !(c.Length.X > 0) || !(c.Length.Y > 0):
		return fmt.Errorf("length must be positive, got (%v, %v)", c.Length.X, c.Length.Y)
	case !(c.SensorCutoffDepth > 0):
		return fmt.Errorf("sensor cutoff depth must be positive, got %v", c.SensorCutoffDepth)
	case !(c.MinUpdateRate > 0):
		return fmt.Errorf("min update rate must be positive, got %v", c.MinUpdateRate)
	case c.SettleDelay < 0:
		return fmt.Errorf("settle delay must not be negative, got %v", c.SettleDelay)
	}
	return checkParams(c.params())
}

// ConfigFromMapping resolves a MappingConfig into a Config.
func ConfigFromMapping(mc *config.MappingConfig) (Config, error) {
	if err := mc.Validate(); err != nil {
		return Config{}, err
	}
	mode, err := grid.ParseAxisVarianceMode(mc.GetAxisVarianceMode())
	if err != nil {
		return Config{}, err
	}
	return Config{
		ParentFrameID:       mc.GetParentFrameID(),
		MapFrameID:          mc.GetMapFrameID(),
		SensorCutoffDepth:   mc.GetSensorCutoffDepth(),
		Length:              grid.Length{X: mc.GetLengthX(), Y: mc.GetLengthY()},
		Resolution:          mc.GetResolution(),
		MinVariance:         mc.GetMinVariance(),
		MaxVariance:         mc.GetMaxVariance(),
		MeasurementVariance: mc.GetMeasurementVariance(),
		ProcessNoiseDelta:   mc.GetProcessNoiseDelta(),
		AxisVarianceMode:    mode,
		MinUpdateRate:       mc.GetMinUpdateRate(),
		MapTransform:        frames.FromTranslation(mc.GetMapOffsetX(), 0, 0),
		SettleDelay:         mc.GetSettleDelay(),
	}, nil
}

// Params are the fusion settings that may be changed while running.
type Params struct {
	SensorCutoffDepth   float64 `json:"sensor_cutoff_depth"`
	MinVariance         float64 `json:"min_variance"`
	MaxVariance         float64 `json:"max_variance"`
	MeasurementVariance float64 `json:"measurement_variance"`
	ProcessNoiseDelta   float64 `json:"process_noise_delta"`
	AxisVarianceMode    string  `json:"axis_variance_mode"`
}

func (c Config) params() Params {
	return Params{
		SensorCutoffDepth:   c.SensorCutoffDepth,
		MinVariance:         c.MinVariance,
		MaxVariance:         c.MaxVariance,
		MeasurementVariance: c.MeasurementVariance,
		ProcessNoiseDelta:   c.ProcessNoiseDelta,
		AxisVarianceMode:    c.AxisVarianceMode.String(),
	}
}

func validateParams(p Params) error {
	if err := checkParams(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func checkParams(p Params) error {
	switch {
	case !(p.SensorCutoffDepth > 0):
		return fmt.Errorf("sensor_cutoff_depth must be positive, got %v", p.SensorCutoffDepth)
	case !(p.MinVariance > 0):
		return fmt.Errorf("min_variance must be positive, got %v", p.MinVariance)
	case !(p.MaxVariance > 0):
		return fmt.Errorf("max_variance must be positive, got %v", p.MaxVariance)
	case p.MinVariance > p.MaxVariance:
		return fmt.Errorf("min_variance (%v) exceeds max_variance (%v)", p.MinVariance, p.MaxVariance)
	case !(p.MeasurementVariance > 0):
		return fmt.Errorf("measurement_variance must be positive, got %v", p.MeasurementVariance)
	case !(p.ProcessNoiseDelta >= 0):
		return fmt.Errorf("process_noise_delta must not be negative, got %v", p.ProcessNoiseDelta)
	}
	_, err := grid.ParseAxisVarianceMode(p.AxisVarianceMode)
	return err
}
