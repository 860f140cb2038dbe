package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultMappingConfig(t *testing.T) {
	cfg := DefaultMappingConfig()

	if cfg.Resolution == nil || *cfg.Resolution != 0.01 {
		t.Errorf("Expected Resolution 0.01, got %v", cfg.Resolution)
	}
	if cfg.MeasurementVariance == nil || *cfg.MeasurementVariance != 0.3 {
		t.Errorf("Expected MeasurementVariance 0.3, got %v", cfg.MeasurementVariance)
	}
	if cfg.SettleDelay == nil || *cfg.SettleDelay != "1s" {
		t.Errorf("Expected SettleDelay '1s', got %v", cfg.SettleDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestEmptyMappingConfig_Getters(t *testing.T) {
	cfg := EmptyMappingConfig()

	checks := []struct {
		name      string
		got, want float64
	}{
		{"sensor_cutoff_depth", cfg.GetSensorCutoffDepth(), 3.0},
		{"length_x", cfg.GetLengthX(), 3.0},
		{"length_y", cfg.GetLengthY(), 3.0},
		{"resolution", cfg.GetResolution(), 0.01},
		{"min_variance", cfg.GetMinVariance(), 0.001},
		{"max_variance", cfg.GetMaxVariance(), 0.5},
		{"measurement_variance", cfg.GetMeasurementVariance(), 0.3},
		{"process_noise_delta", cfg.GetProcessNoiseDelta(), 0.005},
		{"min_update_rate", cfg.GetMinUpdateRate(), 2.0},
		{"map_offset_x", cfg.GetMapOffsetX(), 0.8},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if cfg.GetParentFrameID() != "map" || cfg.GetMapFrameID() != "elevation_map" || cfg.GetSensorFrameID() != "sensor" {
		t.Errorf("unexpected frame defaults: %q %q %q", cfg.GetParentFrameID(), cfg.GetMapFrameID(), cfg.GetSensorFrameID())
	}
	if cfg.GetAxisVarianceMode() != AxisVarianceSequential {
		t.Errorf("GetAxisVarianceMode() = %q, want %q", cfg.GetAxisVarianceMode(), AxisVarianceSequential)
	}
	if cfg.GetMaxNoUpdateDuration() != 500*time.Millisecond {
		t.Errorf("GetMaxNoUpdateDuration() = %v, want 500ms", cfg.GetMaxNoUpdateDuration())
	}
	if cfg.GetSensorPose() != (SensorPose{}) {
		t.Errorf("GetSensorPose() = %+v, want identity", cfg.GetSensorPose())
	}
}

func TestLoadMappingConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "length_x": 2.0,
  "length_y": 4.0,
  "resolution": 0.5,
  "min_update_rate": 4.0,
  "axis_variance_mode": "independent",
  "settle_delay": "250ms",
  "sensor_pose": {"z": 1.2, "pitch": 0.3}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadMappingConfig(configPath)
	if err != nil {
		t.Fatalf("LoadMappingConfig failed: %v", err)
	}

	if cfg.GetLengthX() != 2.0 || cfg.GetLengthY() != 4.0 {
		t.Errorf("unexpected lengths %v x %v", cfg.GetLengthX(), cfg.GetLengthY())
	}
	if cfg.GetResolution() != 0.5 {
		t.Errorf("GetResolution() = %v, want 0.5", cfg.GetResolution())
	}
	if cfg.GetMaxNoUpdateDuration() != 250*time.Millisecond {
		t.Errorf("GetMaxNoUpdateDuration() = %v, want 250ms", cfg.GetMaxNoUpdateDuration())
	}
	if cfg.GetAxisVarianceMode() != AxisVarianceIndependent {
		t.Errorf("GetAxisVarianceMode() = %q", cfg.GetAxisVarianceMode())
	}
	if cfg.GetSettleDelay() != 250*time.Millisecond {
		t.Errorf("GetSettleDelay() = %v, want 250ms", cfg.GetSettleDelay())
	}
	if pose := cfg.GetSensorPose(); pose.Z != 1.2 || pose.Pitch != 0.3 {
		t.Errorf("unexpected sensor pose %+v", pose)
	}
	// Omitted fields keep defaults.
	if cfg.GetMeasurementVariance() != 0.3 {
		t.Errorf("GetMeasurementVariance() = %v, want default 0.3", cfg.GetMeasurementVariance())
	}
}

func TestLoadMappingConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("cfg.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "missing.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"zero resolution", write("res.json", `{"resolution": 0}`), "resolution must be positive"},
		{"negative length", write("len.json", `{"length_x": -1}`), "length_x must be positive"},
		{"min above max", write("var.json", `{"min_variance": 0.6, "max_variance": 0.5}`), "must not exceed"},
		{"grid smaller than a cell", write("tiny.json", `{"length_x": 0.5, "resolution": 1.0}`), "at least one cell"},
		{"bad mode", write("mode.json", `{"axis_variance_mode": "fused"}`), "axis_variance_mode"},
		{"same frames", write("frames.json", `{"map_frame_id": "map"}`), "must differ"},
		{"bad settle delay", write("delay.json", `{"settle_delay": "soon"}`), "invalid settle_delay"},
		{"zero update rate", write("rate.json", `{"min_update_rate": 0}`), "min_update_rate must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMappingConfig(tt.path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetResolution() != 0.01 {
		t.Errorf("defaults file resolution = %v, want 0.01", cfg.GetResolution())
	}
	if cfg.GetMapOffsetX() != 0.8 {
		t.Errorf("defaults file map_offset_x = %v, want 0.8", cfg.GetMapOffsetX())
	}
}
