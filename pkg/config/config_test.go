package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default station invalid: %v", err)
	}
	if len(cfg.Axes) != 2 {
		t.Errorf("default axes = %d, want azimuth and altitude", len(cfg.Axes))
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Serial.Device != "/dev/serial0" {
		t.Errorf("default device = %q", cfg.Serial.Device)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	data := `
serial:
  device: /dev/ttyUSB0
  baud: 57600
  driver: tarm
monitor:
  enabled: true
  addr: ":9999"
log_level: debug
axes:
  - name: azimuth
    pins:
      step: azimuth-step
      direction: direction
      enable: enable
      fault: azimuth-fault
    gear_ratio: 120
    motor_steps_per_rev: 200
    min_angle: 0
    max_angle: 360
    rest_angle: 180
    current_angle: 180
    orientation: 1
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Device != "/dev/ttyUSB0" || cfg.Serial.Baud != 57600 || cfg.Serial.Driver != "tarm" {
		t.Errorf("serial config not applied: %+v", cfg.Serial)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.Addr != ":9999" {
		t.Errorf("monitor config not applied: %+v", cfg.Monitor)
	}
	if len(cfg.Axes) != 1 || cfg.Axes[0].GearRatio != 120 {
		t.Errorf("axes not replaced: %+v", cfg.Axes)
	}
}

func TestValidateCatchesMistakes(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no axes", func(c *Config) { c.Axes = nil }},
		{"unnamed axis", func(c *Config) { c.Axes[0].Name = "" }},
		{"duplicate axis", func(c *Config) { c.Axes[1].Name = c.Axes[0].Name }},
		{"zero gear ratio", func(c *Config) { c.Axes[0].GearRatio = 0 }},
		{"zero steps", func(c *Config) { c.Axes[0].MotorStepsPerRev = 0 }},
		{"inverted angles", func(c *Config) { c.Axes[0].MinAngle = 350 }},
		{"bad orientation", func(c *Config) { c.Axes[0].Orientation = 0 }},
		{"missing step pin", func(c *Config) { c.Axes[0].Pins.Step = "" }},
		{"bad driver", func(c *Config) { c.Serial.Driver = "smoke" }},
	}
	for _, c := range cases {
		cfg := Default()
		c.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate accepted a broken station", c.name)
		}
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/station.yaml"); err == nil {
		t.Error("Load accepted a missing file")
	}
}
