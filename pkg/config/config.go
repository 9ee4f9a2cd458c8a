// Package config loads the YAML station file describing the serial
// link, the monitor endpoint and the geometry of each mount axis. The
// station file supplies startup defaults only; the host's configure
// messages remain authoritative once a session is up.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Serial describes the host link.
type Serial struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
	// Driver selects the serial backend: "termios" (direct ioctl) or
	// "tarm" (portable library).
	Driver string `yaml:"driver"`
}

// Monitor describes the optional WebSocket diagnostics mirror.
type Monitor struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AxisPins names the GPIO pins wired to one axis driver. Direction,
// mode and enable lines may repeat between axes when the board shares
// them.
type AxisPins struct {
	Step      string `yaml:"step"`
	Direction string `yaml:"direction"`
	Mode0     string `yaml:"mode0"`
	Mode1     string `yaml:"mode1"`
	Mode2     string `yaml:"mode2"`
	Enable    string `yaml:"enable"`
	Fault     string `yaml:"fault"`
}

// Axis is the startup geometry for one motor.
type Axis struct {
	Name             string   `yaml:"name"`
	Pins             AxisPins `yaml:"pins"`
	GearRatio        float64  `yaml:"gear_ratio"`
	MotorStepsPerRev int      `yaml:"motor_steps_per_rev"`
	MinAngle         float64  `yaml:"min_angle"`
	MaxAngle         float64  `yaml:"max_angle"`
	RestAngle        float64  `yaml:"rest_angle"`
	CurrentAngle     float64  `yaml:"current_angle"`
	Orientation      int      `yaml:"orientation"`
	BacklashAngle    float64  `yaml:"backlash_angle"`
}

// Config is the full station file.
type Config struct {
	Serial   Serial  `yaml:"serial"`
	Monitor  Monitor `yaml:"monitor"`
	LogLevel string  `yaml:"log_level"`
	Axes     []Axis  `yaml:"axes"`
}

// Default returns the standard two-axis telescope mount station:
// azimuth sweeping 45..315 degrees, altitude 0..90, both on 400-step
// motors behind 240:1 gearing.
func Default() Config {
	return Config{
		Serial:  Serial{Device: "/dev/serial0", Baud: 115200, Driver: "termios"},
		Monitor: Monitor{Addr: ":9180"},
		Axes: []Axis{
			{
				Name: "azimuth",
				Pins: AxisPins{
					Step: "azimuth-step", Direction: "direction", Mode0: "mode0",
					Mode1: "mode1", Mode2: "mode2", Enable: "enable", Fault: "azimuth-fault",
				},
				GearRatio:        240,
				MotorStepsPerRev: 400,
				MinAngle:         45,
				MaxAngle:         315,
				RestAngle:        180,
				CurrentAngle:     180,
				Orientation:      1,
			},
			{
				Name: "altitude",
				Pins: AxisPins{
					Step: "altitude-step", Direction: "direction", Mode0: "mode0",
					Mode1: "mode1", Mode2: "mode2", Enable: "enable", Fault: "altitude-fault",
				},
				GearRatio:        240,
				MotorStepsPerRev: 400,
				MinAngle:         0,
				MaxAngle:         90,
				RestAngle:        0,
				CurrentAngle:     0,
				Orientation:      -1,
			},
		},
	}
}

// Load reads and validates a station file. An empty path returns the
// default station.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the station file for mistakes that would otherwise
// surface as confusing motion behaviour later.
func (c Config) Validate() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("config: no axes defined")
	}
	seen := map[string]bool{}
	for _, a := range c.Axes {
		if a.Name == "" {
			return fmt.Errorf("config: axis with no name")
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate axis %q", a.Name)
		}
		seen[a.Name] = true
		if a.GearRatio <= 0 {
			return fmt.Errorf("config: axis %s: gear ratio must be positive", a.Name)
		}
		if a.MotorStepsPerRev <= 0 {
			return fmt.Errorf("config: axis %s: motor steps per rev must be positive", a.Name)
		}
		if a.MinAngle >= a.MaxAngle {
			return fmt.Errorf("config: axis %s: min angle %v not below max %v", a.Name, a.MinAngle, a.MaxAngle)
		}
		if a.Orientation != 1 && a.Orientation != -1 {
			return fmt.Errorf("config: axis %s: orientation must be 1 or -1", a.Name)
		}
		if a.Pins.Step == "" || a.Pins.Enable == "" {
			return fmt.Errorf("config: axis %s: step and enable pins are required", a.Name)
		}
	}
	if c.Serial.Baud < 0 {
		return fmt.Errorf("config: negative baud rate")
	}
	switch c.Serial.Driver {
	case "", "termios", "tarm":
	default:
		return fmt.Errorf("config: unknown serial driver %q", c.Serial.Driver)
	}
	return nil
}
