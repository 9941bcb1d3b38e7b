package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is shared by both binaries; each one reads the sections it needs.
type Config struct {
	Vision      VisionConfig      `yaml:"vision"`
	Hover       HoverConfig       `yaml:"hover"`
	Calibration CalibrationConfig `yaml:"calibration"`
	TF          TFConfig          `yaml:"tf"`
	MAVLink     MAVLinkConfig     `yaml:"mavlink"`
	UDP         UDPConfig         `yaml:"udp"`
	Rangefinder RangefinderConfig `yaml:"rangefinder"`
	Record      RecordConfig      `yaml:"record"`
	Indicator   IndicatorConfig   `yaml:"indicator"`
	Sim         SimConfig         `yaml:"sim"`
	Web         WebConfig         `yaml:"web"`
}

type VisionConfig struct {
	Rate        time.Duration `yaml:"rate"`
	ParentFrame string        `yaml:"parent_frame"`
	ChildFrame  string        `yaml:"child_frame"`
	QueueSize   int           `yaml:"queue_size"`
}

type HoverConfig struct {
	// Window is the command freshness cutoff (inclusive).
	Window    time.Duration `yaml:"window"`
	AltitudeM float64       `yaml:"altitude_m"`
}

type CalibrationConfig struct {
	Samples int `yaml:"samples"`
}

type TFConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

type MAVLinkConfig struct {
	// Endpoint, e.g. "udp-server:0.0.0.0:14550" or "serial:/dev/ttyAMA0:921600".
	Endpoint        string `yaml:"endpoint"`
	SystemID        int    `yaml:"system_id"`
	ComponentID     int    `yaml:"component_id"`
	TargetSystem    int    `yaml:"target_system"`
	TargetComponent int    `yaml:"target_component"`
}

type UDPConfig struct {
	// Listen receives transforms, position samples, velocity commands and
	// axis errors. Empty disables ingest.
	Listen string `yaml:"listen"`
	// Telemetry is the destination for republished odometry, IMU and
	// range datagrams. Empty disables telemetry.
	Telemetry string `yaml:"telemetry"`
}

type RangefinderConfig struct {
	Enable bool `yaml:"enable"`
	// Transport is "i2c" or "serial".
	Transport   string        `yaml:"transport"`
	Count       int           `yaml:"count"`
	I2CBus      string        `yaml:"i2c_bus"`
	BaseAddr    uint16        `yaml:"base_addr"`
	SerialPorts []string      `yaml:"serial_ports"`
	Baud        int           `yaml:"baud"`
	Interval    time.Duration `yaml:"interval"`
	Stagger     time.Duration `yaml:"stagger"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
	Notes  string `yaml:"notes"`
	// Queue bounds the records waiting for the background writer.
	Queue int `yaml:"queue"`
}

type IndicatorConfig struct {
	// Pin is the BCM GPIO line of the status LED. 0 disables it.
	Pin int `yaml:"pin"`
}

type SimConfig struct {
	Enable        bool          `yaml:"enable"`
	Rate          time.Duration `yaml:"rate"`
	RadiusM       float64       `yaml:"radius_m"`
	AltitudeM     float64       `yaml:"altitude_m"`
	Period        time.Duration `yaml:"period"`
	HeadingOffset float64       `yaml:"heading_offset_rad"`
	CommandDuty   float64       `yaml:"command_duty"`
}

type WebConfig struct {
	Enable   bool   `yaml:"enable"`
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Vision.Rate <= 0 {
		cfg.Vision.Rate = 50 * time.Millisecond
	}
	if cfg.Vision.ParentFrame == "" {
		cfg.Vision.ParentFrame = "odom"
	}
	if cfg.Vision.ChildFrame == "" {
		cfg.Vision.ChildFrame = "base_link"
	}
	if cfg.Vision.QueueSize <= 0 {
		cfg.Vision.QueueSize = 256
	}
	if cfg.Vision.ParentFrame == cfg.Vision.ChildFrame {
		return fmt.Errorf("vision.parent_frame and vision.child_frame must differ")
	}

	if cfg.Hover.Window < 0 {
		return fmt.Errorf("hover.window must be >= 0")
	}
	if cfg.Hover.Window == 0 {
		cfg.Hover.Window = time.Second
	}
	if cfg.Hover.AltitudeM == 0 {
		cfg.Hover.AltitudeM = 1.0
	}

	if cfg.Calibration.Samples < 0 {
		return fmt.Errorf("calibration.samples must be >= 0")
	}
	if cfg.Calibration.Samples == 0 {
		cfg.Calibration.Samples = 200
	}

	if cfg.TF.MaxAge == 0 {
		cfg.TF.MaxAge = time.Second
	}

	cfg.MAVLink.Endpoint = strings.TrimSpace(cfg.MAVLink.Endpoint)
	if cfg.MAVLink.SystemID == 0 {
		cfg.MAVLink.SystemID = 1
	}
	if cfg.MAVLink.ComponentID == 0 {
		cfg.MAVLink.ComponentID = 197
	}
	if cfg.MAVLink.TargetSystem == 0 {
		cfg.MAVLink.TargetSystem = 1
	}
	if cfg.MAVLink.TargetComponent == 0 {
		cfg.MAVLink.TargetComponent = 1
	}
	for name, v := range map[string]int{
		"mavlink.system_id":        cfg.MAVLink.SystemID,
		"mavlink.component_id":     cfg.MAVLink.ComponentID,
		"mavlink.target_system":    cfg.MAVLink.TargetSystem,
		"mavlink.target_component": cfg.MAVLink.TargetComponent,
	} {
		if v < 1 || v > 255 {
			return fmt.Errorf("%s must be in [1,255]", name)
		}
	}
	if cfg.MAVLink.Endpoint == "" && !cfg.Sim.Enable {
		return fmt.Errorf("mavlink.endpoint is required")
	}

	cfg.UDP.Listen = strings.TrimSpace(cfg.UDP.Listen)
	cfg.UDP.Telemetry = strings.TrimSpace(cfg.UDP.Telemetry)

	if err := defaultRangefinder(&cfg.Rangefinder); err != nil {
		return err
	}

	if cfg.Record.Queue <= 0 {
		cfg.Record.Queue = 256
	}
	if cfg.Record.Enable && strings.TrimSpace(cfg.Record.Path) == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}

	if cfg.Indicator.Pin < 0 {
		return fmt.Errorf("indicator.pin must be >= 0")
	}

	// Simulator defaults (safe even if disabled).
	if cfg.Sim.Rate <= 0 {
		cfg.Sim.Rate = cfg.Vision.Rate
	}
	if cfg.Sim.RadiusM <= 0 {
		cfg.Sim.RadiusM = 5
	}
	if cfg.Sim.AltitudeM == 0 {
		cfg.Sim.AltitudeM = cfg.Hover.AltitudeM
	}
	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 60 * time.Second
	}
	if cfg.Sim.CommandDuty < 0 || cfg.Sim.CommandDuty > 1 {
		return fmt.Errorf("sim.command_duty must be in [0,1]")
	}

	if cfg.Web.Enable && strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.LogLines <= 0 {
		cfg.Web.LogLines = 2000
	}

	return nil
}

func defaultRangefinder(rf *RangefinderConfig) error {
	rf.Transport = strings.ToLower(strings.TrimSpace(rf.Transport))
	if rf.Transport == "" {
		rf.Transport = "i2c"
	}
	if rf.Interval <= 0 {
		rf.Interval = time.Second
	}
	if rf.Stagger < 0 {
		return fmt.Errorf("rangefinder.stagger must be >= 0")
	}
	if rf.Baud <= 0 {
		rf.Baud = 115200
	}
	switch rf.Transport {
	case "i2c":
		if rf.I2CBus == "" {
			rf.I2CBus = "/dev/i2c-1"
		}
		if rf.BaseAddr == 0 {
			rf.BaseAddr = 0x30
		}
		if rf.Count <= 0 {
			rf.Count = 1
		}
		if rf.BaseAddr > 0x77 || int(rf.BaseAddr)+rf.Count-1 > 0x77 {
			return fmt.Errorf("rangefinder.base_addr + count exceeds the 7-bit address space")
		}
	case "serial":
		if rf.Count <= 0 {
			rf.Count = len(rf.SerialPorts)
		}
		if rf.Enable && len(rf.SerialPorts) == 0 {
			return fmt.Errorf("rangefinder.serial_ports is required when rangefinder.transport is 'serial'")
		}
		if rf.Count > len(rf.SerialPorts) {
			return fmt.Errorf("rangefinder.count exceeds rangefinder.serial_ports")
		}
	default:
		return fmt.Errorf("rangefinder.transport must be 'i2c' or 'serial'")
	}
	return nil
}
