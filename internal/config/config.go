// Package config provides configuration structures and defaults for cellmon
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Session     SessionConfig     `yaml:"session" mapstructure:"session"`         // Operator choices that may be preset
	Port        int               `yaml:"port" mapstructure:"port"`               // Well-known UDP port shared by monitor and capture
	BandPlan    BandPlanConfig    `yaml:"band_plan" mapstructure:"band_plan"`     // Channel number to frequency conversion
	Reclaim     ReclaimConfig     `yaml:"reclaim" mapstructure:"reclaim"`         // Port reclamation settings
	Scanner     ScannerConfig     `yaml:"scanner" mapstructure:"scanner"`         // Channel scanner process
	Monitor     MonitorConfig     `yaml:"monitor" mapstructure:"monitor"`         // Background decoder process
	Capture     CaptureConfig     `yaml:"capture" mapstructure:"capture"`         // Foreground packet decoder process
	Identifiers IdentifiersConfig `yaml:"identifiers" mapstructure:"identifiers"` // MCC/MNC lookup table
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`           // Record output sink
	GPS         GPSConfig         `yaml:"gps" mapstructure:"gps"`                 // Receiver position tagging
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`         // Prometheus endpoint
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`         // Logging configuration
}

// SessionConfig holds answers to the interactive prompts. Empty values are
// asked for at runtime.
type SessionConfig struct {
	Device    string `yaml:"device" mapstructure:"device"`         // Device name or menu number (rtl, hackrf, bladerf / 1-3)
	Frequency string `yaml:"frequency" mapstructure:"frequency"`   // Frequency or CHANNEL=n override; empty means scan
	Scan      bool   `yaml:"scan" mapstructure:"scan"`             // Scan without asking for an override
	Channel   string `yaml:"channel" mapstructure:"channel"`       // 1-based pick from scan results
	SkipProbe bool   `yaml:"skip_probe" mapstructure:"skip_probe"` // Skip the attached-device probe
}

// BandPlanConfig describes the linear channel plan
type BandPlanConfig struct {
	BaseMHz float64 `yaml:"base_mhz" mapstructure:"base_mhz"` // Frequency of channel 0 in MHz
	StepMHz float64 `yaml:"step_mhz" mapstructure:"step_mhz"` // Channel spacing in MHz
}

// ReclaimConfig controls port owner introspection
type ReclaimConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"` // Kill leftover port owners before starting
	Tool    string `yaml:"tool" mapstructure:"tool"`       // Introspection binary (lsof)
}

// ScannerConfig contains the channel scanner invocation
type ScannerConfig struct {
	Binary string        `yaml:"binary" mapstructure:"binary"`   // Scanner executable
	UsePTY bool          `yaml:"use_pty" mapstructure:"use_pty"` // Run under a pseudo-terminal so output is line-buffered
	Grace  time.Duration `yaml:"grace" mapstructure:"grace"`     // Wait for exit after terminate before killing
}

// MonitorConfig contains the background decoder invocation
type MonitorConfig struct {
	Headless      string        `yaml:"headless" mapstructure:"headless"`               // Preferred headless decoder
	Interactive   string        `yaml:"interactive" mapstructure:"interactive"`         // Fallback decoder
	NoDisplayFlag string        `yaml:"no_display_flag" mapstructure:"no_display_flag"` // Flag that disables the fallback's display
	Settle        time.Duration `yaml:"settle" mapstructure:"settle"`                   // Wait after spawn before continuing
	Grace         time.Duration `yaml:"grace" mapstructure:"grace"`                     // Wait for exit after terminate before killing
}

// CaptureConfig contains the packet decoder invocation
type CaptureConfig struct {
	Binary    string        `yaml:"binary" mapstructure:"binary"`       // Packet decoder executable
	Interface string        `yaml:"interface" mapstructure:"interface"` // Capture interface (loopback)
	Fields    []string      `yaml:"fields" mapstructure:"fields"`       // Field set, positional order of the output
	Grace     time.Duration `yaml:"grace" mapstructure:"grace"`         // Wait for exit after terminate before killing
}

// IdentifiersConfig locates the MCC/MNC table
type IdentifiersConfig struct {
	File string `yaml:"file" mapstructure:"file"` // CSV with Country,Network,MCC,MNC header
}

// OutputConfig controls how capture records are emitted
type OutputConfig struct {
	Format string        `yaml:"format" mapstructure:"format"` // text or json
	Dedupe time.Duration `yaml:"dedupe" mapstructure:"dedupe"` // Drop repeats seen within this window (0 disables)
}

// GPSConfig contains GPS receiver configuration parameters
type GPSConfig struct {
	Mode            string        `yaml:"mode" mapstructure:"mode"`                         // none, manual, nmea or gpsd
	Port            string        `yaml:"port" mapstructure:"port"`                         // Serial port device path (nmea)
	BaudRate        int           `yaml:"baud_rate" mapstructure:"baud_rate"`               // Serial baud rate (nmea)
	GPSDHost        string        `yaml:"gpsd_host" mapstructure:"gpsd_host"`               // gpsd host (gpsd)
	GPSDPort        string        `yaml:"gpsd_port" mapstructure:"gpsd_port"`               // gpsd port (gpsd)
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`                   // Wait for first fix
	ManualLatitude  float64       `yaml:"manual_latitude" mapstructure:"manual_latitude"`   // Fixed latitude (manual)
	ManualLongitude float64       `yaml:"manual_longitude" mapstructure:"manual_longitude"` // Fixed longitude (manual)
	ManualAltitude  float64       `yaml:"manual_altitude" mapstructure:"manual_altitude"`   // Fixed altitude (manual)
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"` // host:port, empty disables
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // debug, info, warn, error
	File       string `yaml:"file" mapstructure:"file"`               // Optional rotated log file
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"` // Rotate after this size
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // Rotated files to keep
}

// DefaultFields is the canonical tshark field set. Capture lines are mapped
// onto it positionally.
var DefaultFields = []string{
	"frame.time",
	"e212.imsi",
	"e212.mcc",
	"e212.mnc",
	"gsm_a.tmsi",
	"gsm_a.lac",
	"gsm_sms.sms_text",
	"gsm_a.imei",
	"gsm_a.imeisv",
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Port: 4729, // GSMTAP
		BandPlan: BandPlanConfig{
			BaseMHz: 900.0, // Simplified plan, not a regulatory table
			StepMHz: 0.2,   // 200 kHz channel spacing
		},
		Reclaim: ReclaimConfig{
			Enabled: true,
			Tool:    "lsof",
		},
		Scanner: ScannerConfig{
			Binary: "grgsm_scanner",
			UsePTY: true,
			Grace:  5 * time.Second,
		},
		Monitor: MonitorConfig{
			Headless:      "grgsm_livemon_headless",
			Interactive:   "grgsm_livemon",
			NoDisplayFlag: "-p",
			Settle:        2 * time.Second,
			Grace:         3 * time.Second,
		},
		Capture: CaptureConfig{
			Binary:    "tshark",
			Interface: "lo",
			Fields:    append([]string(nil), DefaultFields...),
			Grace:     3 * time.Second,
		},
		Identifiers: IdentifiersConfig{
			File: "mcc-mnc.csv",
		},
		Output: OutputConfig{
			Format: "text",
		},
		GPS: GPSConfig{
			Mode:     "none",
			Port:     "/dev/ttyUSB0",
			BaudRate: 9600,
			GPSDHost: "localhost",
			GPSDPort: "2947",
			Timeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Validate checks values that would otherwise fail late in the session
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.BandPlan.StepMHz <= 0 {
		return fmt.Errorf("invalid band plan step: %v MHz (must be positive)", c.BandPlan.StepMHz)
	}
	if c.BandPlan.BaseMHz <= 0 {
		return fmt.Errorf("invalid band plan base: %v MHz (must be positive)", c.BandPlan.BaseMHz)
	}
	if c.Scanner.Binary == "" {
		return fmt.Errorf("scanner binary not specified")
	}
	if c.Monitor.Headless == "" && c.Monitor.Interactive == "" {
		return fmt.Errorf("no monitor binary specified")
	}
	if c.Capture.Binary == "" {
		return fmt.Errorf("capture binary not specified")
	}
	if len(c.Capture.Fields) == 0 {
		return fmt.Errorf("capture field list is empty")
	}

	switch strings.ToLower(c.Output.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", c.Output.Format)
	}
	if c.Output.Dedupe < 0 {
		return fmt.Errorf("invalid dedupe window: %v", c.Output.Dedupe)
	}

	switch c.GPS.Mode {
	case "", "none":
	case "manual":
		if c.GPS.ManualLatitude < -90 || c.GPS.ManualLatitude > 90 {
			return fmt.Errorf("invalid latitude: %.8f (must be between -90 and 90 degrees)", c.GPS.ManualLatitude)
		}
		if c.GPS.ManualLongitude < -180 || c.GPS.ManualLongitude > 180 {
			return fmt.Errorf("invalid longitude: %.8f (must be between -180 and 180 degrees)", c.GPS.ManualLongitude)
		}
	case "nmea":
		if c.GPS.Port == "" {
			return fmt.Errorf("GPS port not specified for NMEA mode")
		}
	case "gpsd":
		if c.GPS.GPSDHost == "" || c.GPS.GPSDPort == "" {
			return fmt.Errorf("GPSD host and port must be specified for gpsd mode")
		}
	default:
		return fmt.Errorf("invalid GPS mode: %s (must be 'none', 'manual', 'nmea', or 'gpsd')", c.GPS.Mode)
	}
	return nil
}
