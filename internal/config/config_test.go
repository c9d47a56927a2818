package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.Port != 4729 {
		t.Errorf("Expected default port 4729, got %d", cfg.Port)
	}
	if len(cfg.Capture.Fields) != len(DefaultFields) {
		t.Errorf("Expected %d capture fields, got %d", len(DefaultFields), len(cfg.Capture.Fields))
	}

	// The default field list must be a copy so callers can edit it freely.
	cfg.Capture.Fields[0] = "changed"
	if DefaultFields[0] != "frame.time" {
		t.Fatalf("DefaultFields was mutated through a config: %q", DefaultFields[0])
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Port = 0 }, "invalid port"},
		{"step", func(c *Config) { c.BandPlan.StepMHz = 0 }, "band plan step"},
		{"format", func(c *Config) { c.Output.Format = "xml" }, "output format"},
		{"gps mode", func(c *Config) { c.GPS.Mode = "galileo" }, "GPS mode"},
		{"latitude", func(c *Config) { c.GPS.Mode = "manual"; c.GPS.ManualLatitude = 91 }, "latitude"},
		{"monitor", func(c *Config) { c.Monitor.Headless = ""; c.Monitor.Interactive = "" }, "monitor binary"},
		{"fields", func(c *Config) { c.Capture.Fields = nil }, "field list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
