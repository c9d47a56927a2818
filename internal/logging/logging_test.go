package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cellmon/internal/config"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(config.LoggingConfig{Level: "warn"}, false, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "port", 4729)
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("info message logged at warn level")
	}
	if !strings.Contains(buf.String(), "shown") || !strings.Contains(buf.String(), "port=4729") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestVerboseOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(config.LoggingConfig{Level: "error"}, true, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("details")
	if !strings.Contains(buf.String(), "details") {
		t.Fatalf("debug message missing with verbose: %q", buf.String())
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, _, err := newLogger(config.LoggingConfig{Level: "loud"}, false, &bytes.Buffer{}); err == nil {
		t.Fatal("Expected error for invalid level")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellmon.log")
	var buf bytes.Buffer
	logger, closer, err := newLogger(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1}, false, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("written to both")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "written to both") || !strings.Contains(buf.String(), "written to both") {
		t.Fatalf("message missing: file=%q console=%q", data, buf.String())
	}
}
