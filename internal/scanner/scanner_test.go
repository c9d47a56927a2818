package scanner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"cellmon/internal/channel"
	"cellmon/internal/config"
	"cellmon/internal/mccmnc"
	"cellmon/internal/proc"
	"cellmon/internal/sdr"
)

func TestParseLineVariants(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind LineKind
		rec  channel.Record
	}{
		{
			name: "minimal",
			line: "ARFCN:  975, Freq: 925.2M",
			kind: MinimalLine,
			rec:  channel.Record{Kind: channel.Minimal, Number: 975, Frequency: "925.2M", FrequencyHz: 925200000},
		},
		{
			name: "extended",
			line: "ARFCN:   23, Freq: 939.6M, CID:  4321, LAC:  1234, MCC: 262, MNC:   01, Pwr: -41",
			kind: ExtendedLine,
			rec: channel.Record{
				Kind: channel.Extended, Number: 23, Frequency: "939.6M", FrequencyHz: 939600000,
				CellID: 4321, LAC: 1234, Network: mccmnc.Code{MCC: "262", MNC: "01"}, Power: -41,
			},
		},
		{name: "garbage", line: "linux; GNU C++ version 9.3.0; Boost_107100", kind: Ignored},
		{name: "empty", line: "", kind: Ignored},
		{name: "no unit", line: "ARFCN:  975, Freq: 925.2", kind: Ignored},
		{name: "frequency overflow", line: "ARFCN:  975, Freq: 99999999999999999999G", kind: Ignored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, kind := ParseLine(tt.line)
			if kind != tt.kind {
				t.Fatalf("kind=%v want %v", kind, tt.kind)
			}
			if rec != tt.rec {
				t.Fatalf("record=%+v want %+v", rec, tt.rec)
			}
		})
	}
}

func TestParseKeepsOrderAndSkipsGarbage(t *testing.T) {
	input := strings.Join([]string{
		"ARFCN:    1, Freq: 900.2M",
		"gr-osmosdr 0.2.0.0 (0.2.0) gnuradio 3.8.1.0",
		"ARFCN:    2, Freq: 900.4M, CID:  11, LAC:  22, MCC: 111, MNC:  22, Pwr: -60",
	}, "\n")

	var seen []int
	records, err := Parse(strings.NewReader(input), func(r channel.Record) {
		seen = append(seen, r.Number)
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Number != 1 || records[1].Number != 2 {
		t.Fatalf("records out of order: %+v", records)
	}
	if records[1].Kind != channel.Extended {
		t.Fatalf("second record should be extended, got %v", records[1].Kind)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("callback order %v", seen)
	}
}

func writeScanner(t *testing.T, body string) config.ScannerConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grgsm_scanner")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to write fake scanner: %v", err)
	}
	return config.ScannerConfig{Binary: path, Grace: 2 * time.Second}
}

func newTestScanner(cfg config.ScannerConfig) *Scanner {
	return New(cfg, log.New(io.Discard))
}

func TestScanCollectsRecords(t *testing.T) {
	cfg := writeScanner(t, `[ "$1" = "--args" ] || exit 2
[ "$2" = "rtl" ] || exit 3
echo "ARFCN:    1, Freq: 900.0M"
echo "not a channel line"
echo "ARFCN:    5, Freq: 901.0M"
`)
	s := newTestScanner(cfg)

	records, err := s.Scan(context.Background(), sdr.RTLSDR, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d: %+v", len(records), records)
	}
	if records[0].Frequency != "900.0M" || records[1].Number != 5 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestScanPortConflict(t *testing.T) {
	cfg := writeScanner(t, `echo "ARFCN:    1, Freq: 900.0M"
echo "OSError: [Errno 98] Address already in use" >&2
exit 1
`)
	s := newTestScanner(cfg)

	records, err := s.Scan(context.Background(), sdr.HackRF, nil)
	if !errors.Is(err, proc.ErrPortConflict) {
		t.Fatalf("expected ErrPortConflict, got %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("collected records should be kept, got %d", len(records))
	}
}

func TestScanCancelKeepsCollected(t *testing.T) {
	cfg := writeScanner(t, `echo "ARFCN:    7, Freq: 901.4M"
exec sleep 30
`)
	s := newTestScanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	records, err := s.Scan(ctx, sdr.RTLSDR, func(channel.Record) { cancel() })
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("cancelled scan took %v", time.Since(start))
	}
	if len(records) != 1 || records[0].Number != 7 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestScanMissingBinary(t *testing.T) {
	s := newTestScanner(config.ScannerConfig{Binary: "cellmon-test-no-scanner"})
	if err := s.Check(); !errors.Is(err, proc.ErrToolingMissing) {
		t.Fatalf("Check: expected ErrToolingMissing, got %v", err)
	}
	if _, err := s.Scan(context.Background(), sdr.RTLSDR, nil); !errors.Is(err, proc.ErrToolingMissing) {
		t.Fatalf("Scan: expected ErrToolingMissing, got %v", err)
	}
}

func TestScanUnderPTY(t *testing.T) {
	cfg := writeScanner(t, `echo "ARFCN:   12, Freq: 902.4M"
`)
	cfg.UsePTY = true
	s := newTestScanner(cfg)

	records, err := s.Scan(context.Background(), sdr.RTLSDR, nil)
	if err != nil {
		if errors.Is(err, proc.ErrToolingMissing) {
			t.Fatalf("Scan: %v", err)
		}
		t.Skipf("pseudo-terminal unavailable: %v", err)
	}
	if len(records) != 1 || records[0].Number != 12 {
		t.Fatalf("unexpected records %+v", records)
	}
}
