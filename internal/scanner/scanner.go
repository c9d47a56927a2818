// Package scanner runs the external GSM band scanner and turns its output
// into channel records.
package scanner

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"cellmon/internal/channel"
	"cellmon/internal/config"
	"cellmon/internal/proc"
	"cellmon/internal/sdr"
)

// Scanner spawns the band scanner for a device
type Scanner struct {
	config config.ScannerConfig
	logger *log.Logger
}

// New returns a Scanner
func New(cfg config.ScannerConfig, logger *log.Logger) *Scanner {
	return &Scanner{config: cfg, logger: logger}
}

// Check verifies the scanner binary can be found
func (s *Scanner) Check() error {
	_, err := proc.LookPath(s.config.Binary)
	return err
}

// Scan runs the scanner on device and collects channel records as they are
// printed. found, if non-nil, is called for each record in output order.
//
// Cancelling ctx stops reading and terminates the scanner; records collected
// so far are returned without error. In every case the scanner has exited
// before Scan returns, so the device is free for the next process.
func (s *Scanner) Scan(ctx context.Context, device sdr.Device, found func(channel.Record)) ([]channel.Record, error) {
	path, err := proc.LookPath(s.config.Binary)
	if err != nil {
		return nil, err
	}

	output := proc.Pipe
	if s.config.UsePTY {
		output = proc.PTY
	}
	args := []string{"--args", device.Token()}
	s.logger.Info("starting scan", "command", path, "args", args)

	p, err := proc.Start(proc.Options{Path: path, Args: args, Output: output})
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	defer close(stop)
	lines := p.Lines(stop)

	var records []channel.Record
	cancelled := false
read:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break read
			}
			rec, kind := ParseLine(line)
			if kind == Ignored {
				s.logger.Debug("scanner output", "line", line)
				continue
			}
			records = append(records, rec)
			if found != nil {
				found(rec)
			}
		case <-ctx.Done():
			cancelled = true
			break read
		}
	}

	if cancelled {
		s.logger.Info("scan aborted by user", "channels", len(records))
		if err := p.Terminate(syscall.SIGINT, s.grace()); err != nil {
			s.logger.Error("scanner did not stop cleanly", "err", err)
		}
	} else if !p.WaitTimeout(s.grace()) {
		s.logger.Warn("scanner still running after end of output, terminating")
		if err := p.Terminate(syscall.SIGTERM, s.grace()); err != nil {
			s.logger.Error("scanner did not stop cleanly", "err", err)
		}
	}
	p.Close()

	if stderr := p.Stderr(); stderr != "" {
		s.logger.Warn("scanner diagnostics", "stderr", stderr)
		if cerr := proc.Classify(stderr); cerr != nil {
			return records, fmt.Errorf("scanner on %s: %w", device, cerr)
		}
	}
	return records, nil
}

func (s *Scanner) grace() time.Duration {
	if s.config.Grace <= 0 {
		return 5 * time.Second
	}
	return s.config.Grace
}
