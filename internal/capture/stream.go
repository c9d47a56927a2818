// Package capture runs the foreground packet decoder on the loopback
// interface and turns its field output into enriched records.
package capture

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"cellmon/internal/config"
	"cellmon/internal/gps"
	"cellmon/internal/mccmnc"
	"cellmon/internal/proc"
)

// Sink consumes records in arrival order
type Sink interface {
	Write(Record) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(Record) error

func (f SinkFunc) Write(rec Record) error { return f(rec) }

// Locator supplies the receiver position attached to records
type Locator interface {
	Position() (gps.Position, bool)
}

// Status summarizes a finished capture run
type Status struct {
	Records     int
	Enriched    int
	Skipped     int
	Interrupted bool
	Stderr      string
}

// Stream owns one run of the packet decoder
type Stream struct {
	config  config.CaptureConfig
	port    int
	table   *mccmnc.Table
	locator Locator
	logger  *log.Logger
}

// New returns a Stream reading decoded packets sent to port. table may be nil,
// which disables enrichment.
func New(cfg config.CaptureConfig, port int, table *mccmnc.Table, logger *log.Logger) *Stream {
	return &Stream{
		config: cfg,
		port:   port,
		table:  table,
		logger: logger,
	}
}

// SetLocator attaches the latest receiver fix to every record
func (s *Stream) SetLocator(l Locator) {
	s.locator = l
}

// Check verifies the decoder binary can be found
func (s *Stream) Check() error {
	_, err := proc.LookPath(s.config.Binary)
	return err
}

// Args returns the decoder's command line
func (s *Stream) Args() []string {
	iface := s.config.Interface
	if iface == "" {
		iface = "lo"
	}
	args := []string{
		"-i", iface,
		"-f", fmt.Sprintf("port %d and not icmp and udp", s.port),
		"-l",
	}
	if filter := DisplayFilter(s.config.Fields); filter != "" {
		args = append(args, "-Y", filter)
	}
	args = append(args, "-T", "fields")
	for _, f := range s.config.Fields {
		args = append(args, "-e", f)
	}
	return append(args,
		"-E", "header=y",
		"-E", "separator=,",
		"-E", "quote=d",
	)
}

// DisplayFilter keeps only packets carrying at least one identity field.
// The frame timestamp is present on every packet and is left out.
func DisplayFilter(fields []string) string {
	var terms []string
	for _, f := range fields {
		if strings.HasPrefix(f, "frame.") {
			continue
		}
		terms = append(terms, f)
	}
	if len(terms) == 0 {
		return ""
	}
	return "(" + strings.Join(terms, " or ") + ")"
}

// Run starts the decoder and forwards every record to sink until ctx is
// cancelled or the decoder exits. Cancellation is the normal way to stop:
// the decoder is asked to terminate, waited on and its diagnostics drained
// before Run returns with Status.Interrupted set.
func (s *Stream) Run(ctx context.Context, sink Sink) (Status, error) {
	var status Status

	path, err := proc.LookPath(s.config.Binary)
	if err != nil {
		return status, err
	}
	args := s.Args()
	s.logger.Info("launching packet decoder", "command", path+" "+strings.Join(args, " "))

	p, err := proc.Start(proc.Options{
		Path:   path,
		Args:   args,
		Output: proc.Pipe,
		Group:  true,
	})
	if err != nil {
		return status, err
	}

	stop := make(chan struct{})
	defer close(stop)
	lines := p.Lines(stop)

	var sinkErr error
	header := true
read:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break read
			}
			if header {
				header = false
				s.logger.Debug("capture header", "line", line)
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			rec, err := ParseLine(line, s.config.Fields)
			if err != nil {
				status.Skipped++
				s.logger.Debug("skipping capture line", "line", line, "err", err)
				continue
			}
			Enrich(&rec, s.table)
			if s.locator != nil {
				if pos, ok := s.locator.Position(); ok {
					rec.Position = &pos
				}
			}
			if err := sink.Write(rec); err != nil {
				sinkErr = fmt.Errorf("failed to write capture record: %w", err)
				break read
			}
			status.Records++
			if rec.Enriched() {
				status.Enriched++
			}
		case <-ctx.Done():
			status.Interrupted = true
			break read
		}
	}

	if status.Interrupted {
		s.logger.Info("capture interrupted by user", "records", status.Records)
	}
	if status.Interrupted || sinkErr != nil {
		if err := p.Terminate(syscall.SIGTERM, s.grace()); err != nil {
			s.logger.Error("packet decoder did not stop cleanly", "err", err)
		}
	} else if !p.WaitTimeout(s.grace()) {
		if err := p.Terminate(syscall.SIGTERM, s.grace()); err != nil {
			s.logger.Error("packet decoder did not stop cleanly", "err", err)
		}
	}
	p.Close()

	status.Stderr = p.Stderr()
	if status.Stderr != "" {
		s.logger.Debug("packet decoder diagnostics", "stderr", status.Stderr)
	}
	if sinkErr != nil {
		return status, sinkErr
	}
	if cerr := proc.Classify(status.Stderr); cerr != nil {
		return status, fmt.Errorf("packet decoder: %w", cerr)
	}
	if !status.Interrupted {
		if exitErr := p.ExitErr(); exitErr != nil {
			return status, fmt.Errorf("packet decoder exited: %w: %s", exitErr, status.Stderr)
		}
	}
	return status, nil
}

func (s *Stream) grace() time.Duration {
	if s.config.Grace <= 0 {
		return 3 * time.Second
	}
	return s.config.Grace
}
