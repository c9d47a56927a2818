// Package monitor launches the background GSM decoder that republishes
// decoded bursts to the shared UDP port.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"cellmon/internal/channel"
	"cellmon/internal/config"
	"cellmon/internal/proc"
	"cellmon/internal/sdr"
)

// Launcher starts the decoder
type Launcher struct {
	config   config.MonitorConfig
	logger   *log.Logger
	lookPath func(string) (string, error)
}

// New returns a Launcher
func New(cfg config.MonitorConfig, logger *log.Logger) *Launcher {
	return &Launcher{
		config:   cfg,
		logger:   logger,
		lookPath: proc.LookPath,
	}
}

// Command is a resolved decoder invocation
type Command struct {
	Path     string
	Args     []string
	Fallback bool
}

func (c Command) String() string {
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Check verifies that at least one decoder binary can be found
func (l *Launcher) Check() error {
	_, err := l.Resolve(sdr.RTLSDR, channel.FrequencySpec{Frequency: "0M"})
	return err
}

// Resolve builds the decoder command for device and freq, preferring the
// headless decoder and falling back to the interactive one without display.
func (l *Launcher) Resolve(device sdr.Device, freq channel.FrequencySpec) (Command, error) {
	args := []string{"--args", device.Token(), "-f", freq.ENotation()}

	if l.config.Headless != "" {
		if path, err := l.lookPath(l.config.Headless); err == nil {
			return Command{Path: path, Args: args}, nil
		}
	}
	if l.config.Interactive != "" {
		if path, err := l.lookPath(l.config.Interactive); err == nil {
			if l.config.NoDisplayFlag != "" {
				args = append(args, l.config.NoDisplayFlag)
			}
			return Command{Path: path, Args: args, Fallback: true}, nil
		}
	}
	return Command{}, fmt.Errorf("%w: neither %s nor %s", proc.ErrToolingMissing, l.config.Headless, l.config.Interactive)
}

// Launch starts the decoder tuned to freq in its own process group and waits
// the settle interval so it can claim the device. It does not check that the
// decoder produces data. The returned Handle must be released by the caller.
func (l *Launcher) Launch(ctx context.Context, device sdr.Device, freq channel.FrequencySpec) (*Handle, error) {
	cmd, err := l.Resolve(device, freq)
	if err != nil {
		return nil, err
	}
	if cmd.Fallback {
		l.logger.Warn("headless decoder not found, falling back", "headless", l.config.Headless, "fallback", l.config.Interactive)
	}

	l.logger.Info("starting decoder in background", "command", cmd.String())
	p, err := proc.Start(proc.Options{
		Path:   cmd.Path,
		Args:   cmd.Args,
		Output: proc.Discard,
		Group:  true,
	})
	if err != nil {
		return nil, err
	}
	h := &Handle{proc: p, command: cmd, grace: l.config.Grace, logger: l.logger}

	timer := time.NewTimer(l.config.Settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.Done():
		stderr := p.Stderr()
		h.Release()
		if cerr := proc.Classify(stderr); cerr != nil {
			return nil, fmt.Errorf("decoder exited during startup: %w", cerr)
		}
		return nil, fmt.Errorf("decoder exited during startup: %v: %s", p.ExitErr(), stderr)
	case <-ctx.Done():
		h.Release()
		return nil, ctx.Err()
	}

	l.logger.Info("decoder launched; with a poor signal no data may appear", "pid", p.Pid())
	return h, nil
}

// Handle owns a running decoder. Release stops it; only the first call does
// any work.
type Handle struct {
	proc    *proc.Process
	command Command
	grace   time.Duration
	logger  *log.Logger

	once       sync.Once
	releaseErr error
}

// Command returns the invocation the decoder was started with
func (h *Handle) Command() Command {
	return h.command
}

// Pid returns the decoder's process id
func (h *Handle) Pid() int {
	return h.proc.Pid()
}

// Release terminates the decoder's process group: SIGTERM, a bounded wait,
// then SIGKILL. Subsequent calls return the first call's result.
func (h *Handle) Release() error {
	h.once.Do(func() {
		grace := h.grace
		if grace <= 0 {
			grace = 3 * time.Second
		}
		h.releaseErr = h.proc.Terminate(syscall.SIGTERM, grace)
		if stderr := h.proc.Stderr(); stderr != "" {
			h.logger.Debug("decoder diagnostics", "stderr", stderr)
		}
	})
	return h.releaseErr
}
