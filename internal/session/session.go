// Package session sequences a monitoring session: it reclaims the shared
// port, settles on a device and channel, starts the background decoder and
// streams capture records until the operator stops it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"cellmon/internal/capture"
	"cellmon/internal/channel"
	"cellmon/internal/gps"
	"cellmon/internal/monitor"
	"cellmon/internal/sdr"
)

// State is the session's position in its lifecycle
type State int

const (
	Initializing State = iota
	Scanning
	Monitoring
	Capturing
	Terminating
	Done
)

var stateNames = []string{"initializing", "scanning", "monitoring", "capturing", "terminating", "done"}

// States lists every state in lifecycle order
var States = []State{Initializing, Scanning, Monitoring, Capturing, Terminating, Done}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is how a session ended without error
type Outcome int

const (
	OutcomeCompleted  Outcome = iota // capture ran and was stopped
	OutcomeNoChannels                // the scan found nothing to monitor
	OutcomeAborted                   // the operator aborted before capture
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoChannels:
		return "no channels found"
	case OutcomeAborted:
		return "aborted"
	default:
		return "completed"
	}
}

// Reclaimer frees the shared port
type Reclaimer interface {
	Reclaim(ctx context.Context, port int) (int, error)
}

// Scanner lists the channels receivable with a device
type Scanner interface {
	Check() error
	Scan(ctx context.Context, device sdr.Device, found func(channel.Record)) ([]channel.Record, error)
}

// Monitor is a running background decoder
type Monitor interface {
	Release() error
}

// Launcher starts the background decoder
type Launcher interface {
	Check() error
	Launch(ctx context.Context, device sdr.Device, freq channel.FrequencySpec) (Monitor, error)
}

// Capturer streams capture records until ctx is cancelled
type Capturer interface {
	Check() error
	Run(ctx context.Context, sink capture.Sink) (capture.Status, error)
}

// Prompter asks the operator for choices not given in Options
type Prompter interface {
	Device(ctx context.Context) (string, error)
	Frequency(ctx context.Context) (string, error)
	Channel(ctx context.Context, n int) (string, error)
}

// Observer is told about session progress
type Observer interface {
	StateChanged(State)
	PortReclaimed(n int)
	ChannelsFound(n int)
}

// Options are the operator's choices. Empty values are asked for through the
// Prompter; without one, an empty Device is an error and an empty Frequency
// means scan.
type Options struct {
	Device    string
	Frequency string
	Scan      bool   // scan even if no Frequency is given and a Prompter is set
	Channel   string // preset selection from the scan results
}

// Deps are the collaborators of a Controller. Locator, Observer, Prompter and
// Probe may be nil.
type Deps struct {
	Port       int
	Resolver   *channel.Resolver
	Reclaimer  Reclaimer
	Scanner    Scanner
	Launcher   Launcher
	Capturer   Capturer
	Sink       capture.Sink
	Prompter   Prompter
	Probe      func(sdr.Device) ([]sdr.Info, error)
	Locator    gps.Source
	FixTimeout time.Duration
	Observer   Observer
	Interrupts *Interrupts
	Logger     *log.Logger
	Out        io.Writer // operator facing progress
}

// Controller drives one session
type Controller struct {
	Deps
	state State
}

// New returns a Controller
func New(deps Deps) *Controller {
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Interrupts == nil {
		deps.Interrupts = NewInterrupts(nil, deps.Logger)
	}
	return &Controller{Deps: deps}
}

// State returns the current state
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) setState(s State) {
	c.state = s
	c.Logger.Debug("session state", "state", s)
	if c.Observer != nil {
		c.Observer.StateChanged(s)
	}
}

// Run executes the session. Once the background decoder has been launched it
// is released exactly once on every return path; release failures are only
// logged. Operator interrupts end the scan or the capture, never the
// teardown.
func (c *Controller) Run(ctx context.Context, opts Options) (outcome Outcome, err error) {
	c.setState(Initializing)
	defer func() {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			outcome, err = OutcomeAborted, nil
		}
	}()

	if err := c.preflight(opts); err != nil {
		return OutcomeCompleted, err
	}

	n, err := c.Reclaimer.Reclaim(ctx, c.Port)
	if err != nil {
		return OutcomeCompleted, fmt.Errorf("failed to reclaim port %d: %w", c.Port, err)
	}
	if n > 0 {
		c.Logger.Info("terminated processes holding the port", "port", c.Port, "count", n)
	}
	if c.Observer != nil {
		c.Observer.PortReclaimed(n)
	}

	device, err := c.chooseDevice(ctx, opts)
	if err != nil {
		return OutcomeCompleted, err
	}
	fmt.Fprintf(c.Out, "Device chosen: %s\n", device.Name())
	if err := c.probe(device); err != nil {
		return OutcomeCompleted, err
	}

	if c.Locator != nil {
		c.startLocator()
		defer c.Locator.Close()
	}

	c.setState(Scanning)
	freq, found, err := c.chooseFrequency(ctx, device, opts)
	if err != nil {
		return OutcomeCompleted, err
	}
	if !found {
		return OutcomeNoChannels, nil
	}

	c.setState(Monitoring)
	mon, err := c.Launcher.Launch(ctx, device, freq)
	if err != nil {
		return OutcomeCompleted, fmt.Errorf("failed to launch monitor on %s: %w", freq, err)
	}

	unhold := c.Interrupts.Hold()
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		c.setState(Terminating)
		if err := mon.Release(); err != nil {
			c.Logger.Warn("monitor did not stop cleanly", "err", err)
		}
		unhold()
	}
	defer release()

	c.setState(Capturing)
	fmt.Fprintf(c.Out, "Monitoring %s on %s, press Ctrl+C to stop\n", freq, device.Name())
	phase, disarm := c.Interrupts.Arm(ctx)
	status, err := c.Capturer.Run(phase, c.Sink)
	disarm()

	release()
	c.setState(Done)

	c.Logger.Info("capture finished",
		"records", humanize.Comma(int64(status.Records)),
		"enriched", humanize.Comma(int64(status.Enriched)),
		"interrupted", status.Interrupted)
	if err != nil {
		return OutcomeCompleted, fmt.Errorf("capture failed: %w", err)
	}
	return OutcomeCompleted, nil
}

// preflight checks the tools the session will need before any resource is
// taken. Without a preset frequency the session may scan.
func (c *Controller) preflight(opts Options) error {
	if err := c.Capturer.Check(); err != nil {
		return err
	}
	if err := c.Launcher.Check(); err != nil {
		return err
	}
	if strings.TrimSpace(opts.Frequency) == "" {
		return c.Scanner.Check()
	}
	return nil
}

func (c *Controller) chooseDevice(ctx context.Context, opts Options) (sdr.Device, error) {
	choice := opts.Device
	if choice == "" {
		if c.Prompter == nil {
			return 0, fmt.Errorf("%w: no device given", sdr.ErrUnknownDevice)
		}
		var err error
		if choice, err = c.Prompter.Device(ctx); err != nil {
			return 0, err
		}
	}
	return sdr.Parse(choice)
}

func (c *Controller) probe(device sdr.Device) error {
	if c.Probe == nil {
		return nil
	}
	infos, err := c.Probe(device)
	switch {
	case errors.Is(err, sdr.ErrProbeUnsupported):
		c.Logger.Debug("device probe skipped", "device", device, "reason", err)
		return nil
	case errors.Is(err, sdr.ErrNoDevice):
		return err
	case err != nil:
		c.Logger.Warn("device probe failed", "device", device, "err", err)
		return nil
	}
	for _, info := range infos {
		c.Logger.Info("found device", "index", info.Index, "name", info.Name, "serial", info.SerialNumber)
	}
	return nil
}

// startLocator starts the position source. Failing to start or to get a fix
// only costs the position tag on records.
func (c *Controller) startLocator() {
	if err := c.Locator.Start(); err != nil {
		c.Logger.Warn("GPS unavailable, records will not carry a position", "err", err)
		return
	}
	timeout := c.FixTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	go func() {
		pos, err := c.Locator.WaitForFix(timeout)
		if err != nil {
			c.Logger.Warn("no GPS fix yet", "err", err)
			return
		}
		c.Logger.Info("GPS fix acquired", "lat", pos.Latitude, "lon", pos.Longitude, "quality", c.Locator.FixQualityString())
	}()
}

// chooseFrequency resolves an override or scans and asks for a channel. found
// is false when the scan produced no channels.
func (c *Controller) chooseFrequency(ctx context.Context, device sdr.Device, opts Options) (channel.FrequencySpec, bool, error) {
	override := opts.Frequency
	if override == "" && !opts.Scan && c.Prompter != nil {
		var err error
		if override, err = c.Prompter.Frequency(ctx); err != nil {
			return channel.FrequencySpec{}, false, err
		}
	}

	if strings.TrimSpace(override) != "" {
		spec, err := c.Resolver.Resolve(override)
		if err != nil {
			return spec, false, err
		}
		fmt.Fprintf(c.Out, "Using %s\n", spec)
		return spec, true, nil
	}

	records, err := c.scan(ctx, device)
	if err != nil {
		return channel.FrequencySpec{}, false, err
	}
	if len(records) == 0 {
		c.Logger.Warn("no channels found", "device", device)
		return channel.FrequencySpec{}, false, nil
	}

	fmt.Fprintln(c.Out, "Available channels:")
	for i, r := range records {
		fmt.Fprintf(c.Out, "%d) %s\n", i+1, r)
	}
	choice := opts.Channel
	if choice == "" {
		if c.Prompter == nil {
			return channel.FrequencySpec{}, false, fmt.Errorf("%w: no channel selected", channel.ErrOutOfRange)
		}
		if choice, err = c.Prompter.Channel(ctx, len(records)); err != nil {
			return channel.FrequencySpec{}, false, err
		}
	}
	rec, err := channel.Select(records, choice)
	if err != nil {
		return channel.FrequencySpec{}, false, err
	}
	fmt.Fprintf(c.Out, "Selected ARFCN=%d, Frequency=%s\n", rec.Number, rec.Frequency)
	return rec.Spec(), true, nil
}

// scan runs the scanner as an interruptible phase. An interrupt keeps the
// channels found so far.
func (c *Controller) scan(ctx context.Context, device sdr.Device) ([]channel.Record, error) {
	fmt.Fprintf(c.Out, "Scanning with %s, press Ctrl+C to stop early\n", device.Name())
	phase, disarm := c.Interrupts.Arm(ctx)
	defer disarm()

	records, err := c.Scanner.Scan(phase, device, func(r channel.Record) {
		fmt.Fprintf(c.Out, "Found: %s\n", r)
	})
	if c.Observer != nil {
		c.Observer.ChannelsFound(len(records))
	}
	if err != nil {
		return records, fmt.Errorf("scan failed: %w", err)
	}
	// The parent being cancelled is an abort, not a stopped scan.
	if ctx.Err() != nil {
		return records, ctx.Err()
	}
	return records, nil
}

// MonitorLauncher adapts a monitor.Launcher to Launcher
func MonitorLauncher(l *monitor.Launcher) Launcher {
	return monitorLauncher{l}
}

type monitorLauncher struct {
	*monitor.Launcher
}

func (m monitorLauncher) Launch(ctx context.Context, device sdr.Device, freq channel.FrequencySpec) (Monitor, error) {
	h, err := m.Launcher.Launch(ctx, device, freq)
	if err != nil {
		return nil, err
	}
	return h, nil
}
