// Package proc runs the external radio tools: it starts them with a readable
// stdout (pipe or pseudo-terminal), keeps the tail of their diagnostics and
// stops them with a bounded terminate-then-kill sequence.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kr/pty"
	"golang.org/x/sys/unix"
)

var (
	// ErrToolingMissing is returned when a required executable cannot be found
	ErrToolingMissing = errors.New("required external tool not found")
	// ErrPortConflict is returned when a tool reports the shared port is taken
	ErrPortConflict = errors.New("port already in use")
)

// PortConflictMarker is what the radio tools print when they cannot bind
const PortConflictMarker = "Address already in use"

// diagnostics maps substrings of a tool's stderr to the error they indicate
var diagnostics = []struct {
	marker string
	err    error
}{
	{PortConflictMarker, ErrPortConflict},
}

// Classify returns the sentinel matching a tool's diagnostic output, or nil
func Classify(stderr string) error {
	for _, d := range diagnostics {
		if strings.Contains(stderr, d.marker) {
			return d.err
		}
	}
	return nil
}

// LookPath resolves name on PATH, mapping a miss to ErrToolingMissing
func LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolingMissing, name)
	}
	return path, nil
}

// Output selects how the child's stdout is connected
type Output int

const (
	Discard Output = iota // stdout goes to /dev/null
	Pipe                  // stdout is read through a pipe
	PTY                   // stdout is a pseudo-terminal, forcing line buffering
)

// Options describes a process to start
type Options struct {
	Path   string
	Args   []string
	Output Output
	// Group puts the child in its own process group so terminal signals
	// delivered to this process do not reach it.
	Group bool
}

// Process is a started external tool
type Process struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *tailBuffer
	group  bool

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

const stderrTail = 64 * 1024

// Start launches the process described by opts
func Start(opts Options) (*Process, error) {
	cmd := exec.Command(opts.Path, opts.Args...)
	p := &Process{
		cmd:    cmd,
		stderr: &tailBuffer{max: stderrTail},
		done:   make(chan struct{}),
	}
	cmd.Stderr = p.stderr
	// A grandchild holding stderr open must not block Wait forever.
	cmd.WaitDelay = 2 * time.Second

	var err error
	switch opts.Output {
	case PTY:
		// pty.Start makes the child a session leader, which also gives it its
		// own process group.
		p.group = true
		p.stdout, err = pty.Start(cmd)
		if err != nil {
			return nil, startError(opts.Path, err)
		}
	case Pipe:
		r, w, perr := os.Pipe()
		if perr != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", perr)
		}
		cmd.Stdout = w
		if opts.Group {
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
			p.group = true
		}
		err = cmd.Start()
		w.Close()
		if err != nil {
			r.Close()
			return nil, startError(opts.Path, err)
		}
		p.stdout = r
	default:
		if opts.Group {
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
			p.group = true
		}
		if err = cmd.Start(); err != nil {
			return nil, startError(opts.Path, err)
		}
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func startError(path string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrToolingMissing, path)
	}
	return fmt.Errorf("failed to start %s: %w", path, err)
}

// Pid returns the child's process id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its stderr is fully drained
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the result of waiting for the process. Only valid after Done.
func (p *Process) ExitErr() error {
	return p.waitErr
}

// Stderr returns the tail of the diagnostic stream
func (p *Process) Stderr() string {
	return strings.TrimSpace(p.stderr.String())
}

// Lines streams stdout line by line. The channel is closed at end of stream or
// once stop is closed. A pseudo-terminal's EIO at child exit counts as end of
// stream.
func (p *Process) Lines(stop <-chan struct{}) <-chan string {
	out := make(chan string)
	if p.stdout == nil {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(p.stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case out <- strings.TrimRight(scanner.Text(), "\r"):
			case <-stop:
				return
			}
		}
	}()
	return out
}

// Signal sends sig to the process, or to its whole group when it has one
func (p *Process) Signal(sig syscall.Signal) error {
	pid := p.Pid()
	if p.group {
		pid = -pid
	}
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Terminate asks the process to exit with sig and waits up to grace for it.
// If it is still running it is killed and waited on for another grace
// period. Output handles are closed afterwards.
func (p *Process) Terminate(sig syscall.Signal, grace time.Duration) error {
	defer p.closeOutput()

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", p.Pid(), err)
	}
	if p.WaitTimeout(grace) {
		return nil
	}

	if err := p.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", p.Pid(), err)
	}
	if p.WaitTimeout(grace) {
		return nil
	}
	return fmt.Errorf("pid %d did not exit within %v after SIGKILL", p.Pid(), grace)
}

// WaitTimeout waits for exit and reports whether the process exited in time
func (p *Process) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

func (p *Process) closeOutput() {
	p.closeOnce.Do(func() {
		if p.stdout != nil {
			p.stdout.Close()
		}
	})
}

// Close releases the stdout handle without signalling the process
func (p *Process) Close() {
	p.closeOutput()
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

var _ io.Writer = (*tailBuffer)(nil)
