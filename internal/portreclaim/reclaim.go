// Package portreclaim frees the shared decoder port by killing whatever
// leftover processes still hold it.
package portreclaim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"cellmon/internal/proc"
)

// Owner is a process bound to the port
type Owner struct {
	PID     int
	Command string
}

// Lister enumerates the processes bound to a port
type Lister interface {
	Owners(ctx context.Context, port int) ([]Owner, error)
}

// Killer terminates a process
type Killer interface {
	Kill(pid int) error
}

// Reclaimer kills leftover owners of a port
type Reclaimer struct {
	lister Lister
	killer Killer
	logger *log.Logger
	self   int
}

// New returns a Reclaimer. A nil killer sends SIGKILL directly.
func New(lister Lister, killer Killer, logger *log.Logger) *Reclaimer {
	if killer == nil {
		killer = signalKiller{}
	}
	return &Reclaimer{
		lister: lister,
		killer: killer,
		logger: logger,
		self:   os.Getpid(),
	}
}

// Reclaim kills every process bound to port and returns how many it killed.
// It does nothing when the port is free. Failing to list the owners, including
// a missing introspection tool, is logged and treated as "nothing to reclaim".
func (r *Reclaimer) Reclaim(ctx context.Context, port int) (int, error) {
	owners, err := r.lister.Owners(ctx, port)
	if err != nil {
		// A port that is really taken makes the monitor launch fail loudly.
		r.logger.Warn("cannot check for leftover processes, skipping", "port", port, "err", err)
		return 0, nil
	}
	if len(owners) == 0 {
		r.logger.Info("no leftover processes found", "port", port)
		return 0, nil
	}

	killed := 0
	seen := make(map[int]bool)
	for _, o := range owners {
		if seen[o.PID] || o.PID == r.self || o.PID <= 0 {
			continue
		}
		seen[o.PID] = true

		r.logger.Warn("killing leftover process", "pid", o.PID, "command", o.Command, "port", port)
		if err := r.killer.Kill(o.PID); err != nil {
			r.logger.Error("failed to kill leftover process", "pid", o.PID, "err", err)
			continue
		}
		killed++
	}
	return killed, nil
}

type signalKiller struct{}

func (signalKiller) Kill(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Lsof lists port owners with `lsof -n -P -i :<port>`
type Lsof struct {
	Binary string
}

// Owners implements Lister
func (l Lsof) Owners(ctx context.Context, port int) ([]Owner, error) {
	binary := l.Binary
	if binary == "" {
		binary = "lsof"
	}
	path, err := proc.LookPath(binary)
	if err != nil {
		return nil, err
	}

	out, err := exec.CommandContext(ctx, path, "-n", "-P", "-i", ":"+strconv.Itoa(port)).Output()
	if err != nil {
		// lsof exits 1 without output when nothing matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(strings.TrimSpace(string(out))) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%s failed: %w", binary, err)
	}
	return ParseLsof(string(out))
}

// ParseLsof extracts owners from lsof's tabular output. The PID and COMMAND
// columns are located from the header row.
func ParseLsof(output string) ([]Owner, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	pidCol, cmdCol := -1, -1
	var owners []Owner

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if pidCol < 0 {
			for i, f := range fields {
				switch f {
				case "PID":
					pidCol = i
				case "COMMAND":
					cmdCol = i
				}
			}
			if pidCol < 0 {
				return nil, fmt.Errorf("unexpected lsof header: %q", scanner.Text())
			}
			continue
		}
		if len(fields) <= pidCol {
			continue
		}
		pid, err := strconv.Atoi(fields[pidCol])
		if err != nil {
			continue
		}
		o := Owner{PID: pid}
		if cmdCol >= 0 && cmdCol < len(fields) {
			o.Command = fields[cmdCol]
		}
		owners = append(owners, o)
	}
	return owners, scanner.Err()
}
