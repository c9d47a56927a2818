// Package prompt asks the operator for the session choices that were not
// given on the command line.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"cellmon/internal/sdr"
)

// ErrNoInput is returned when input ends before a required answer
var ErrNoInput = errors.New("no input")

// Terminal reads answers line by line from an input stream
type Terminal struct {
	in   io.Reader
	out  io.Writer
	echo bool

	once  sync.Once
	lines chan string
}

// New returns a Terminal reading from in and printing prompts to out. When
// in is not a terminal the answers are echoed so the transcript stays
// readable.
func New(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:    in,
		out:   out,
		echo:  !isTerminal(in),
		lines: make(chan string),
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// read starts the single reader goroutine. A blocked read cannot be
// interrupted, so it is shared by every question.
func (t *Terminal) read() {
	t.once.Do(func() {
		go func() {
			defer close(t.lines)
			scanner := bufio.NewScanner(t.in)
			for scanner.Scan() {
				t.lines <- scanner.Text()
			}
		}()
	})
}

func (t *Terminal) ask(ctx context.Context, question string) (string, error) {
	fmt.Fprint(t.out, question)
	t.read()

	select {
	case line, ok := <-t.lines:
		if !ok {
			fmt.Fprintln(t.out)
			return "", ErrNoInput
		}
		if t.echo {
			fmt.Fprintln(t.out, line)
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return "", ctx.Err()
	}
}

// Device shows the device menu and returns the raw choice
func (t *Terminal) Device(ctx context.Context) (string, error) {
	fmt.Fprintln(t.out, "Choose the SDR device")
	for i, d := range sdr.Devices {
		fmt.Fprintf(t.out, "%d) %s\n", i+1, d.Name())
	}
	return t.ask(ctx, fmt.Sprintf("Pick device [1-%d]: ", len(sdr.Devices)))
}

// Frequency asks for an optional override. A blank answer, or end of input,
// means scan.
func (t *Terminal) Frequency(ctx context.Context) (string, error) {
	fmt.Fprintln(t.out, "If you already know the frequency or channel, enter it now (e.g. 925.2M or CHANNEL=123).")
	fmt.Fprintln(t.out, "Press Enter to skip and perform a full scan.")
	answer, err := t.ask(ctx, "Frequency or channel (blank for scan): ")
	if errors.Is(err, ErrNoInput) {
		return "", nil
	}
	return answer, err
}

// Channel asks which of n scanned channels to monitor
func (t *Terminal) Channel(ctx context.Context, n int) (string, error) {
	return t.ask(ctx, fmt.Sprintf("Select channel [1-%d]: ", n))
}
