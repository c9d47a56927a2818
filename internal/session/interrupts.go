package session

import (
	"context"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

// Interrupts routes operator interrupts to whatever the session is doing.
// While a phase is armed an interrupt cancels only that phase so the session
// can continue through teardown. While resources are held and no phase is
// armed the interrupt is ignored. Otherwise it aborts the whole session.
type Interrupts struct {
	mu     sync.Mutex
	phase  context.CancelFunc
	held   int
	abort  context.CancelFunc
	logger *log.Logger
}

// NewInterrupts returns an Interrupts that calls abort for an interrupt
// arriving outside any phase while nothing is held. abort may be nil.
func NewInterrupts(abort context.CancelFunc, logger *log.Logger) *Interrupts {
	return &Interrupts{abort: abort, logger: logger}
}

// Arm derives the context for an interruptible phase. The returned disarm
// function must be called when the phase ends.
func (i *Interrupts) Arm(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	i.mu.Lock()
	i.phase = cancel
	i.mu.Unlock()

	return ctx, func() {
		i.mu.Lock()
		i.phase = nil
		i.mu.Unlock()
		cancel()
	}
}

// Hold marks a resource that teardown must release. Until the returned
// function is called, unarmed interrupts are ignored.
func (i *Interrupts) Hold() func() {
	i.mu.Lock()
	i.held++
	i.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			i.held--
			i.mu.Unlock()
		})
	}
}

// Interrupt handles one operator interrupt
func (i *Interrupts) Interrupt() {
	i.mu.Lock()
	phase, held, abort := i.phase, i.held, i.abort
	i.mu.Unlock()

	switch {
	case phase != nil:
		phase()
	case held > 0:
		i.logger.Warn("interrupt ignored while shutting down")
	case abort != nil:
		i.logger.Info("session aborted by user")
		abort()
	}
}

// Watch calls Interrupt for every signal received until ctx is done
func (i *Interrupts) Watch(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case sig := <-signals:
			i.logger.Debug("received signal", "signal", sig)
			i.Interrupt()
		case <-ctx.Done():
			return
		}
	}
}
