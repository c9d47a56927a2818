package sink

import (
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"cellmon/internal/capture"
)

// Dedupe drops records whose identity fields match a record forwarded within
// the window. The timestamp and position are not part of the key, so the
// same paging burst repeated every few frames is printed once.
type Dedupe struct {
	next   capture.Sink
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	seen      map[uint64]time.Time
	dropped   int
	lastSweep time.Time
}

// NewDedupe wraps next. A non-positive window disables suppression.
func NewDedupe(next capture.Sink, window time.Duration) *Dedupe {
	return &Dedupe{
		next:   next,
		window: window,
		now:    time.Now,
		seen:   make(map[uint64]time.Time),
	}
}

func (d *Dedupe) Write(rec capture.Record) error {
	if d.window <= 0 {
		return d.next.Write(rec)
	}

	key := recordHash(rec)
	now := d.now()

	d.mu.Lock()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		d.dropped++
		d.mu.Unlock()
		return nil
	}
	d.seen[key] = now
	d.sweep(now)
	d.mu.Unlock()

	return d.next.Write(rec)
}

// Dropped returns how many records were suppressed
func (d *Dedupe) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// sweep evicts expired keys at most once per window. Caller holds d.mu.
func (d *Dedupe) sweep(now time.Time) {
	if now.Sub(d.lastSweep) < d.window {
		return
	}
	d.lastSweep = now
	for k, when := range d.seen {
		if now.Sub(when) >= d.window {
			delete(d.seen, k)
		}
	}
}

// recordHash hashes the identity fields with a separator byte so adjacent
// fields cannot run together
func recordHash(rec capture.Record) uint64 {
	h := xxh3.New()
	for _, f := range rec.Fields() {
		h.WriteString(f)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
