// Package sink renders capture records for the operator and filters them
// before they are printed.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"

	"cellmon/internal/capture"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// New returns the sink for format ("text" or "json") writing to w
func New(format string, w io.Writer) (capture.Sink, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewText(w), nil
	case "json":
		return NewJSON(w), nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// Text prints one human readable line per record
type Text struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewText returns a Text sink writing to w
func NewText(w io.Writer) *Text {
	return &Text{w: bufio.NewWriter(w)}
}

func (t *Text) Write(rec capture.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.w.WriteString(FormatText(rec)); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	// records are watched live
	return t.w.Flush()
}

// FormatText renders rec as a single line of label=value pairs. Empty
// attributes are omitted.
func FormatText(rec capture.Record) string {
	var b strings.Builder
	b.WriteString(rec.Timestamp)

	add := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString("  ")
		b.WriteString(label)
		b.WriteByte('=')
		b.WriteString(value)
	}
	add("IMSI", rec.IMSI)
	if !rec.Network.IsZero() {
		add("MCC-MNC", rec.Network.String())
	}
	if rec.Enriched() {
		add("Operator", fmt.Sprintf("%s (%s)", rec.Operator, rec.Country))
	}
	add("TMSI", rec.TMSI)
	add("LAC", rec.LAC)
	add("IMEI", rec.IMEI)
	add("IMEISV", rec.IMEISV)
	if rec.SMSText != "" {
		add("SMS", fmt.Sprintf("%q", rec.SMSText))
	}
	if rec.Position != nil {
		add("Pos", fmt.Sprintf("%.6f,%.6f", rec.Position.Latitude, rec.Position.Longitude))
	}
	return b.String()
}

// JSON writes one object per line
type JSON struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSON returns a JSON lines sink writing to w
func NewJSON(w io.Writer) *JSON {
	return &JSON{w: w}
}

func (j *JSON) Write(rec capture.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.w.Write(data)
	return err
}

// Counting forwards records to Next and counts them
type Counting struct {
	Next capture.Sink

	mu         sync.Mutex
	records    int
	enriched   int
	operators  map[string]int
	subscriber map[string]struct{}
}

// NewCounting wraps next
func NewCounting(next capture.Sink) *Counting {
	return &Counting{
		Next:       next,
		operators:  make(map[string]int),
		subscriber: make(map[string]struct{}),
	}
}

func (c *Counting) Write(rec capture.Record) error {
	if err := c.Next.Write(rec); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records++
	if rec.Enriched() {
		c.enriched++
		c.operators[rec.Operator]++
	}
	if rec.IMSI != "" {
		c.subscriber[rec.IMSI] = struct{}{}
	}
	return nil
}

// Counts returns the number of records forwarded and how many were enriched
func (c *Counting) Counts() (records, enriched int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records, c.enriched
}

// Summary renders the end of session totals
func (c *Counting) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s records, %s enriched, %s distinct IMSIs",
		humanize.Comma(int64(c.records)),
		humanize.Comma(int64(c.enriched)),
		humanize.Comma(int64(len(c.subscriber))))
	if top, n := c.topOperator(); n > 0 {
		fmt.Fprintf(&b, ", most seen network %s (%s)", top, humanize.Comma(int64(n)))
	}
	return b.String()
}

func (c *Counting) topOperator() (string, int) {
	var (
		top string
		max int
	)
	for name, n := range c.operators {
		if n > max || (n == max && name < top) {
			top, max = name, n
		}
	}
	return top, max
}
