package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cellmon/internal/capture"
	"cellmon/internal/mccmnc"
	"cellmon/internal/session"
)

func TestObserverUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.PortReclaimed(2)
	c.PortReclaimed(0)
	c.ChannelsFound(5)
	c.StateChanged(session.Scanning)
	c.StateChanged(session.Capturing)

	if got := testutil.ToFloat64(c.Reclaimed); got != 2 {
		t.Fatalf("reclaimed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Channels); got != 5 {
		t.Fatalf("channels = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.State.WithLabelValues("capturing")); got != 1 {
		t.Fatalf("capturing state = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.State.WithLabelValues("scanning")); got != 0 {
		t.Fatalf("scanning state = %v, want 0", got)
	}
}

func TestSinkCounts(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var forwarded int
	sink := c.Sink(capture.SinkFunc(func(capture.Record) error {
		forwarded++
		return nil
	}))
	sink.Write(capture.Record{Network: mccmnc.Code{MCC: "111", MNC: "22"}, Country: "Testland", Operator: "TestNet"})
	sink.Write(capture.Record{TMSI: "0x01"})

	if forwarded != 2 {
		t.Fatalf("forwarded = %d", forwarded)
	}
	if got := testutil.ToFloat64(c.Records); got != 2 {
		t.Fatalf("records = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Enriched); got != 1 {
		t.Fatalf("enriched = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.ChannelsFound(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "cellmon_scan_channels 3") {
		t.Fatalf("metrics output missing gauge:\n%s", rec.Body.String())
	}
}
