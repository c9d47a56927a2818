// Package metrics exposes session progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cellmon/internal/capture"
	"cellmon/internal/session"
)

// Collector bundles the session metrics. It implements session.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	Reclaimed prometheus.Counter
	Channels  prometheus.Gauge
	Records   prometheus.Counter
	Enriched  prometheus.Counter
	State     *prometheus.GaugeVec
}

// New registers the session metrics against reg, defaulting to the global
// registry when nil
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cellmon_port_reclaimed_processes_total",
			Help: "Processes terminated to free the decoder port.",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cellmon_scan_channels",
			Help: "Channels found by the last scan.",
		}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cellmon_capture_records_total",
			Help: "Capture records forwarded to the output.",
		}),
		Enriched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cellmon_capture_records_enriched_total",
			Help: "Capture records whose network code resolved to an operator.",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cellmon_session_state",
			Help: "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
	}

	for _, col := range []prometheus.Collector{c.Reclaimed, c.Channels, c.Records, c.Enriched, c.State} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) StateChanged(s session.State) {
	for _, st := range session.States {
		v := 0.0
		if st == s {
			v = 1
		}
		c.State.WithLabelValues(st.String()).Set(v)
	}
}

func (c *Collector) PortReclaimed(n int) {
	c.Reclaimed.Add(float64(n))
}

func (c *Collector) ChannelsFound(n int) {
	c.Channels.Set(float64(n))
}

// Sink counts records on their way to next
func (c *Collector) Sink(next capture.Sink) capture.Sink {
	return capture.SinkFunc(func(rec capture.Record) error {
		if err := next.Write(rec); err != nil {
			return err
		}
		c.Records.Inc()
		if rec.Enriched() {
			c.Enriched.Inc()
		}
		return nil
	})
}

// Handler exposes a ready-to-use /metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}
