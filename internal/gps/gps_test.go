package gps

import (
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stratoberry/go-gpsd"

	"cellmon/internal/config"
)

func newTestGPSD() *GPSDClient {
	return NewGPSDClient("localhost", "2947", log.New(io.Discard))
}

func TestGPSDSatelliteCountPreservation(t *testing.T) {
	g := newTestGPSD()

	// SKY arrives before the first fix
	g.handleSKY(&gpsd.SKYReport{Satellites: make([]gpsd.Satellite, 4)})
	if g.current().Satellites != 4 {
		t.Errorf("Expected 4 satellites, got %d", g.current().Satellites)
	}
	if _, ok := g.Position(); ok {
		t.Fatal("satellite count alone must not count as a fix")
	}

	g.handleTPV(&gpsd.TPVReport{
		Mode: 3,
		Lat:  33.349,
		Lon:  -111.758,
		Alt:  359.84,
		Time: time.Now(),
	})

	pos, ok := g.Position()
	if !ok {
		t.Fatal("Expected a valid fix")
	}
	if pos.FixQuality != 1 {
		t.Errorf("Expected fix quality 1, got %d", pos.FixQuality)
	}
	if pos.Satellites != 4 {
		t.Errorf("Expected 4 satellites to be preserved, got %d", pos.Satellites)
	}
	if pos.Latitude != 33.349 || pos.Longitude != -111.758 {
		t.Errorf("unexpected coordinates %f,%f", pos.Latitude, pos.Longitude)
	}
}

func TestGPSDSatelliteCountUpdate(t *testing.T) {
	g := newTestGPSD()
	g.handleTPV(&gpsd.TPVReport{Mode: 2, Lat: 33.349, Lon: -111.758, Alt: 359.84, Time: time.Now()})

	g.handleSKY(&gpsd.SKYReport{Satellites: make([]gpsd.Satellite, 6)})

	pos, ok := g.Position()
	if !ok {
		t.Fatal("Expected fix to be preserved")
	}
	if pos.Satellites != 6 {
		t.Errorf("Expected 6 satellites, got %d", pos.Satellites)
	}
	if pos.Latitude != 33.349 {
		t.Errorf("Expected latitude to be preserved as 33.349, got %f", pos.Latitude)
	}
}

func TestGPSDIgnoresNoFix(t *testing.T) {
	g := newTestGPSD()
	g.handleTPV(&gpsd.TPVReport{Mode: 1, Lat: 33.349, Lon: -111.758})
	g.handleTPV(&gpsd.TPVReport{Mode: 3})
	g.handleTPV("not a report")

	if _, ok := g.Position(); ok {
		t.Fatal("no-fix reports must not produce a position")
	}
	if _, err := g.WaitForFix(10 * time.Millisecond); err == nil {
		t.Fatal("Expected fix timeout")
	}
}

func TestNMEAReadLoop(t *testing.T) {
	n := &NMEASerial{
		fixState: fixState{fixChan: make(chan Position, 10)},
		logger:   log.New(io.Discard),
	}

	input := strings.Join([]string{
		"\xb5\x62\x01\x07 binary noise",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A", // before any fix
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
		"$GPGGA,garbage*00",
	}, "\r\n")
	n.readLoop(strings.NewReader(input))

	pos, err := n.WaitForFix(time.Second)
	if err != nil {
		t.Fatalf("WaitForFix: %v", err)
	}
	if math.Abs(pos.Latitude-48.1173) > 1e-4 || math.Abs(pos.Longitude-11.516666) > 1e-4 {
		t.Errorf("unexpected coordinates %f,%f", pos.Latitude, pos.Longitude)
	}
	if pos.Altitude != 545.4 {
		t.Errorf("Expected altitude 545.4, got %f", pos.Altitude)
	}
	if pos.Satellites != 8 {
		t.Errorf("Expected 8 satellites, got %d", pos.Satellites)
	}
	if n.FixQualityString() != "GPS fix (SPS)" {
		t.Errorf("unexpected fix quality %q", n.FixQualityString())
	}
}

func TestNewModes(t *testing.T) {
	logger := log.New(io.Discard)

	src, err := New(config.GPSConfig{Mode: "none"}, logger)
	if err != nil || src != nil {
		t.Fatalf("mode none: src=%v err=%v", src, err)
	}

	src, err = New(config.GPSConfig{Mode: "manual", ManualLatitude: 46.05, ManualLongitude: 14.5}, logger)
	if err != nil {
		t.Fatalf("mode manual: %v", err)
	}
	pos, ok := src.Position()
	if !ok || pos.Latitude != 46.05 || pos.Longitude != 14.5 {
		t.Fatalf("manual position %+v ok=%v", pos, ok)
	}

	if _, err := New(config.GPSConfig{Mode: "compass"}, logger); err == nil {
		t.Fatal("Expected error for unknown mode")
	}
}
