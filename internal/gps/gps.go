package gps

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/charmbracelet/log"
	"github.com/stratoberry/go-gpsd"
	"go.bug.st/serial"

	"cellmon/internal/config"
)

// Position is a receiver fix attached to capture records
type Position struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	Altitude   float64   `json:"alt"`
	Timestamp  time.Time `json:"time"`
	FixQuality int       `json:"fix_quality"`
	Satellites int       `json:"satellites,omitempty"`
}

// Source defines the common interface for position sources
type Source interface {
	Start() error
	WaitForFix(timeout time.Duration) (*Position, error)
	Position() (Position, bool)
	FixQualityString() string
	Close() error
}

// New creates the position source selected by cfg.Mode. Mode "none" returns
// a nil Source and no error.
func New(cfg config.GPSConfig, logger *log.Logger) (Source, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "manual":
		return NewManual(cfg.ManualLatitude, cfg.ManualLongitude, cfg.ManualAltitude), nil
	case "nmea":
		n, err := NewNMEASerial(cfg.Port, cfg.BaudRate, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "gpsd":
		return NewGPSDClient(cfg.GPSDHost, cfg.GPSDPort, logger), nil
	default:
		return nil, fmt.Errorf("unknown GPS mode: %s", cfg.Mode)
	}
}

// Manual reports a fixed, operator supplied position
type Manual struct {
	position Position
}

// NewManual returns a Source that always reports the given coordinates
func NewManual(lat, lon, alt float64) *Manual {
	return &Manual{position: Position{
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   alt,
		FixQuality: 7,
	}}
}

func (m *Manual) Start() error { return nil }

func (m *Manual) WaitForFix(time.Duration) (*Position, error) {
	pos, _ := m.Position()
	return &pos, nil
}

func (m *Manual) Position() (Position, bool) {
	pos := m.position
	pos.Timestamp = time.Now().UTC()
	return pos, true
}

func (m *Manual) FixQualityString() string { return fixQualityString(m.position.FixQuality) }

func (m *Manual) Close() error { return nil }

// fixState holds the latest fix shared between a reader goroutine and callers
type fixState struct {
	mu       sync.RWMutex
	position Position
	fixChan  chan Position
}

func (f *fixState) update(pos Position) {
	f.mu.Lock()
	f.position = pos
	f.mu.Unlock()

	select {
	case f.fixChan <- pos:
	default:
	}
}

func (f *fixState) current() Position {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.position
}

func (f *fixState) Position() (Position, bool) {
	pos := f.current()
	return pos, pos.FixQuality > 0
}

func (f *fixState) WaitForFix(timeout time.Duration) (*Position, error) {
	if pos, ok := f.Position(); ok {
		return &pos, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case pos := <-f.fixChan:
			if pos.FixQuality > 0 {
				return &pos, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("GPS fix timeout after %v", timeout)
		}
	}
}

// NMEASerial reads NMEA sentences from a serial receiver
type NMEASerial struct {
	fixState
	port   io.ReadWriteCloser
	logger *log.Logger
}

// NewNMEASerial opens the serial receiver at portName
func NewNMEASerial(portName string, baudRate int, logger *log.Logger) (*NMEASerial, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPS port %s: %w", portName, err)
	}

	n := &NMEASerial{
		fixState: fixState{fixChan: make(chan Position, 10)},
		port:     port,
		logger:   logger,
	}
	n.configureUbloxNMEA()
	return n, nil
}

// configureUbloxNMEA enables GGA and RMC output on u-blox receivers that
// default to the binary protocol. Other receivers ignore the frames.
func (n *NMEASerial) configureUbloxNMEA() {
	// UBX-CFG-MSG, class 0xF0: GGA (0x00) and RMC (0x04) on UART1
	ggaCmd := []byte{0xB5, 0x62, 0x06, 0x01, 0x08, 0x00, 0xF0, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0x31}
	rmcCmd := []byte{0xB5, 0x62, 0x06, 0x01, 0x08, 0x00, 0xF0, 0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x05, 0x3B}

	for _, cmd := range [][]byte{ggaCmd, rmcCmd} {
		if _, err := n.port.Write(cmd); err != nil {
			n.logger.Debug("failed to send u-blox configuration", "err", err)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	n.logger.Debug("sent u-blox configuration for NMEA GGA/RMC output")
}

func (n *NMEASerial) Start() error {
	go n.readLoop(n.port)
	return nil
}

func (n *NMEASerial) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		n.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		n.logger.Warn("GPS read failed", "err", err)
	}
	n.logger.Debug("NMEA read loop ended")
}

func (n *NMEASerial) handleLine(line string) {
	line = strings.TrimSpace(line)
	// binary UBX traffic shares the port
	if len(line) == 0 || line[0] != '$' || !printable(line) {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		n.logger.Debug("NMEA parse error", "err", err, "line", line)
		return
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		n.processGGA(s)
	case nmea.RMC:
		n.processRMC(s)
	}
}

func printable(line string) bool {
	for _, r := range line {
		if r < 32 || r > 126 {
			return false
		}
	}
	return true
}

func (n *NMEASerial) processGGA(s nmea.GGA) {
	var fixQuality int
	switch s.FixQuality {
	case nmea.GPS:
		fixQuality = 1
	case nmea.DGPS:
		fixQuality = 2
	case nmea.PPS:
		fixQuality = 3
	case nmea.RTK:
		fixQuality = 4
	case nmea.FRTK:
		fixQuality = 5
	case nmea.Manual:
		fixQuality = 7
	}
	if fixQuality == 0 {
		return
	}

	n.update(Position{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Altitude:   s.Altitude,
		Timestamp:  time.Now().UTC(),
		FixQuality: fixQuality,
		Satellites: int(s.NumSatellites),
	})
}

// processRMC refreshes the coordinates and time of an existing fix. RMC has
// no altitude or quality, so it never creates a fix on its own.
func (n *NMEASerial) processRMC(s nmea.RMC) {
	if s.Validity != nmea.ValidRMC {
		return
	}
	current := n.current()
	if current.FixQuality == 0 {
		return
	}

	ts := time.Now().UTC()
	if s.Time.Valid {
		ts = time.Date(ts.Year(), ts.Month(), ts.Day(),
			s.Time.Hour, s.Time.Minute, s.Time.Second,
			s.Time.Millisecond*int(time.Millisecond), time.UTC)
	}
	current.Latitude = s.Latitude
	current.Longitude = s.Longitude
	current.Timestamp = ts

	n.mu.Lock()
	n.position = current
	n.mu.Unlock()
}

func (n *NMEASerial) FixQualityString() string {
	return fixQualityString(n.current().FixQuality)
}

func (n *NMEASerial) Close() error {
	if n.port != nil {
		return n.port.Close()
	}
	return nil
}

// GPSDClient follows fixes published by a gpsd daemon
type GPSDClient struct {
	fixState
	client *gpsd.Session
	host   string
	port   string
	logger *log.Logger
}

// NewGPSDClient returns a client for the gpsd at host:port. It connects on Start.
func NewGPSDClient(host, port string, logger *log.Logger) *GPSDClient {
	return &GPSDClient{
		fixState: fixState{fixChan: make(chan Position, 10)},
		host:     host,
		port:     port,
		logger:   logger,
	}
}

func (g *GPSDClient) Start() error {
	address := gpsd.DefaultAddress
	if g.host != "" && g.port != "" {
		address = fmt.Sprintf("%s:%s", g.host, g.port)
	}
	client, err := gpsd.Dial(address)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %s: %w", address, err)
	}
	g.client = client

	g.client.AddFilter("TPV", g.handleTPV)
	g.client.AddFilter("SKY", g.handleSKY)
	g.client.Watch()
	return nil
}

func (g *GPSDClient) handleTPV(r interface{}) {
	tpv, ok := r.(*gpsd.TPVReport)
	if !ok {
		return
	}
	// modes 2 and 3 are 2D and 3D fixes
	if tpv.Mode < 2 || (tpv.Lat == 0 && tpv.Lon == 0) {
		return
	}

	satellites := g.current().Satellites
	g.update(Position{
		Latitude:   tpv.Lat,
		Longitude:  tpv.Lon,
		Altitude:   tpv.Alt,
		Timestamp:  tpv.Time,
		FixQuality: 1,
		Satellites: satellites,
	})
}

// handleSKY keeps the satellite count; SKY may arrive before the first TPV
func (g *GPSDClient) handleSKY(r interface{}) {
	sky, ok := r.(*gpsd.SKYReport)
	if !ok {
		return
	}
	g.mu.Lock()
	g.position.Satellites = len(sky.Satellites)
	g.mu.Unlock()
}

func (g *GPSDClient) FixQualityString() string {
	return fixQualityString(g.current().FixQuality) + " (via gpsd)"
}

func (g *GPSDClient) Close() error {
	if g.client != nil {
		g.client.Close()
	}
	return nil
}

func fixQualityString(quality int) string {
	switch quality {
	case 0:
		return "Invalid"
	case 1:
		return "GPS fix (SPS)"
	case 2:
		return "DGPS fix"
	case 3:
		return "PPS fix"
	case 4:
		return "Real Time Kinematic"
	case 5:
		return "Float RTK"
	case 6:
		return "estimated (dead reckoning)"
	case 7:
		return "Manual input mode"
	case 8:
		return "Simulation mode"
	default:
		return "Unknown"
	}
}
