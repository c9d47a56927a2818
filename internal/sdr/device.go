// Package sdr names the supported capture devices and, when built with the
// rtlsdr tag, probes for attached RTL-SDR dongles.
package sdr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownDevice is returned for a device choice outside the menu
	ErrUnknownDevice = errors.New("invalid device choice")
	// ErrNoDevice is returned when the probe finds no attached hardware
	ErrNoDevice = errors.New("no attached device found")
	// ErrProbeUnsupported is returned when the binary was built without probe support
	ErrProbeUnsupported = errors.New("device probe not supported in this build")
)

// Device is a capture device family
type Device int

const (
	RTLSDR Device = iota + 1
	HackRF
	BladeRF
)

// Devices lists the menu entries in order
var Devices = []Device{RTLSDR, HackRF, BladeRF}

// Token is the value passed to the radio tools as --args
func (d Device) Token() string {
	switch d {
	case RTLSDR:
		return "rtl"
	case HackRF:
		return "hackrf"
	case BladeRF:
		return "bladerf"
	}
	return ""
}

// Name is the human-readable device name
func (d Device) Name() string {
	switch d {
	case RTLSDR:
		return "RTL-SDR"
	case HackRF:
		return "HackRF"
	case BladeRF:
		return "BladeRF"
	}
	return "unknown"
}

func (d Device) String() string {
	return d.Name()
}

// Parse accepts a 1-based menu number or a device token/name
func Parse(choice string) (Device, error) {
	choice = strings.TrimSpace(choice)
	if n, err := strconv.Atoi(choice); err == nil {
		if n < 1 || n > len(Devices) {
			return 0, fmt.Errorf("%w: %d not in 1-%d", ErrUnknownDevice, n, len(Devices))
		}
		return Devices[n-1], nil
	}
	for _, d := range Devices {
		if strings.EqualFold(choice, d.Token()) || strings.EqualFold(choice, d.Name()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDevice, choice)
}

// Info describes one attached dongle
type Info struct {
	Index        int
	Name         string
	Manufacturer string
	Product      string
	SerialNumber string
}

// Probe lists attached hardware for d. Only RTL-SDR can be probed, and only
// in builds with the rtlsdr tag; everything else returns ErrProbeUnsupported.
func Probe(d Device) ([]Info, error) {
	if d != RTLSDR {
		return nil, fmt.Errorf("%w: %s", ErrProbeUnsupported, d)
	}
	infos, err := listRTLSDR()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, d)
	}
	return infos, nil
}
