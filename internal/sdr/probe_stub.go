//go:build !rtlsdr

package sdr

import "fmt"

func listRTLSDR() ([]Info, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags rtlsdr", ErrProbeUnsupported)
}
