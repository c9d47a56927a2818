// Package channel resolves operator channel/frequency input and holds the
// channel records produced by a band scan.
package channel

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidFormat is returned for override input that is neither a
	// channel token nor a frequency token.
	ErrInvalidFormat = errors.New("invalid frequency/channel format")
	// ErrOutOfRange is returned for a menu choice outside the listed channels.
	ErrOutOfRange = errors.New("channel selection out of range")
	// ErrNoChannelsFound is returned when there is nothing to choose from.
	ErrNoChannelsFound = errors.New("no channels found")
)

var (
	channelPattern   = regexp.MustCompile(`(?i)^(?:CHANNEL|ARFCN)=(\d+)$`)
	frequencyPattern = regexp.MustCompile(`(?i)^\d+(?:\.\d+)?[MG]$`)
)

// BandPlan converts a channel number into a carrier frequency in MHz
type BandPlan interface {
	FrequencyMHz(channel int) (float64, error)
}

// LinearPlan is the simplified plan base + channel*step. It is a placeholder
// and not a regulatory band table.
type LinearPlan struct {
	BaseMHz float64
	StepMHz float64
}

// FrequencyMHz implements BandPlan
func (p LinearPlan) FrequencyMHz(channel int) (float64, error) {
	if channel < 0 {
		return 0, fmt.Errorf("negative channel number %d", channel)
	}
	return p.BaseMHz + float64(channel)*p.StepMHz, nil
}

// SpecKind records which kind of input a FrequencySpec came from
type SpecKind int

const (
	ByFrequency SpecKind = iota
	ByChannel
)

// FrequencySpec is a resolved tuning target. Exactly one source is recorded in
// Kind; Frequency is always a normalized frequency token.
type FrequencySpec struct {
	Kind      SpecKind
	Channel   int    // valid when Kind == ByChannel
	Frequency string // e.g. "925.2M"
}

func (s FrequencySpec) String() string {
	if s.Kind == ByChannel {
		return fmt.Sprintf("CHANNEL=%d (%s)", s.Channel, s.Frequency)
	}
	return s.Frequency
}

// ENotation renders the frequency the way the decoder expects it:
// "925.2M" becomes "925.2e6" and "1.8G" becomes "1.8e9".
func (s FrequencySpec) ENotation() string {
	return ENotation(s.Frequency)
}

// Hz returns the numeric frequency
func (s FrequencySpec) Hz() (int64, error) {
	return ParseFrequency(s.Frequency)
}

// Resolver turns override input into a FrequencySpec
type Resolver struct {
	Plan BandPlan
}

// NewResolver returns a resolver over plan
func NewResolver(plan BandPlan) *Resolver {
	return &Resolver{Plan: plan}
}

// Resolve accepts "CHANNEL=<n>" (or "ARFCN=<n>") and "<digits>[.<digits>]<M|G>",
// case-insensitively. Frequency tokens are returned unchanged.
func (r *Resolver) Resolve(input string) (FrequencySpec, error) {
	input = strings.TrimSpace(input)

	if m := channelPattern.FindStringSubmatch(input); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return FrequencySpec{}, fmt.Errorf("%w: %q", ErrInvalidFormat, input)
		}
		mhz, err := r.Plan.FrequencyMHz(n)
		if err != nil {
			return FrequencySpec{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		return FrequencySpec{Kind: ByChannel, Channel: n, Frequency: FormatMHz(mhz)}, nil
	}

	if IsFrequencyToken(input) {
		return FrequencySpec{Kind: ByFrequency, Frequency: input}, nil
	}

	return FrequencySpec{}, fmt.Errorf("%w: %q (expected e.g. 925.2M or CHANNEL=123)", ErrInvalidFormat, input)
}

// IsFrequencyToken reports whether s is a value with an M or G suffix
func IsFrequencyToken(s string) bool {
	return frequencyPattern.MatchString(s)
}

// FormatMHz renders mhz as a frequency token with an M suffix and at least one
// decimal digit, e.g. 900 -> "900.0M", 924.6 -> "924.6M".
func FormatMHz(mhz float64) string {
	s := strconv.FormatFloat(mhz, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "M"
}

// ENotation replaces the magnitude suffix of a frequency token with an
// exponent. Tokens without a suffix are returned unchanged.
func ENotation(token string) string {
	if token == "" {
		return token
	}
	value, suffix := token[:len(token)-1], token[len(token)-1]
	switch suffix {
	case 'M', 'm':
		return value + "e6"
	case 'G', 'g':
		return value + "e9"
	}
	return token
}

// ParseFrequency converts a frequency token to Hz
func ParseFrequency(token string) (int64, error) {
	if !IsFrequencyToken(token) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, token)
	}
	value, err := strconv.ParseFloat(token[:len(token)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, token)
	}
	scale := 1e6
	if strings.EqualFold(token[len(token)-1:], "G") {
		scale = 1e9
	}
	hz := math.Round(value * scale)
	if hz >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidFormat, token)
	}
	return int64(hz), nil
}
