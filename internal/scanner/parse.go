package scanner

import (
	"bufio"
	"io"
	"regexp"
	"strconv"

	"cellmon/internal/channel"
	"cellmon/internal/mccmnc"
)

// LineKind classifies one line of scanner output
type LineKind int

const (
	Ignored LineKind = iota
	MinimalLine
	ExtendedLine
)

func (k LineKind) String() string {
	switch k {
	case MinimalLine:
		return "minimal"
	case ExtendedLine:
		return "extended"
	default:
		return "ignored"
	}
}

var (
	minimalPattern  = regexp.MustCompile(`ARFCN:\s+(\d+),\s+Freq:\s+([\d.]+[MG])`)
	extendedPattern = regexp.MustCompile(`ARFCN:\s+(\d+),\s+Freq:\s+([\d.]+[MG]),\s+CID:\s+(\d+),\s+LAC:\s+(\d+),\s+MCC:\s+(\d+),\s+MNC:\s+(\d+),\s+Pwr:\s+(-?\d+)`)
)

// ParseLine classifies line and returns the record it carries. The extended
// format is tried first since every extended line also matches the minimal
// one.
func ParseLine(line string) (channel.Record, LineKind) {
	if m := extendedPattern.FindStringSubmatch(line); m != nil {
		if rec, ok := parseExtended(m); ok {
			return rec, ExtendedLine
		}
	}
	if m := minimalPattern.FindStringSubmatch(line); m != nil {
		if rec, ok := parseMinimal(m[1], m[2]); ok {
			return rec, MinimalLine
		}
	}
	return channel.Record{}, Ignored
}

func parseMinimal(number, freq string) (channel.Record, bool) {
	n, err := strconv.Atoi(number)
	if err != nil {
		return channel.Record{}, false
	}
	hz, err := channel.ParseFrequency(freq)
	if err != nil {
		return channel.Record{}, false
	}
	return channel.Record{
		Kind:        channel.Minimal,
		Number:      n,
		Frequency:   freq,
		FrequencyHz: hz,
	}, true
}

func parseExtended(m []string) (channel.Record, bool) {
	rec, ok := parseMinimal(m[1], m[2])
	if !ok {
		return rec, false
	}
	ints := make([]int, 3)
	for i, s := range []string{m[3], m[4], m[7]} {
		v, err := strconv.Atoi(s)
		if err != nil {
			return channel.Record{}, false
		}
		ints[i] = v
	}
	rec.Kind = channel.Extended
	rec.CellID = ints[0]
	rec.LAC = ints[1]
	rec.Power = ints[2]
	rec.Network = mccmnc.Code{MCC: m[5], MNC: m[6]}
	return rec, true
}

// Parse reads scanner output from r and calls found for each record, in
// order. It returns all records found.
func Parse(r io.Reader, found func(channel.Record)) ([]channel.Record, error) {
	var records []channel.Record
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		rec, kind := ParseLine(scanner.Text())
		if kind == Ignored {
			continue
		}
		records = append(records, rec)
		if found != nil {
			found(rec)
		}
	}
	return records, scanner.Err()
}
