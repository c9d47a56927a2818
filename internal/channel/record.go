package channel

import (
	"fmt"
	"strconv"
	"strings"

	"cellmon/internal/mccmnc"
)

// Kind distinguishes the two scanner line formats a Record can come from
type Kind int

const (
	Minimal  Kind = iota // channel number and frequency only
	Extended             // also cell id, LAC, network code and power
)

func (k Kind) String() string {
	if k == Extended {
		return "extended"
	}
	return "minimal"
}

// Record is one channel reported by the scanner. CellID, LAC, Network and
// Power are only meaningful for Extended records.
type Record struct {
	Kind        Kind
	Number      int
	Frequency   string // token as printed by the scanner, e.g. "925.2M"
	FrequencyHz int64
	CellID      int
	LAC         int
	Network     mccmnc.Code
	Power       int // dBm
}

// Spec returns the tuning target for this record
func (r Record) Spec() FrequencySpec {
	return FrequencySpec{Kind: ByFrequency, Frequency: r.Frequency}
}

func (r Record) String() string {
	s := fmt.Sprintf("ARFCN=%d, Frequency=%s", r.Number, r.Frequency)
	if r.Kind == Extended {
		s += fmt.Sprintf(", CID=%d, LAC=%d, MCC=%s, MNC=%s, Pwr=%d",
			r.CellID, r.LAC, r.Network.MCC, r.Network.MNC, r.Power)
	}
	return s
}

// Select returns the record at the 1-based position named by choice
func Select(records []Record, choice string) (Record, error) {
	if len(records) == 0 {
		return Record{}, ErrNoChannelsFound
	}
	idx, err := strconv.Atoi(strings.TrimSpace(choice))
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q is not a number", ErrOutOfRange, choice)
	}
	if idx < 1 || idx > len(records) {
		return Record{}, fmt.Errorf("%w: %d not in 1-%d", ErrOutOfRange, idx, len(records))
	}
	return records[idx-1], nil
}
