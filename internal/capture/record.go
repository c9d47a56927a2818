package capture

import (
	"encoding/csv"
	"fmt"
	"strings"

	"cellmon/internal/gps"
	"cellmon/internal/mccmnc"
)

// Record is one decoded capture line, optionally enriched with the operator
// name and the receiver position
type Record struct {
	Timestamp string        `json:"timestamp"`
	IMSI      string        `json:"imsi,omitempty"`
	Network   mccmnc.Code   `json:"network_code"`
	TMSI      string        `json:"tmsi,omitempty"`
	LAC       string        `json:"lac,omitempty"`
	SMSText   string        `json:"sms_text,omitempty"`
	IMEI      string        `json:"imei,omitempty"`
	IMEISV    string        `json:"imeisv,omitempty"`
	Country   string        `json:"country"`
	Operator  string        `json:"network"`
	Position  *gps.Position `json:"position,omitempty"`
}

// Enriched reports whether the network code resolved to a known operator
func (r Record) Enriched() bool {
	return r.Country != "" || r.Operator != ""
}

// Fields lists the record attributes used to decide whether two records carry
// the same observation. The timestamp and position are left out.
func (r Record) Fields() []string {
	return []string{r.IMSI, r.Network.MCC, r.Network.MNC, r.TMSI, r.LAC, r.SMSText, r.IMEI, r.IMEISV}
}

// fieldSetters maps tshark field names onto record attributes
var fieldSetters = map[string]func(*Record, string){
	"frame.time":       func(r *Record, v string) { r.Timestamp = v },
	"e212.imsi":        func(r *Record, v string) { r.IMSI = firstOccurrence(v) },
	"e212.mcc":         func(r *Record, v string) { r.Network.MCC = firstOccurrence(v) },
	"e212.mnc":         func(r *Record, v string) { r.Network.MNC = firstOccurrence(v) },
	"gsm_a.tmsi":       func(r *Record, v string) { r.TMSI = firstOccurrence(v) },
	"gsm_a.lac":        func(r *Record, v string) { r.LAC = firstOccurrence(v) },
	"gsm_sms.sms_text": func(r *Record, v string) { r.SMSText = v },
	"gsm_a.imei":       func(r *Record, v string) { r.IMEI = firstOccurrence(v) },
	"gsm_a.imeisv":     func(r *Record, v string) { r.IMEISV = firstOccurrence(v) },
}

// KnownField reports whether name maps onto a record attribute
func KnownField(name string) bool {
	_, ok := fieldSetters[name]
	return ok
}

// firstOccurrence keeps the first of the values tshark joins when a field
// appears more than once in a packet
func firstOccurrence(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		return v[:i]
	}
	return v
}

// ParseLine decodes one line of quoted, comma separated field output and maps
// the values positionally onto fields. Missing trailing values stay empty and
// extra values are ignored.
func ParseLine(line string, fields []string) (Record, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	values, err := reader.Read()
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode capture line: %w", err)
	}

	var rec Record
	for i, name := range fields {
		if i >= len(values) {
			break
		}
		if set, ok := fieldSetters[name]; ok {
			set(&rec, strings.TrimSpace(values[i]))
		}
	}
	return rec, nil
}

// Enrich fills Country and Operator from table when the record's network
// code is known. Unknown codes leave both empty.
func Enrich(rec *Record, table *mccmnc.Table) {
	if rec.Network.IsZero() {
		return
	}
	if entry, ok := table.Lookup(rec.Network); ok {
		rec.Country = entry.Country
		rec.Operator = entry.Network
	}
}
