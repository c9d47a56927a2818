package sink

import (
	"bytes"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"cellmon/internal/capture"
	"cellmon/internal/gps"
	"cellmon/internal/mccmnc"
)

func sampleRecord() capture.Record {
	return capture.Record{
		Timestamp: "2024-01-01T00:00:00",
		IMSI:      "001010000000001",
		Network:   mccmnc.Code{MCC: "111", MNC: "22"},
		Country:   "Testland",
		Operator:  "TestNet",
	}
}

func TestTextSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := New("text", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := sampleRecord()
	rec.SMSText = "hi there"
	rec.Position = &gps.Position{Latitude: 46.05, Longitude: 14.5}
	if err := s.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := `2024-01-01T00:00:00  IMSI=001010000000001  MCC-MNC=111-22  Operator=TestNet (Testland)  SMS="hi there"  Pos=46.050000,14.500000` + "\n"
	if buf.String() != want {
		t.Fatalf("got  %q\nwant %q", buf.String(), want)
	}
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	s, err := New("json", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Write(sampleRecord()); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	var decoded map[string]interface{}
	if err := jsoniter.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("invalid json %q: %v", lines[0], err)
	}
	if decoded["country"] != "Testland" || decoded["network"] != "TestNet" {
		t.Fatalf("unexpected object %v", decoded)
	}
	code, ok := decoded["network_code"].(map[string]interface{})
	if !ok || code["mcc"] != "111" || code["mnc"] != "22" {
		t.Fatalf("unexpected network_code %v", decoded["network_code"])
	}
	if _, ok := decoded["position"]; ok {
		t.Fatal("position should be omitted when unset")
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := New("xml", &bytes.Buffer{}); err == nil {
		t.Fatal("Expected error for unknown format")
	}
}

type memorySink struct {
	records []capture.Record
}

func (m *memorySink) Write(rec capture.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func TestDedupeWindow(t *testing.T) {
	mem := &memorySink{}
	d := NewDedupe(mem, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	rec := sampleRecord()
	d.Write(rec)

	// same identity, different timestamp
	rec.Timestamp = "2024-01-01T00:00:05"
	now = now.Add(5 * time.Second)
	d.Write(rec)

	other := sampleRecord()
	other.IMSI = "001010000000002"
	d.Write(other)

	now = now.Add(2 * time.Minute)
	d.Write(rec)

	if len(mem.records) != 3 {
		t.Fatalf("Expected 3 forwarded records, got %d", len(mem.records))
	}
	if d.Dropped() != 1 {
		t.Fatalf("Expected 1 dropped record, got %d", d.Dropped())
	}
}

func TestDedupeFieldBoundaries(t *testing.T) {
	a := capture.Record{IMSI: "12", TMSI: "3"}
	b := capture.Record{IMSI: "1", TMSI: "23"}
	if recordHash(a) == recordHash(b) {
		t.Fatal("adjacent fields must not collide")
	}
}

func TestDedupeDisabled(t *testing.T) {
	mem := &memorySink{}
	d := NewDedupe(mem, 0)
	d.Write(sampleRecord())
	d.Write(sampleRecord())
	if len(mem.records) != 2 {
		t.Fatalf("Expected both records with dedupe disabled, got %d", len(mem.records))
	}
}

func TestCountingSummary(t *testing.T) {
	c := NewCounting(&memorySink{})
	c.Write(sampleRecord())
	c.Write(sampleRecord())
	c.Write(capture.Record{Timestamp: "t", TMSI: "0x01"})

	records, enriched := c.Counts()
	if records != 3 || enriched != 2 {
		t.Fatalf("counts=%d/%d", records, enriched)
	}
	want := "3 records, 2 enriched, 1 distinct IMSIs, most seen network TestNet (2)"
	if c.Summary() != want {
		t.Fatalf("summary=%q want %q", c.Summary(), want)
	}
}
