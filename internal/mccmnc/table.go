// Package mccmnc loads the static MCC/MNC operator table used to enrich
// capture records with a country and network name.
package mccmnc

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Code is a mobile network code pair. Both parts are kept as strings so that
// leading zeros stay significant ("01" and "1" are different networks).
type Code struct {
	MCC string `json:"mcc"`
	MNC string `json:"mnc"`
}

func (c Code) String() string {
	return c.MCC + "-" + c.MNC
}

// IsZero reports whether neither part of the code is set
func (c Code) IsZero() bool {
	return c.MCC == "" && c.MNC == ""
}

// Entry is one row of the table
type Entry struct {
	Code    Code
	Country string
	Network string
}

// Header is the required first row of a table file
var Header = []string{"Country", "Network", "MCC", "MNC"}

// Table maps code pairs to operators. It is read-only once loaded; a nil
// *Table is valid and resolves nothing.
type Table struct {
	entries map[Code]Entry
}

// LoadFile reads a table from a CSV file. A missing file is reported with an
// error satisfying errors.Is(err, fs.ErrNotExist).
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Load parses a table. Later rows win over earlier rows with the same code.
func Load(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = len(Header)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("identifier table is empty, header row required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, name := range Header {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("unexpected header column %d: got %q, want %q", i+1, header[i], name)
		}
	}

	t := &Table{entries: make(map[Code]Entry)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}

		e := Entry{
			Country: strings.TrimSpace(record[0]),
			Network: strings.TrimSpace(record[1]),
			Code: Code{
				MCC: strings.TrimSpace(record[2]),
				MNC: strings.TrimSpace(record[3]),
			},
		}
		if e.Code.MCC == "" || e.Code.MNC == "" {
			continue
		}
		t.entries[e.Code] = e
	}
	return t, nil
}

// Lookup returns the entry for code
func (t *Table) Lookup(code Code) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[code]
	return e, ok
}

// Len returns the number of distinct codes
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
