package mccmnc

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTable = `Country,Network,MCC,MNC
Testland,TestNet,111,22
# comment rows are skipped
Otherland,ZeroNet,222,01
Otherland,OneNet,222,1
Testland,TestNet Renamed,111,22
`

func TestLoadAndLookup(t *testing.T) {
	table, err := Load(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if table.Len() != 3 {
		t.Fatalf("Expected 3 codes, got %d", table.Len())
	}

	tests := []struct {
		name    string
		code    Code
		network string
		ok      bool
	}{
		{name: "last duplicate wins", code: Code{"111", "22"}, network: "TestNet Renamed", ok: true},
		{name: "leading zero kept", code: Code{"222", "01"}, network: "ZeroNet", ok: true},
		{name: "no leading zero", code: Code{"222", "1"}, network: "OneNet", ok: true},
		{name: "unknown", code: Code{"999", "99"}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := table.Lookup(tt.code)
			if ok != tt.ok {
				t.Fatalf("ok=%v want %v", ok, tt.ok)
			}
			if e.Network != tt.network {
				t.Fatalf("network=%q want %q", e.Network, tt.network)
			}
		})
	}
}

func TestLoadRejectsBadHeader(t *testing.T) {
	for _, input := range []string{
		"",
		"MCC,MNC,Country,Network\n",
		"country,network,mcc,mnc\n",
	} {
		if _, err := Load(strings.NewReader(input)); err == nil {
			t.Errorf("expected error for header %q", input)
		}
	}
}

func TestNilTableResolvesNothing(t *testing.T) {
	var table *Table
	if _, ok := table.Lookup(Code{"111", "22"}); ok {
		t.Fatal("nil table must not resolve")
	}
	if table.Len() != 0 {
		t.Fatal("nil table must be empty")
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.csv"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcc-mnc.csv")
	if err := os.WriteFile(path, []byte(sampleTable), 0644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if e, ok := table.Lookup(Code{"222", "01"}); !ok || e.Country != "Otherland" {
		t.Fatalf("unexpected lookup result %+v ok=%v", e, ok)
	}
}
