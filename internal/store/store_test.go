package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lumberbarons/wiretap/internal/wiretap"
)

func TestRawStoreInsertOrReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.db")
	s, err := OpenRawStore(path)
	if err != nil {
		t.Fatalf("OpenRawStore: %v", err)
	}
	defer s.Close()

	pair := wiretap.Pair{
		Port:     "COM1",
		Slave:    1,
		Function: 3,
		Request:  wiretap.Frame{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B},
		Response: wiretap.Frame{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02, 0xAA, 0xAA},
		Start:    0,
		End:      2,
	}

	if err := s.Insert(pair); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	later := pair
	later.Timestamp = pair.Timestamp.Add(time.Minute)
	if err := s.Insert(later); err != nil {
		t.Fatalf("replace insert: %v", err)
	}

	rows, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected insert-or-replace to keep exactly one row per uuid, got %d", len(rows))
	}
	if rows[0].UUID != pair.UUID() {
		t.Fatalf("unexpected uuid: %s", rows[0].UUID)
	}
}

func TestMeasureStoreLatestWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measures.db")
	s, err := OpenMeasureStore(path)
	if err != nil {
		t.Fatalf("OpenMeasureStore: %v", err)
	}
	defer s.Close()

	m1 := wiretap.Measure{DeviceDAQ: "meter-1", Name: "voltage", Value: 120, Timestamp: time.Now()}
	m2 := wiretap.Measure{DeviceDAQ: "meter-1", Name: "voltage", Value: 121.5, Timestamp: m1.Timestamp.Add(time.Second)}

	if err := s.Insert(m1); err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := s.Insert(m2); err != nil {
		t.Fatalf("insert m2: %v", err)
	}

	row, ok, err := s.Latest("meter-1", "voltage")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok {
		t.Fatalf("expected a row to exist")
	}
	if row.Value != 121.5 {
		t.Fatalf("expected latest value 121.5, got %v", row.Value)
	}
}
