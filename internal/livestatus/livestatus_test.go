package livestatus

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIncrementCountAccumulates(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := s.IncrementCount("COM1", 1); err != nil {
		t.Fatalf("IncrementCount: %v", err)
	}
	if err := s.IncrementCount("COM1", 1); err != nil {
		t.Fatalf("IncrementCount: %v", err)
	}
	if err := s.IncrementCount("COM1", 2); err != nil {
		t.Fatalf("IncrementCount: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "counts.json"))
	if err != nil {
		t.Fatalf("reading counts.json: %v", err)
	}
	var f countsFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f["COM1"]["1"] != 2 {
		t.Fatalf("expected slave 1 count 2, got %d", f["COM1"]["1"])
	}
	if f["COM1"]["2"] != 1 {
		t.Fatalf("expected slave 2 count 1, got %d", f["COM1"]["2"])
	}
	if bytes.Contains(data, []byte("\n")) {
		t.Fatalf("expected counts.json to be newline-free JSON, got %q", data)
	}
}

func TestRecordPairCapsAt20(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	for i := 0; i < 25; i++ {
		if err := s.RecordPair(FoundPair{
			UUID:      "uuid-" + string(rune('a'+i)),
			Port:      "COM1",
			DeviceID:  i,
			Request:   "01,03,00,00",
			Response:  "01,03,02,00,2a",
			Timestamp: time.Now(),
		}); err != nil {
			t.Fatalf("RecordPair: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "foundPairs.json"))
	if err != nil {
		t.Fatalf("reading foundPairs.json: %v", err)
	}
	var pairs []FoundPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(pairs) != foundPairsLimit {
		t.Fatalf("expected %d pairs retained, got %d", foundPairsLimit, len(pairs))
	}
	if pairs[0].DeviceID != 5 {
		t.Fatalf("expected oldest-eviction to leave device 5 first, got %d", pairs[0].DeviceID)
	}
	if pairs[0].Request == "" || pairs[0].Response == "" {
		t.Fatalf("expected request/response to be populated")
	}
}

func TestUpdateSerialStreamTrims(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	window := make([]string, serialStreamLimit+10)
	for i := range window {
		window[i] = "ab"
	}
	if err := s.UpdateSerialStream("COM1", window); err != nil {
		t.Fatalf("UpdateSerialStream: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "serialStreams.json"))
	if err != nil {
		t.Fatalf("reading serialStreams.json: %v", err)
	}
	var f streamsFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f["COM1"]) != serialStreamLimit {
		t.Fatalf("expected window trimmed to %d, got %d", serialStreamLimit, len(f["COM1"]))
	}
}
