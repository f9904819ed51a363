package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadBackgroundNormalizesStringPort(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, "background.json", map[string]any{
		"modbus_rtu_wiretap": map[string]any{
			"parameters": map[string]any{
				"port_receive":   "/dev/ttyUSB0",
				"clear_interval": 120,
			},
		},
	})

	params, err := LoadBackground(path)
	if err != nil {
		t.Fatalf("LoadBackground: %v", err)
	}
	if len(params.Ports) != 1 || params.Ports[0] != "/dev/ttyUSB0" {
		t.Fatalf("expected single normalized port, got %+v", params.Ports)
	}
	if params.ClearInterval.Seconds() != 120 {
		t.Fatalf("expected 120s clear interval, got %v", params.ClearInterval)
	}
}

func TestLoadBackgroundNormalizesListPort(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, "background.json", map[string]any{
		"modbus_rtu_wiretap": map[string]any{
			"parameters": map[string]any{
				"port_receive": []string{"/dev/ttyUSB0", "/dev/ttyUSB1"},
			},
		},
	})

	params, err := LoadBackground(path)
	if err != nil {
		t.Fatalf("LoadBackground: %v", err)
	}
	if len(params.Ports) != 2 {
		t.Fatalf("expected 2 ports, got %+v", params.Ports)
	}
	if params.ClearInterval.Seconds() != 300 {
		t.Fatalf("expected default 300s clear interval, got %v", params.ClearInterval)
	}
}

func TestSiteDeviceIsWiretapped(t *testing.T) {
	none := "None"
	empty := ""
	port := "/dev/ttyUSB0"

	cases := []struct {
		name string
		v    *string
		want bool
	}{
		{"nil", nil, false},
		{"none-string", &none, false},
		{"empty-string", &empty, false},
		{"real-port", &port, true},
	}
	for _, c := range cases {
		d := SiteDevice{Wiretapped: c.v}
		if got := d.IsWiretapped(); got != c.want {
			t.Errorf("%s: IsWiretapped() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestBuildMappingSkipsMissingTemplateAndMalformedMeasure(t *testing.T) {
	port := "/dev/ttyUSB0"
	devices := []SiteDevice{
		{
			DAQName:     "meter-1",
			DeviceType:  "meter",
			DAQTemplate: "standard",
			Wiretapped:  &port,
		},
		{
			DAQName:     "meter-2",
			DeviceType:  "meter",
			DAQTemplate: "missing-template",
			Wiretapped:  &port,
		},
	}
	devices[0].Network.Params.CommID = 1
	devices[1].Network.Params.CommID = 2

	templates := TemplateSet{
		"meter": {
			"standard": []TemplateMeasure{
				{Measure: "voltage", Address: 0, DataType: "uint16", ByteWordOrder: "bigByte_bigWord"},
				{Measure: "bogus", Address: 1, DataType: "not-a-type", ByteWordOrder: "bigByte_bigWord"},
			},
		},
	}

	mapping := BuildMapping(devices, templates, nil)

	sm, ok := mapping.Lookup(port, 1)
	if !ok {
		t.Fatalf("expected meter-1 to be mapped")
	}
	if sm.DeviceDAQ != "meter-1" {
		t.Fatalf("unexpected DAQ name: %s", sm.DeviceDAQ)
	}
	if len(sm.Templates) != 1 || sm.Templates[0].MeasureName != "voltage" {
		t.Fatalf("expected only the well-formed measure to survive, got %+v", sm.Templates)
	}

	if _, ok := mapping.Lookup(port, 2); ok {
		t.Fatalf("expected meter-2 (missing template) to be skipped entirely")
	}
}
