package controller

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumberbarons/wiretap/internal/config"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// newTestController builds a Controller with no serial pipelines (so it
// never touches real hardware), wired to temp-file config and stores,
// for exercising the reload logic in isolation.
func newTestController(t *testing.T) (*Controller, string, string) {
	t.Helper()
	dir := t.TempDir()
	sitePath := filepath.Join(dir, "site_devices.json")
	templatesPath := filepath.Join(dir, "sos_templates_modbus.json")

	writeJSON(t, sitePath, []any{})
	writeJSON(t, templatesPath, map[string]any{})

	cfg := Config{
		SiteDevicesPath:  sitePath,
		TemplatesPath:    templatesPath,
		RawStorePath:     filepath.Join(dir, "raw.db"),
		MeasureStorePath: filepath.Join(dir, "measures.db"),
	}
	cfg.setDefaults()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		c.rawStore.Close()
		c.measureStore.Close()
	})
	return c, sitePath, templatesPath
}

func TestControllerReloadsMappingOnFileChange(t *testing.T) {
	c, sitePath, templatesPath := newTestController(t)

	if _, ok := c.mapping.Load().Lookup("COM1", 1); ok {
		t.Fatalf("expected empty initial mapping to have no entries")
	}

	port := "COM1"
	writeJSON(t, sitePath, []config.SiteDevice{
		{DAQName: "meter-1", DeviceType: "meter", DAQTemplate: "standard", Wiretapped: &port},
	})
	writeJSON(t, templatesPath, map[string]any{
		"meter": map[string]any{
			"standard": []config.TemplateMeasure{
				{Measure: "voltage", Address: 0, DataType: "uint16", ByteWordOrder: "bigByte_bigWord"},
			},
		},
	})

	// Force distinct mtimes on filesystems with coarse mtime resolution.
	future := time.Now().Add(time.Second)
	os.Chtimes(sitePath, future, future)
	os.Chtimes(templatesPath, future, future)

	c.maybeReload()

	sm, ok := c.mapping.Load().Lookup("COM1", 0)
	if !ok {
		t.Fatalf("expected reload to pick up the new device mapping")
	}
	if sm.DeviceDAQ != "meter-1" {
		t.Fatalf("unexpected device: %s", sm.DeviceDAQ)
	}
}

func TestControllerReloadKeepsPreviousMappingOnMalformedConfig(t *testing.T) {
	c, sitePath, _ := newTestController(t)

	port := "COM1"
	writeJSON(t, sitePath, []config.SiteDevice{
		{DAQName: "meter-1", DeviceType: "meter", DAQTemplate: "standard", Wiretapped: &port},
	})
	c.reload()
	if _, ok := c.mapping.Load().Lookup("COM1", 0); !ok {
		t.Fatalf("expected initial reload to succeed")
	}

	if err := os.WriteFile(sitePath, []byte("not json"), 0o644); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	c.reload()

	if _, ok := c.mapping.Load().Lookup("COM1", 0); !ok {
		t.Fatalf("expected previous mapping to survive a malformed reload")
	}
}
