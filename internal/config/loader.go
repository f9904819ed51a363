package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lumberbarons/wiretap/internal/wiretap"
)

// LoadSiteDevices reads and parses site_devices.json.
func LoadSiteDevices(path string) ([]SiteDevice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var devices []SiteDevice
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return devices, nil
}

// LoadTemplates reads and parses sos_templates_modbus.json.
func LoadTemplates(path string) (TemplateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var set TemplateSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return set, nil
}

// LoadBackground reads background.json and normalizes its
// modbus_rtu_wiretap.parameters block. clear_interval defaults to 300s
// when zero or absent.
func LoadBackground(path string) (BackgroundParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BackgroundParams{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var f backgroundFile
	if err := json.Unmarshal(data, &f); err != nil {
		return BackgroundParams{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	ports, err := normalizePortReceive(f.ModbusRTUWiretap.Parameters.PortReceive)
	if err != nil {
		return BackgroundParams{}, fmt.Errorf("parsing port_receive in %s: %w", path, err)
	}

	clearInterval := time.Duration(f.ModbusRTUWiretap.Parameters.ClearInterval) * time.Second
	if clearInterval <= 0 {
		clearInterval = 300 * time.Second
	}

	return BackgroundParams{Ports: ports, ClearInterval: clearInterval}, nil
}

// dataTypeFor and orderFor translate the JSON string tags used in
// sos_templates_modbus.json into the wiretap package's typed constants.
// An unrecognized tag is reported via ok=false so the caller can skip
// and log the malformed entry, per SPEC_FULL.md §4.4/§7.

func dataTypeFor(s string) (wiretap.DataType, bool) {
	switch wiretap.DataType(s) {
	case wiretap.DataInt16, wiretap.DataUint16, wiretap.DataInt32, wiretap.DataUint32, wiretap.DataFloat32, wiretap.DataBitpacked:
		return wiretap.DataType(s), true
	}
	return "", false
}

func orderFor(s string) (wiretap.ByteWordOrder, bool) {
	switch wiretap.ByteWordOrder(s) {
	case wiretap.OrderBigByteBigWord, wiretap.OrderBigByteSmallWord, wiretap.OrderSmallByteBigWord, wiretap.OrderSmallByteSmallWord:
		return wiretap.ByteWordOrder(s), true
	}
	return "", false
}

func scalingFor(a AutoScaling) wiretap.Scaling {
	mode := wiretap.ScalingMode(a.ScaleMode)
	if mode != wiretap.ScalingSlopeIntercept && mode != wiretap.ScalingPointSlope {
		mode = wiretap.ScalingSlopeIntercept
	}
	return wiretap.Scaling{
		Mode:      mode,
		Slope:     a.Slope,
		Offset:    a.Offset,
		ValueMin:  a.ValueMin,
		ValueMax:  a.ValueMax,
		TargetMin: a.TargetMin,
		TargetMax: a.TargetMax,
	}
}

// BuildMapping translates the site device catalog and template set into
// a wiretap.Mapping, skipping (and logging) any device whose template
// reference is missing and any measure whose dataType/byteword_order
// tag isn't recognized. Devices not wiretapped on any port are ignored.
func BuildMapping(devices []SiteDevice, templates TemplateSet, logger *log.Logger) *wiretap.Mapping {
	ports := make(map[string]map[byte]wiretap.SlaveMapping)

	for _, dev := range devices {
		if !dev.IsWiretapped() {
			continue
		}
		port := *dev.Wiretapped

		measures, ok := templates[dev.DeviceType][dev.DAQTemplate]
		if !ok {
			logf(logger, "modbus wiretap: no template %q/%q for device %q, skipping", dev.DeviceType, dev.DAQTemplate, dev.DAQName)
			continue
		}

		var entries []wiretap.TemplateEntry
		for _, m := range measures {
			if m.DataType == string(wiretap.DataBitpacked) {
				entries = append(entries, wiretap.TemplateEntry{
					MeasureName: m.Measure,
					Address:     uint16(m.Address),
					Quantity:    uint16(m.Quantity),
					DataType:    wiretap.DataBitpacked,
					Bit:         m.Bit,
				})
				continue
			}

			dt, ok := dataTypeFor(m.DataType)
			if !ok {
				logf(logger, "modbus wiretap: device %q measure %q has unknown dataType %q, skipping", dev.DAQName, m.Measure, m.DataType)
				continue
			}
			order, ok := orderFor(m.ByteWordOrder)
			if !ok {
				logf(logger, "modbus wiretap: device %q measure %q has unknown byteword_order %q, skipping", dev.DAQName, m.Measure, m.ByteWordOrder)
				continue
			}

			entries = append(entries, wiretap.TemplateEntry{
				MeasureName: m.Measure,
				Address:     uint16(m.Address),
				Quantity:    uint16(m.Quantity),
				DataType:    dt,
				Order:       order,
				Scaling:     scalingFor(m.AutoScaling),
			})
		}

		if _, ok := ports[port]; !ok {
			ports[port] = make(map[byte]wiretap.SlaveMapping)
		}
		ports[port][byte(dev.Network.Params.CommID)] = wiretap.SlaveMapping{
			DeviceDAQ: dev.DAQName,
			Templates: entries,
		}
	}

	return wiretap.NewMapping(ports)
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
