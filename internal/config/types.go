// Package config loads the wiretap's JSON configuration inputs
// (site_devices.json, sos_templates_modbus.json, background.json) and
// turns them into a wiretap.Mapping and a set of background parameters.
package config

import (
	"encoding/json"
	"time"
)

// SiteDevice is one entry of site_devices.json: a catalog row describing
// a device, which wiretapped serial port (if any) it appears on, and the
// slave address it answers to on that port.
type SiteDevice struct {
	DAQName     string  `json:"daq_name"`
	DeviceType  string  `json:"device_type"`
	DAQTemplate string  `json:"daq_template"`
	Wiretapped  *string `json:"wiretapped"`
	Network     struct {
		Params struct {
			CommID int `json:"comm_id"`
		} `json:"params"`
	} `json:"network"`
}

// IsWiretapped reports whether the device is tapped on a real port: the
// source data represents "not tapped" three different ways (JSON null,
// the literal string "None", or an empty string), all of which must be
// treated the same.
func (d SiteDevice) IsWiretapped() bool {
	return d.Wiretapped != nil && *d.Wiretapped != "" && *d.Wiretapped != "None"
}

// AutoScaling is the scaling block embedded in a template measure entry.
type AutoScaling struct {
	ScaleMode string  `json:"scale_mode"`
	Slope     float64 `json:"slope"`
	Offset    float64 `json:"offset"`
	TargetMin float64 `json:"target_min"`
	TargetMax float64 `json:"target_max"`
	ValueMin  float64 `json:"value_min"`
	ValueMax  float64 `json:"value_max"`
}

// TemplateMeasure is one measure definition inside a device template, as
// it appears in sos_templates_modbus.json.
type TemplateMeasure struct {
	Measure       string      `json:"measure"`
	Address       int         `json:"address"`
	Quantity      int         `json:"quantity"`
	Function      string      `json:"function"`
	DataType      string      `json:"dataType"`
	ByteWordOrder string      `json:"byteword_order"`
	Bit           int         `json:"bit"`
	AutoScaling   AutoScaling `json:"autoScaling"`
}

// TemplateSet is the full contents of sos_templates_modbus.json: device
// type -> template name -> measure list.
type TemplateSet map[string]map[string][]TemplateMeasure

// BackgroundParams is the normalized form of
// background.json's modbus_rtu_wiretap.parameters block.
type BackgroundParams struct {
	Ports         []string
	ClearInterval time.Duration
}

type backgroundFile struct {
	ModbusRTUWiretap struct {
		Parameters struct {
			PortReceive   json.RawMessage `json:"port_receive"`
			ClearInterval int             `json:"clear_interval"`
		} `json:"parameters"`
	} `json:"modbus_rtu_wiretap"`
}

// normalizePortReceive accepts either a bare JSON string or a JSON array
// of strings, per SPEC_FULL.md §3a, and returns a []string either way.
func normalizePortReceive(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}
