// Package store persists wiretap output to an embedded sqlite database
// through gorm: a Raw Store of every correlated (request, response)
// pair, keyed by its deterministic UUID, and a Measure Store holding the
// latest decoded value per (device, measure).
package store

import "time"

// RawRow is one row of the recent table: a correlated pair recorded
// verbatim as hex, independent of whether it decoded to any measures.
// Insert-or-replace on UUID, per SPEC_FULL.md §3.
type RawRow struct {
	UUID      string `gorm:"column:uuid;primaryKey"`
	SlaveID   int    `gorm:"column:id"`
	Call      int    `gorm:"column:call"`
	Port      string `gorm:"column:port"`
	Request   string `gorm:"column:request"`
	Response  string `gorm:"column:response"`
	Timestamp time.Time
}

// TableName pins the gorm table name to the name the original recent
// table used, rather than gorm's pluralized default.
func (RawRow) TableName() string { return "recent" }

// MeasureRow is one row of the measures table: the latest known value
// for a (device, measure) pair. Latest-wins: a write replaces whatever
// value and timestamp were there before.
type MeasureRow struct {
	DeviceDAQ   string `gorm:"column:device_daq;uniqueIndex:idx_device_measure"`
	MeasureName string `gorm:"column:measure_name;uniqueIndex:idx_device_measure"`
	Value       float64
	LastUpdated time.Time
}

// TableName pins the gorm table name for MeasureRow.
func (MeasureRow) TableName() string { return "measures" }
