package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/lumberbarons/wiretap/internal/wiretap"
)

// MeasureStore holds the latest decoded value per (device, measure).
type MeasureStore struct {
	db *gorm.DB
}

// OpenMeasureStore opens (creating if necessary) the sqlite database at
// path and migrates the measures table.
func OpenMeasureStore(path string) (*MeasureStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening measure store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&MeasureRow{}); err != nil {
		return nil, fmt.Errorf("migrating measure store %s: %w", path, err)
	}
	return &MeasureStore{db: db}, nil
}

// Insert upserts measure as a MeasureRow: whatever value was previously
// recorded for (DeviceDAQ, Name) is overwritten, latest-wins.
func (s *MeasureStore) Insert(measure wiretap.Measure) error {
	row := MeasureRow{
		DeviceDAQ:   measure.DeviceDAQ,
		MeasureName: measure.Name,
		Value:       measure.Value,
		LastUpdated: measure.Timestamp,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_daq"}, {Name: "measure_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "last_updated"}),
	}).Create(&row).Error
}

// Latest returns the current value of (deviceDAQ, measureName), if any
// has ever been recorded.
func (s *MeasureStore) Latest(deviceDAQ, measureName string) (MeasureRow, bool, error) {
	var row MeasureRow
	err := s.db.Where("device_daq = ? AND measure_name = ?", deviceDAQ, measureName).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return MeasureRow{}, false, nil
	}
	if err != nil {
		return MeasureRow{}, false, err
	}
	return row, true, nil
}

// ForDevice returns every measure currently recorded for deviceDAQ.
func (s *MeasureStore) ForDevice(deviceDAQ string) ([]MeasureRow, error) {
	var rows []MeasureRow
	err := s.db.Where("device_daq = ?", deviceDAQ).Find(&rows).Error
	return rows, err
}

// Close releases the underlying database connection.
func (s *MeasureStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
