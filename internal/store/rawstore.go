package store

import (
	"encoding/hex"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/lumberbarons/wiretap/internal/wiretap"
)

// RawStore is the append-with-replace sink for correlated pairs. A
// single *gorm.DB backs every RawStore, so all writes from this process
// are serialized through one connection, per SPEC_FULL.md §5.
type RawStore struct {
	db *gorm.DB
}

// OpenRawStore opens (creating if necessary) the sqlite database at
// path and migrates the recent table.
func OpenRawStore(path string) (*RawStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening raw store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&RawRow{}); err != nil {
		return nil, fmt.Errorf("migrating raw store %s: %w", path, err)
	}
	return &RawStore{db: db}, nil
}

// Insert upserts pair as a RawRow, replacing any existing row sharing
// its UUID (identical read patterns dedupe to their most recent
// occurrence rather than accumulating forever).
func (s *RawStore) Insert(pair wiretap.Pair) error {
	row := RawRow{
		UUID:      pair.UUID(),
		SlaveID:   int(pair.Slave),
		Call:      int(pair.Function),
		Port:      pair.Port,
		Request:   hex.EncodeToString(pair.Request),
		Response:  hex.EncodeToString(pair.Response),
		Timestamp: pair.Timestamp,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "call", "port", "request", "response", "timestamp"}),
	}).Create(&row).Error
}

// Recent returns up to limit rows, most recently seen first.
func (s *RawStore) Recent(limit int) ([]RawRow, error) {
	var rows []RawRow
	err := s.db.Order("timestamp DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Close releases the underlying database connection.
func (s *RawStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
