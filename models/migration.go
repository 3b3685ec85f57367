package models

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateTracking creates or widens the monitoring table. The production table is owned by the DBA;
// this is used for fresh environments and tests only (TRACKING_AUTO_MIGRATE).
func MigrateTracking(db *gorm.DB) error {
	if err := db.AutoMigrate(&OutstandingError{}); err != nil {
		return fmt.Errorf("migrate %s: %w", TrackingTableName, err)
	}
	return nil
}

// MigrateEventLog creates busines_event on a scratch database. Never run against a branch host.
func MigrateEventLog(db *gorm.DB) error {
	if err := db.AutoMigrate(&BusinessEvent{}); err != nil {
		return fmt.Errorf("migrate %s: %w", EventLogTableName, err)
	}
	return nil
}
