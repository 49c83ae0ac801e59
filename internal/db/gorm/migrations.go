package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: State records
		{
			ID: "001_state_records",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates tables with all indexes from struct tags
				return tx.AutoMigrate(&StateRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("state_records")
			},
		},

		// Migration 002: Transition log
		{
			ID: "002_state_transitions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Transition{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("state_transitions")
			},
		},
	})

	return m.Migrate()
}
