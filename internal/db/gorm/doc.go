// Package gorm provides the durable RecordStore backed by GORM.
//
// PostgreSQL is used when a DSN is configured; otherwise a SQLite file is
// opened through the pure-Go modernc driver, which needs no cgo.
//
//	store, err := gorm.NewStore(gorm.Config{
//	    Path:     "/var/lib/emostate/state.db",
//	    MaxConns: 4,
//	    LogLevel: logger.Silent,
//	})
//
// Schema changes are applied by gormigrate on open. Writes use an optimistic
// version column: a lost race surfaces as db.ErrConflict.
package gorm
