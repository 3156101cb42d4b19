package database

import (
	"fmt"

	"github.com/ksred/finnet-api/internal/database/migrations"
	"github.com/ksred/finnet-api/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
// The path may be a file path or ":memory:" for throwaway stores
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddLedgerTrades(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&session.LedgerRecord{},
		&session.ReportRecord{},
		&session.PositionRecord{},
		&session.IdempotencyRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
