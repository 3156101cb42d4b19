package migrations

import (
	"github.com/ksred/finnet-api/internal/session"
	"gorm.io/gorm"
)

// AddLedgerTrades creates the trade records table and required indexes
func AddLedgerTrades(db *gorm.DB) error {
	if err := db.AutoMigrate(&session.TradeRecord{}); err != nil {
		return err
	}

	// Add indexes for better query performance
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for ledger row lookups by business trade ID
		`CREATE INDEX IF NOT EXISTS idx_trade_records_ledger_trade
		 ON trade_records(ledger_id, trade_id)`,

		// Index for label filtering (netting reads the normal subset)
		`CREATE INDEX IF NOT EXISTS idx_trade_records_label
		 ON trade_records(anomaly_label)`,

		// Index for created_at timestamp (useful for eviction queries)
		`CREATE INDEX IF NOT EXISTS idx_trade_records_created_at
		 ON trade_records(created_at)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
