package session

import (
	"errors"
	"time"

	"github.com/ksred/finnet-api/internal/types"
	"gorm.io/gorm"
)

// Store is the caller-side cache for the detection/netting pipeline. The core
// operations are pure functions over an in-memory ledger; the store is what
// lets separate API calls hand the same ledger from one stage to the next.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveLedger stores a ledger and its summary record in a transaction,
// replacing any previous ledger with the same ID.
func (s *Store) SaveLedger(ledgerID string, ledger types.Ledger) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ledger_id = ?", ledgerID).Delete(&TradeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("ledger_id = ?", ledgerID).Delete(&LedgerRecord{}).Error; err != nil {
			return err
		}

		record := LedgerRecord{
			LedgerID:   ledgerID,
			TradeCount: len(ledger),
			Scanned:    ledger.Labelled() && len(ledger) > 0,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		rows := make([]TradeRecord, len(ledger))
		for i, trade := range ledger {
			rows[i] = toTradeRecord(ledgerID, trade)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

// SaveLedgerWithIdempotency stores a ledger together with an idempotency
// record so a retried create returns the original ledger.
func (s *Store) SaveLedgerWithIdempotency(ledgerID string, ledger types.Ledger, idempotencyKey string) error {
	if err := s.SaveLedger(ledgerID, ledger); err != nil {
		return err
	}
	record := IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     ledgerID,
		ResourceType:   "ledger",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	return s.db.Create(&record).Error
}

// GetLedgerRecord retrieves a ledger's summary row.
func (s *Store) GetLedgerRecord(ledgerID string) (*LedgerRecord, error) {
	var record LedgerRecord
	if err := s.db.Where("ledger_id = ?", ledgerID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// GetLedger retrieves a full ledger in stored order.
func (s *Store) GetLedger(ledgerID string) (types.Ledger, error) {
	if _, err := s.GetLedgerRecord(ledgerID); err != nil {
		return nil, err
	}

	var rows []TradeRecord
	if err := s.db.Where("ledger_id = ?", ledgerID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	ledger := make(types.Ledger, len(rows))
	for i, row := range rows {
		ledger[i] = fromTradeRecord(row)
	}
	return ledger, nil
}

// ReplaceLabels overwrites the stored anomaly labels for a ledger with the
// labels carried by the given trades and marks the ledger as scanned. The
// whole relabel happens in one transaction so a ledger is never stored half
// labelled.
func (s *Store) ReplaceLabels(ledgerID string, ledger types.Ledger) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var record LedgerRecord
		if err := tx.Where("ledger_id = ?", ledgerID).First(&record).Error; err != nil {
			return err
		}

		for _, trade := range ledger {
			result := tx.Model(&TradeRecord{}).
				Where("ledger_id = ? AND trade_id = ?", ledgerID, trade.TradeID).
				Update("anomaly_label", string(trade.AnomalyLabel))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}

		record.Scanned = true
		record.UpdatedAt = time.Now()
		return tx.Save(&record).Error
	})
}

// SaveReport stores a settlement report for a ledger, replacing any previous
// report in the same transaction.
func (s *Store) SaveReport(ledgerID string, report *types.SettlementReport) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ledger_id = ?", ledgerID).Delete(&PositionRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("ledger_id = ?", ledgerID).Delete(&ReportRecord{}).Error; err != nil {
			return err
		}

		record := ReportRecord{
			LedgerID:    ledgerID,
			GrossVolume: report.GrossVolume,
			NetVolume:   report.NetVolume,
			SavingsPct:  report.SavingsPct,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		rows := make([]PositionRecord, len(report.Positions))
		for i, pos := range report.Positions {
			rows[i] = PositionRecord{
				LedgerID:    ledgerID,
				Entity:      pos.Entity,
				ToPay:       pos.ToPay,
				ToReceive:   pos.ToReceive,
				NetPosition: pos.NetPosition,
				Status:      pos.Status,
			}
		}
		return tx.Create(rows).Error
	})
}

// GetReport retrieves the stored settlement report for a ledger, positions
// ordered by entity.
func (s *Store) GetReport(ledgerID string) (*types.SettlementReport, error) {
	var record ReportRecord
	if err := s.db.Where("ledger_id = ?", ledgerID).First(&record).Error; err != nil {
		return nil, err
	}

	var rows []PositionRecord
	if err := s.db.Where("ledger_id = ?", ledgerID).Order("entity asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	report := &types.SettlementReport{
		Positions:   make([]types.NetPosition, len(rows)),
		GrossVolume: record.GrossVolume,
		NetVolume:   record.NetVolume,
		SavingsPct:  record.SavingsPct,
	}
	for i, row := range rows {
		report.Positions[i] = types.NetPosition{
			Entity:      row.Entity,
			ToPay:       row.ToPay,
			ToReceive:   row.ToReceive,
			NetPosition: row.NetPosition,
			Status:      row.Status,
		}
	}
	return report, nil
}

// GetIdempotencyRecord retrieves an idempotency record by key. A missing key
// returns an empty record rather than an error.
func (s *Store) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := s.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// PurgeStale deletes ledgers, reports, and idempotency records not touched
// within the retention window. Returns the number of ledgers removed.
func (s *Store) PurgeStale(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var purged int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var stale []LedgerRecord
		if err := tx.Where("updated_at < ?", cutoff).Find(&stale).Error; err != nil {
			return err
		}
		for _, record := range stale {
			for _, model := range []interface{}{&TradeRecord{}, &PositionRecord{}, &ReportRecord{}, &LedgerRecord{}} {
				if err := tx.Where("ledger_id = ?", record.LedgerID).Delete(model).Error; err != nil {
					return err
				}
			}
		}
		purged = int64(len(stale))
		return tx.Where("expires_at < ?", time.Now()).Delete(&IdempotencyRecord{}).Error
	})

	return purged, err
}

func toTradeRecord(ledgerID string, trade types.Trade) TradeRecord {
	return TradeRecord{
		LedgerID:     ledgerID,
		TradeID:      trade.TradeID,
		Buyer:        trade.Buyer,
		Seller:       trade.Seller,
		Symbol:       trade.Symbol,
		Quantity:     trade.Quantity,
		Price:        trade.Price,
		TotalValue:   trade.TotalValue,
		Timestamp:    trade.Timestamp,
		AnomalyLabel: string(trade.AnomalyLabel),
	}
}

func fromTradeRecord(row TradeRecord) types.Trade {
	return types.Trade{
		TradeID:      row.TradeID,
		Buyer:        row.Buyer,
		Seller:       row.Seller,
		Symbol:       row.Symbol,
		Quantity:     row.Quantity,
		Price:        row.Price,
		TotalValue:   row.TotalValue,
		Timestamp:    row.Timestamp,
		AnomalyLabel: types.AnomalyLabel(row.AnomalyLabel),
	}
}
