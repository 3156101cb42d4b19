package session

import (
	"time"

	"gorm.io/gorm"
)

// LedgerRecord tracks one live ledger in the session cache. A ledger is the
// unit of work for the scan and netting operations; it is replaced wholesale
// when regenerated, never versioned.
type LedgerRecord struct {
	gorm.Model `json:"-"`
	LedgerID   string    `gorm:"uniqueIndex" json:"ledger_id"`
	TradeCount int       `json:"trade_count"`
	Scanned    bool      `json:"scanned"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TradeRecord is the stored form of one ledger row.
type TradeRecord struct {
	gorm.Model   `json:"-"`
	LedgerID     string    `gorm:"index" json:"ledger_id"`
	TradeID      string    `json:"trade_id"`
	Buyer        string    `json:"buyer"`
	Seller       string    `json:"seller"`
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	Price        float64   `json:"price"`
	TotalValue   float64   `json:"total_value"`
	Timestamp    time.Time `json:"timestamp"`
	AnomalyLabel string    `json:"anomaly_label"`
}

// ReportRecord holds the latest settlement report produced for a ledger.
type ReportRecord struct {
	gorm.Model  `json:"-"`
	LedgerID    string    `gorm:"uniqueIndex" json:"ledger_id"`
	GrossVolume float64   `json:"gross_volume"`
	NetVolume   float64   `json:"net_volume"`
	SavingsPct  float64   `json:"savings_pct"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PositionRecord is one entity's net position within a stored report.
type PositionRecord struct {
	gorm.Model  `json:"-"`
	LedgerID    string  `gorm:"index" json:"ledger_id"`
	Entity      string  `json:"entity"`
	ToPay       float64 `json:"to_pay"`
	ToReceive   float64 `json:"to_receive"`
	NetPosition float64 `json:"net_position"`
	Status      string  `json:"status"`
}

// IdempotencyRecord prevents duplicate resource creation on retried requests.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
