package types

import "time"

// AnomalyLabel is the classification assigned to a trade by the anomaly
// detector. The zero value means the trade has not been scanned yet.
type AnomalyLabel string

const (
	LabelUnscanned AnomalyLabel = ""
	LabelNormal    AnomalyLabel = "NORMAL"
	LabelAnomalous AnomalyLabel = "ANOMALOUS"
)

// Settlement direction relative to the central counterparty.
const (
	StatusPayToCentral       = "PAY_TO_CENTRAL"
	StatusReceiveFromCentral = "RECEIVE_FROM_CENTRAL"
)

// Trade is one row of a trade ledger.
//
// TotalValue is derived from Quantity and Price at creation time. It is not
// recomputed automatically, so anything mutating Quantity or Price must also
// refresh TotalValue.
type Trade struct {
	TradeID      string       `json:"trade_id"`
	Buyer        string       `json:"buyer"`
	Seller       string       `json:"seller"`
	Symbol       string       `json:"symbol"`
	Quantity     int64        `json:"quantity"`
	Price        float64      `json:"price"`
	TotalValue   float64      `json:"total_value"`
	Timestamp    time.Time    `json:"timestamp"`
	AnomalyLabel AnomalyLabel `json:"anomaly_label,omitempty"`
}

// Ledger is an ordered batch of trades. Ordering is not significant for any
// of the aggregations; it is kept stable for reproducible output.
type Ledger []Trade

// Labelled reports whether every trade in the ledger carries an anomaly
// label. An empty ledger counts as labelled.
func (l Ledger) Labelled() bool {
	for i := range l {
		if l[i].AnomalyLabel == LabelUnscanned {
			return false
		}
	}
	return true
}

// NetPosition is one entity's multilateral net obligation against the
// central counterparty.
type NetPosition struct {
	Entity      string  `json:"entity"`
	ToPay       float64 `json:"to_pay"`
	ToReceive   float64 `json:"to_receive"`
	NetPosition float64 `json:"net_position"`
	Status      string  `json:"status"`
}

// SettlementReport is the full output of a netting run: one position per
// entity plus the gross/net movement figures.
type SettlementReport struct {
	Positions   []NetPosition `json:"positions"`
	GrossVolume float64       `json:"gross_volume"`
	NetVolume   float64       `json:"net_volume"`
	SavingsPct  float64       `json:"savings_pct"`
}
