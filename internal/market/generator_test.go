package market

import (
	"testing"

	"github.com/ksred/finnet-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLedgerSchema(t *testing.T) {
	ledger := NewGenerator(1).GenerateLedger(300)
	require.Len(t, ledger, 300)

	seen := make(map[string]struct{}, len(ledger))
	for i, trade := range ledger {
		_, dup := seen[trade.TradeID]
		assert.False(t, dup, "duplicate trade ID %s", trade.TradeID)
		seen[trade.TradeID] = struct{}{}

		assert.GreaterOrEqual(t, trade.Quantity, int64(minQuantity))
		assert.Less(t, trade.Quantity, int64(maxQuantity))
		assert.GreaterOrEqual(t, trade.Price, minPrice)
		assert.LessOrEqual(t, trade.Price, maxPrice)
		assert.InDelta(t, float64(trade.Quantity)*trade.Price, trade.TotalValue, 1e-9)
		assert.Equal(t, types.LabelUnscanned, trade.AnomalyLabel)
		assert.Contains(t, counterparties, trade.Buyer)
		assert.Contains(t, counterparties, trade.Seller)
		assert.Contains(t, symbols, trade.Symbol)

		if i > 0 {
			assert.False(t, trade.Timestamp.Before(ledger[i-1].Timestamp),
				"timestamps must be non-decreasing")
		}
	}
}

func TestGenerateLedgerDeterministic(t *testing.T) {
	first := NewGenerator(42).GenerateLedger(100)
	second := NewGenerator(42).GenerateLedger(100)
	assert.Equal(t, first, second)
}

func TestGenerateLedgerSeedsDiffer(t *testing.T) {
	first := NewGenerator(1).GenerateLedger(50)
	second := NewGenerator(2).GenerateLedger(50)
	assert.NotEqual(t, first, second)
}

func TestGenerateLedgerFatFingers(t *testing.T) {
	ledger := NewGenerator(5, WithFatFingers()).GenerateLedger(20)

	for i := 0; i < fatFingerCount; i++ {
		trade := ledger[i]
		derived := float64(trade.Quantity) * trade.Price
		assert.InDelta(t, derived*fatFingerMultiplier, trade.TotalValue, 1e-6,
			"injected trade %d should carry inflated total value", i)
	}

	// Remaining rows keep the derivation intact
	for i := fatFingerCount; i < len(ledger); i++ {
		trade := ledger[i]
		assert.InDelta(t, float64(trade.Quantity)*trade.Price, trade.TotalValue, 1e-9)
	}
}

func TestGenerateLedgerFatFingersShortLedger(t *testing.T) {
	// Injection must not panic on ledgers shorter than the injection count
	ledger := NewGenerator(5, WithFatFingers()).GenerateLedger(2)
	require.Len(t, ledger, 2)
}
