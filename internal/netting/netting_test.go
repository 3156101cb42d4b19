package netting

import (
	"fmt"
	"math"
	"testing"

	"github.com/ksred/finnet-api/internal/market"
	"github.com/ksred/finnet-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(id, buyer, seller string, value float64, label types.AnomalyLabel) types.Trade {
	return types.Trade{
		TradeID:      id,
		Buyer:        buyer,
		Seller:       seller,
		Symbol:       "AAPL",
		Quantity:     1,
		Price:        value,
		TotalValue:   value,
		AnomalyLabel: label,
	}
}

func TestNetRoundTrip(t *testing.T) {
	// A buys $100 from B and B buys $100 from A: full cancellation
	svc := NewService(nil)
	ledger := types.Ledger{
		trade("T1", "A", "B", 100, types.LabelNormal),
		trade("T2", "B", "A", 100, types.LabelNormal),
	}

	report, err := svc.Net(ledger)
	require.NoError(t, err)
	require.Len(t, report.Positions, 2)

	for _, pos := range report.Positions {
		assert.Zero(t, pos.NetPosition)
		assert.Equal(t, types.StatusReceiveFromCentral, pos.Status)
	}
	assert.Equal(t, 200.0, report.GrossVolume)
	assert.Zero(t, report.NetVolume)
	assert.Equal(t, 100.0, report.SavingsPct)
}

func TestNetSingleTrade(t *testing.T) {
	svc := NewService(nil)
	ledger := types.Ledger{trade("T1", "A", "B", 50, types.LabelNormal)}

	report, err := svc.Net(ledger)
	require.NoError(t, err)
	require.Len(t, report.Positions, 2)

	// Positions come back sorted by entity
	a, b := report.Positions[0], report.Positions[1]
	assert.Equal(t, "A", a.Entity)
	assert.Equal(t, -50.0, a.NetPosition)
	assert.Equal(t, types.StatusPayToCentral, a.Status)
	assert.Equal(t, "B", b.Entity)
	assert.Equal(t, 50.0, b.NetPosition)
	assert.Equal(t, types.StatusReceiveFromCentral, b.Status)

	// A single obligation nets nothing away
	assert.Equal(t, 50.0, report.GrossVolume)
	assert.Equal(t, 50.0, report.NetVolume)
	assert.Zero(t, report.SavingsPct)
}

func TestNetAllAnomalous(t *testing.T) {
	svc := NewService(nil)
	ledger := types.Ledger{
		trade("T1", "A", "B", 100, types.LabelAnomalous),
		trade("T2", "B", "A", 200, types.LabelAnomalous),
	}

	_, err := svc.Net(ledger)
	assert.ErrorIs(t, err, ErrNoSettlableTrades)
}

func TestNetUnscannedLedger(t *testing.T) {
	svc := NewService(nil)
	ledger := types.Ledger{
		trade("T1", "A", "B", 100, types.LabelNormal),
		trade("T2", "B", "A", 200, types.LabelUnscanned),
	}

	_, err := svc.Net(ledger)
	assert.ErrorIs(t, err, ErrMissingAnomalyLabels)
}

func TestNetDegenerateVolume(t *testing.T) {
	svc := NewService(nil)
	ledger := types.Ledger{trade("T1", "A", "B", 0, types.LabelNormal)}

	_, err := svc.Net(ledger)
	assert.ErrorIs(t, err, ErrDegenerateVolume)
}

func TestNetSelfTrade(t *testing.T) {
	// An entity trading with itself nets to zero contribution
	svc := NewService(nil)
	ledger := types.Ledger{
		trade("T1", "A", "A", 300, types.LabelNormal),
		trade("T2", "A", "B", 50, types.LabelNormal),
	}

	report, err := svc.Net(ledger)
	require.NoError(t, err)
	require.Len(t, report.Positions, 2)

	a := report.Positions[0]
	require.Equal(t, "A", a.Entity)
	assert.Equal(t, 350.0, a.ToPay)
	assert.Equal(t, 300.0, a.ToReceive)
	assert.Equal(t, -50.0, a.NetPosition)
	assert.Equal(t, 350.0, report.GrossVolume)
	assert.Equal(t, 50.0, report.NetVolume)
}

func TestNetConservation(t *testing.T) {
	// Pay and receive are two views of the same gross total
	svc := NewService(nil)
	ledger := market.NewGenerator(7).GenerateLedger(250)
	for i := range ledger {
		ledger[i].AnomalyLabel = types.LabelNormal
	}

	report, err := svc.Net(ledger)
	require.NoError(t, err)

	var sumPay, sumReceive float64
	for _, pos := range report.Positions {
		sumPay += pos.ToPay
		sumReceive += pos.ToReceive
	}
	assert.InDelta(t, report.GrossVolume, sumPay, 1e-6)
	assert.InDelta(t, report.GrossVolume, sumReceive, 1e-6)

	assert.GreaterOrEqual(t, report.NetVolume, 0.0)
	assert.LessOrEqual(t, report.NetVolume, report.GrossVolume)
	assert.GreaterOrEqual(t, report.SavingsPct, 0.0)
	assert.LessOrEqual(t, report.SavingsPct, 100.0)
}

func TestNetIdempotent(t *testing.T) {
	svc := NewService(nil)
	ledger := market.NewGenerator(11).GenerateLedger(100)
	for i := range ledger {
		ledger[i].AnomalyLabel = types.LabelNormal
	}

	first, err := svc.Net(ledger)
	require.NoError(t, err)
	second, err := svc.Net(ledger)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNetBitIdenticalAcrossRuns(t *testing.T) {
	// Many entities with cent-fraction values, so the volume sums would
	// drift in the low bits if position order varied between runs
	svc := NewService(nil)
	var ledger types.Ledger
	for i := 0; i < 40; i++ {
		buyer := fmt.Sprintf("Bank-%02d", i)
		seller := fmt.Sprintf("Bank-%02d", (i*7+3)%40)
		value := 0.01 + float64(i)*13.37
		ledger = append(ledger, trade(fmt.Sprintf("T%d", i), buyer, seller, value, types.LabelNormal))
	}

	first, err := svc.Net(ledger)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := svc.Net(ledger)
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(first.NetVolume), math.Float64bits(again.NetVolume))
		assert.Equal(t, math.Float64bits(first.SavingsPct), math.Float64bits(again.SavingsPct))
		assert.Equal(t, first, again)
	}
}

func TestNetStableOrdering(t *testing.T) {
	svc := NewService(nil)
	ledger := types.Ledger{
		trade("T1", "Citi", "BlackRock", 100, types.LabelNormal),
		trade("T2", "JPMorgan", "Citi", 200, types.LabelNormal),
	}

	report, err := svc.Net(ledger)
	require.NoError(t, err)
	require.Len(t, report.Positions, 3)
	assert.Equal(t, "BlackRock", report.Positions[0].Entity)
	assert.Equal(t, "Citi", report.Positions[1].Entity)
	assert.Equal(t, "JPMorgan", report.Positions[2].Entity)
}

func TestNetExcludesAnomalousTrades(t *testing.T) {
	svc := NewService(nil)
	ledger := types.Ledger{
		trade("T1", "A", "B", 100, types.LabelNormal),
		trade("T2", "C", "A", 5000, types.LabelAnomalous),
	}

	report, err := svc.Net(ledger)
	require.NoError(t, err)

	// The flagged trade contributes to no aggregate and C never appears
	assert.Equal(t, 100.0, report.GrossVolume)
	require.Len(t, report.Positions, 2)
	for _, pos := range report.Positions {
		assert.NotEqual(t, "C", pos.Entity)
	}
}
