package session_test

import (
	"testing"
	"time"

	"github.com/ksred/finnet-api/internal/database"
	"github.com/ksred/finnet-api/internal/market"
	"github.com/ksred/finnet-api/internal/session"
	"github.com/ksred/finnet-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	db, err := database.NewDatabase(":memory:")
	require.NoError(t, err)
	return session.NewStore(db)
}

func assertLedgersEqual(t *testing.T, want, got types.Ledger) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].TradeID, got[i].TradeID)
		assert.Equal(t, want[i].Buyer, got[i].Buyer)
		assert.Equal(t, want[i].Seller, got[i].Seller)
		assert.Equal(t, want[i].Symbol, got[i].Symbol)
		assert.Equal(t, want[i].Quantity, got[i].Quantity)
		assert.Equal(t, want[i].Price, got[i].Price)
		assert.Equal(t, want[i].TotalValue, got[i].TotalValue)
		assert.Equal(t, want[i].AnomalyLabel, got[i].AnomalyLabel)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp),
			"timestamp mismatch for %s", want[i].TradeID)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ledger := market.NewGenerator(1).GenerateLedger(25)

	require.NoError(t, store.SaveLedger("LDG_test", ledger))

	record, err := store.GetLedgerRecord("LDG_test")
	require.NoError(t, err)
	assert.Equal(t, 25, record.TradeCount)
	assert.False(t, record.Scanned)

	loaded, err := store.GetLedger("LDG_test")
	require.NoError(t, err)
	assertLedgersEqual(t, ledger, loaded)
}

func TestGetLedgerMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetLedger("LDG_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSaveLedgerReplacesExisting(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveLedger("LDG_test", market.NewGenerator(1).GenerateLedger(10)))
	replacement := market.NewGenerator(2).GenerateLedger(5)
	require.NoError(t, store.SaveLedger("LDG_test", replacement))

	loaded, err := store.GetLedger("LDG_test")
	require.NoError(t, err)
	assertLedgersEqual(t, replacement, loaded)
}

func TestReplaceLabels(t *testing.T) {
	store := newTestStore(t)
	ledger := market.NewGenerator(1).GenerateLedger(10)
	require.NoError(t, store.SaveLedger("LDG_test", ledger))

	for i := range ledger {
		ledger[i].AnomalyLabel = types.LabelNormal
	}
	ledger[0].AnomalyLabel = types.LabelAnomalous
	require.NoError(t, store.ReplaceLabels("LDG_test", ledger))

	record, err := store.GetLedgerRecord("LDG_test")
	require.NoError(t, err)
	assert.True(t, record.Scanned)

	loaded, err := store.GetLedger("LDG_test")
	require.NoError(t, err)
	assert.Equal(t, types.LabelAnomalous, loaded[0].AnomalyLabel)
	for _, trade := range loaded[1:] {
		assert.Equal(t, types.LabelNormal, trade.AnomalyLabel)
	}
}

func TestReplaceLabelsUnknownTrade(t *testing.T) {
	store := newTestStore(t)
	ledger := market.NewGenerator(1).GenerateLedger(5)
	require.NoError(t, store.SaveLedger("LDG_test", ledger))

	bogus := types.Ledger{{TradeID: "TRX-00000", AnomalyLabel: types.LabelNormal}}
	err := store.ReplaceLabels("LDG_test", bogus)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReportRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveLedger("LDG_test", market.NewGenerator(1).GenerateLedger(5)))

	report := &types.SettlementReport{
		Positions: []types.NetPosition{
			{Entity: "Citi", ToPay: 100, ToReceive: 40, NetPosition: -60, Status: types.StatusPayToCentral},
			{Entity: "JPMorgan", ToPay: 40, ToReceive: 100, NetPosition: 60, Status: types.StatusReceiveFromCentral},
		},
		GrossVolume: 140,
		NetVolume:   60,
		SavingsPct:  57.14,
	}
	require.NoError(t, store.SaveReport("LDG_test", report))

	loaded, err := store.GetReport("LDG_test")
	require.NoError(t, err)
	assert.Equal(t, report, loaded)
}

func TestIdempotencyRecordMissingKey(t *testing.T) {
	store := newTestStore(t)

	record, err := store.GetIdempotencyRecord("no-such-key")
	require.NoError(t, err)
	assert.Empty(t, record.ResourceID)
}

func TestSaveLedgerWithIdempotency(t *testing.T) {
	store := newTestStore(t)
	ledger := market.NewGenerator(1).GenerateLedger(5)

	require.NoError(t, store.SaveLedgerWithIdempotency("LDG_test", ledger, "key-1"))

	record, err := store.GetIdempotencyRecord("key-1")
	require.NoError(t, err)
	assert.Equal(t, "LDG_test", record.ResourceID)
	assert.Equal(t, "ledger", record.ResourceType)
	assert.True(t, record.ExpiresAt.After(time.Now()))
}

func TestPurgeStale(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveLedger("LDG_old", market.NewGenerator(1).GenerateLedger(5)))

	// Zero retention treats everything already stored as stale
	purged, err := store.PurgeStale(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = store.GetLedgerRecord("LDG_old")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
