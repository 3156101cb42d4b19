package market

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ksred/finnet-api/internal/types"
)

var (
	counterparties = []string{"JPMorgan", "Goldman Sachs", "Morgan Stanley", "Citi", "BlackRock"}
	symbols        = []string{"AAPL", "GOOGL", "TSLA", "MSFT", "AMZN"}
)

const (
	minQuantity = 10
	maxQuantity = 1000
	minPrice    = 100.0
	maxPrice    = 1500.0

	// Injected fat-finger trades inflate total value by this factor.
	fatFingerMultiplier = 50
	fatFingerCount      = 3
)

// Generator produces synthetic trade ledgers conforming to the ledger schema:
// unique trade IDs, positive quantity and price, derived total value, and
// non-decreasing millisecond timestamps. A fixed seed reproduces the same
// ledger.
type Generator struct {
	rng        *rand.Rand
	fatFingers bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithFatFingers injects oversized trades at the head of each generated
// ledger to give the anomaly scan something to find.
func WithFatFingers() Option {
	return func(g *Generator) {
		g.fatFingers = true
	}
}

// NewGenerator creates a seeded ledger generator.
func NewGenerator(seed int64, opts ...Option) *Generator {
	g := &Generator{
		rng: rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateLedger emits n synthetic trades between the major counterparties.
// A counterparty may appear on both sides of the same trade; downstream
// netting treats that as a self-cancelling obligation.
func (g *Generator) GenerateLedger(n int) types.Ledger {
	ledger := make(types.Ledger, n)
	seen := make(map[string]struct{}, n)
	base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		quantity := int64(g.rng.Intn(maxQuantity-minQuantity) + minQuantity)
		price := roundCents(minPrice + g.rng.Float64()*(maxPrice-minPrice))

		ledger[i] = types.Trade{
			TradeID:    g.nextTradeID(seen),
			Buyer:      counterparties[g.rng.Intn(len(counterparties))],
			Seller:     counterparties[g.rng.Intn(len(counterparties))],
			Symbol:     symbols[g.rng.Intn(len(symbols))],
			Quantity:   quantity,
			Price:      price,
			TotalValue: float64(quantity) * price,
			Timestamp:  base.Add(time.Duration(i) * time.Millisecond),
		}
	}

	if g.fatFingers {
		// Inflate total value only, leaving quantity and price untouched.
		// The broken derivation is the point: these rows should stand out
		// on the quantity/value profile.
		for i := 0; i < fatFingerCount && i < n; i++ {
			ledger[i].TotalValue *= fatFingerMultiplier
		}
	}

	return ledger
}

func (g *Generator) nextTradeID(seen map[string]struct{}) string {
	for {
		id := fmt.Sprintf("TRX-%05d", g.rng.Intn(90000)+10000)
		if _, exists := seen[id]; !exists {
			seen[id] = struct{}{}
			return id
		}
	}
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
