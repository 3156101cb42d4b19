package netting

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/ksred/finnet-api/internal/session"
	"github.com/ksred/finnet-api/internal/types"
	"github.com/ksred/finnet-api/pkg/response"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMissingAnomalyLabels means netting was invoked before the anomaly
	// scan, a sequencing contract violation.
	ErrMissingAnomalyLabels = errors.New("ledger carries unscanned trades, run the anomaly scan first")
	// ErrNoSettlableTrades means every trade was flagged anomalous, leaving
	// nothing to net.
	ErrNoSettlableTrades = errors.New("no normal trades to settle")
	// ErrDegenerateVolume means gross volume is zero, making the liquidity
	// savings undefined.
	ErrDegenerateVolume = errors.New("gross volume is zero, savings undefined")
)

// Service runs multilateral netting over scanned ledgers.
type Service struct {
	store *session.Store
}

// NewService creates a netting service backed by the given session store.
func NewService(store *session.Store) *Service {
	return &Service{store: store}
}

// Net converts a scanned ledger into per-entity net obligations against the
// central counterparty. Only trades labelled NORMAL settle; the anomalous
// remainder is excluded from every aggregate.
//
// For each entity, to_pay sums the total value of trades where it bought and
// to_receive where it sold. The net position is receive minus pay; entities
// netting below zero pay the central counterparty, everything else, zero
// included, receives. Positions are returned sorted by entity so repeated
// runs produce identical reports.
func (s *Service) Net(ledger types.Ledger) (*types.SettlementReport, error) {
	logger := log.With().
		Str("service", "netting").
		Int("trades", len(ledger)).
		Logger()

	if !ledger.Labelled() {
		logger.Error().Msg("rejected unscanned ledger")
		return nil, ErrMissingAnomalyLabels
	}

	positions := make(map[string]*types.NetPosition)
	obligation := func(entity string) *types.NetPosition {
		if pos, ok := positions[entity]; ok {
			return pos
		}
		pos := &types.NetPosition{Entity: entity}
		positions[entity] = pos
		return pos
	}

	grossVolume := 0.0
	settled := 0
	for i := range ledger {
		trade := &ledger[i]
		if trade.AnomalyLabel != types.LabelNormal {
			continue
		}
		settled++
		grossVolume += trade.TotalValue
		obligation(trade.Buyer).ToPay += trade.TotalValue
		obligation(trade.Seller).ToReceive += trade.TotalValue
	}

	if settled == 0 {
		logger.Error().Msg("all trades flagged anomalous, nothing to net")
		return nil, ErrNoSettlableTrades
	}
	if grossVolume == 0 {
		logger.Error().Msg("gross volume is zero")
		return nil, ErrDegenerateVolume
	}

	report := &types.SettlementReport{
		Positions:   make([]types.NetPosition, 0, len(positions)),
		GrossVolume: grossVolume,
	}

	for _, pos := range positions {
		pos.NetPosition = pos.ToReceive - pos.ToPay
		if pos.NetPosition < 0 {
			pos.Status = types.StatusPayToCentral
		} else {
			pos.Status = types.StatusReceiveFromCentral
		}
		report.Positions = append(report.Positions, *pos)
	}
	sort.Slice(report.Positions, func(i, j int) bool {
		return report.Positions[i].Entity < report.Positions[j].Entity
	})

	// Summed in sorted entity order: float addition is not associative, so
	// accumulating over the map would let iteration order leak into the
	// low bits of the volume figures.
	sumAbsNet := 0.0
	for i := range report.Positions {
		sumAbsNet += math.Abs(report.Positions[i].NetPosition)
	}

	// Every netted unit cancels on a payer's and a receiver's side, so the
	// money that actually moves is half the summed absolute positions.
	report.NetVolume = sumAbsNet / 2
	report.SavingsPct = (grossVolume - report.NetVolume) / grossVolume * 100

	logger.Info().
		Int("settled_trades", settled).
		Int("entities", len(report.Positions)).
		Float64("gross_volume", report.GrossVolume).
		Float64("net_volume", report.NetVolume).
		Float64("savings_pct", report.SavingsPct).
		Msg("netting completed")

	return report, nil
}

// NetLedger runs Net over a stored ledger and persists the resulting report.
func (s *Service) NetLedger(ledgerID string) (*types.SettlementReport, error) {
	logger := log.With().
		Str("ledger_id", ledgerID).
		Str("service", "netting").
		Logger()

	ledger, err := s.store.GetLedger(ledgerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch ledger")
		return nil, err
	}

	report, err := s.Net(ledger)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveReport(ledgerID, report); err != nil {
		logger.Error().Err(err).Msg("failed to persist settlement report")
		return nil, fmt.Errorf("failed to persist settlement report: %w", err)
	}

	logger.Info().
		Float64("gross_volume", report.GrossVolume).
		Float64("savings_pct", report.SavingsPct).
		Msg("stored ledger netting completed")

	return report, nil
}

// GetReport retrieves the stored settlement report for a ledger.
func (s *Service) GetReport(ledgerID string) (*types.SettlementReport, error) {
	return s.store.GetReport(ledgerID)
}

// NettingResponse is the payload returned by the netting endpoint.
type NettingResponse struct {
	LedgerID string                  `json:"ledger_id"`
	Report   *types.SettlementReport `json:"report"`
}

// GinHandlers contains HTTP handlers for netting endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for netting endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// NetLedgerHandler handles POST requests to net a scanned ledger
// Requires internal authentication
// URL parameter: ledger_id
func (h *GinHandlers) NetLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ledgerID := c.Param("ledger_id")

		report, err := h.service.NetLedger(ledgerID)
		switch {
		case errors.Is(err, ErrMissingAnomalyLabels),
			errors.Is(err, ErrNoSettlableTrades),
			errors.Is(err, ErrDegenerateVolume):
			response.UnprocessableEntity(c, err.Error())
		default:
			response.Handle(c, NettingResponse{LedgerID: ledgerID, Report: report}, err)
		}
	}
}

// GetReportHandler handles GET requests for a ledger's settlement report
// URL parameter: ledger_id
func (h *GinHandlers) GetReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ledgerID := c.Param("ledger_id")

		report, err := h.service.GetReport(ledgerID)
		response.Handle(c, report, err)
	}
}
