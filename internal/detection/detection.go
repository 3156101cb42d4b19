package detection

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ksred/finnet-api/internal/session"
	"github.com/ksred/finnet-api/internal/types"
	"github.com/ksred/finnet-api/pkg/response"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidConfiguration means the sensitivity is outside (0, 0.5).
	ErrInvalidConfiguration = errors.New("sensitivity must be in (0, 0.5)")
	// ErrEmptyLedger means there are no trades to score.
	ErrEmptyLedger = errors.New("ledger has no trades to score")
)

// Service runs anomaly scans over trade ledgers.
type Service struct {
	store  *session.Store
	scorer Scorer
}

// NewService creates a detection service backed by the given session store
// and outlier model.
func NewService(store *session.Store, scorer Scorer) *Service {
	return &Service{
		store:  store,
		scorer: scorer,
	}
}

// Detect labels every trade in the ledger as NORMAL or ANOMALOUS using two
// features per trade, quantity and total value. Sensitivity is the expected
// anomalous fraction of the population. The input ledger is not mutated; a
// labelled copy is returned.
//
// A ledger with fewer than two trades has no outlier structure, so every
// trade is labelled NORMAL without fitting the model.
func (s *Service) Detect(ledger types.Ledger, sensitivity float64) (types.Ledger, error) {
	logger := log.With().
		Str("service", "detection").
		Int("trades", len(ledger)).
		Float64("sensitivity", sensitivity).
		Logger()

	if sensitivity <= 0 || sensitivity >= 0.5 {
		logger.Error().Msg("rejected out-of-range sensitivity")
		return nil, ErrInvalidConfiguration
	}
	if len(ledger) == 0 {
		logger.Error().Msg("rejected empty ledger")
		return nil, ErrEmptyLedger
	}

	labelled := make(types.Ledger, len(ledger))
	copy(labelled, ledger)

	if len(labelled) < 2 {
		for i := range labelled {
			labelled[i].AnomalyLabel = types.LabelNormal
		}
		logger.Info().Msg("ledger too small for outlier scoring, labelled all trades normal")
		return labelled, nil
	}

	features := make([][]float64, len(labelled))
	for i, trade := range labelled {
		features[i] = []float64{float64(trade.Quantity), trade.TotalValue}
	}

	flags, err := s.scorer.FitScore(features, sensitivity)
	if err != nil {
		logger.Error().Err(err).Msg("outlier model failed")
		return nil, fmt.Errorf("outlier model failed: %w", err)
	}

	anomalies := 0
	for i := range labelled {
		if flags[i] {
			labelled[i].AnomalyLabel = types.LabelAnomalous
			anomalies++
		} else {
			labelled[i].AnomalyLabel = types.LabelNormal
		}
	}

	logger.Info().
		Int("anomalies", anomalies).
		Msg("anomaly scan completed")

	return labelled, nil
}

// ScanLedger runs Detect over a stored ledger and persists the resulting
// labels so a later netting call sees the scanned ledger.
func (s *Service) ScanLedger(ledgerID string, sensitivity float64) (types.Ledger, int, error) {
	logger := log.With().
		Str("ledger_id", ledgerID).
		Str("service", "detection").
		Logger()

	ledger, err := s.store.GetLedger(ledgerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch ledger")
		return nil, 0, err
	}

	labelled, err := s.Detect(ledger, sensitivity)
	if err != nil {
		return nil, 0, err
	}

	if err := s.store.ReplaceLabels(ledgerID, labelled); err != nil {
		logger.Error().Err(err).Msg("failed to persist anomaly labels")
		return nil, 0, fmt.Errorf("failed to persist anomaly labels: %w", err)
	}

	anomalies := 0
	for i := range labelled {
		if labelled[i].AnomalyLabel == types.LabelAnomalous {
			anomalies++
		}
	}

	logger.Info().
		Int("trades", len(labelled)).
		Int("anomalies", anomalies).
		Float64("sensitivity", sensitivity).
		Msg("stored ledger scan completed")

	return labelled, anomalies, nil
}

// ScanResponse is the payload returned by the scan endpoint.
type ScanResponse struct {
	LedgerID     string       `json:"ledger_id"`
	TradeCount   int          `json:"trade_count"`
	AnomalyCount int          `json:"anomaly_count"`
	Sensitivity  float64      `json:"sensitivity"`
	Ledger       types.Ledger `json:"ledger"`
}

// GinHandlers contains HTTP handlers for anomaly scan endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for anomaly scan endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ScanLedgerHandler handles POST requests to scan a stored ledger
// Requires internal authentication
// URL parameter: ledger_id
func (h *GinHandlers) ScanLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ledgerID := c.Param("ledger_id")

		var request struct {
			Sensitivity float64 `json:"sensitivity" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		labelled, anomalies, err := h.service.ScanLedger(ledgerID, request.Sensitivity)
		switch {
		case errors.Is(err, ErrInvalidConfiguration):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrEmptyLedger):
			response.UnprocessableEntity(c, err.Error())
		default:
			if err != nil {
				response.Handle(c, nil, err)
				return
			}
			response.Success(c, ScanResponse{
				LedgerID:     ledgerID,
				TradeCount:   len(labelled),
				AnomalyCount: anomalies,
				Sensitivity:  request.Sensitivity,
				Ledger:       labelled,
			})
		}
	}
}
