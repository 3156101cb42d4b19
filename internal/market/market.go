package market

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/finnet-api/internal/session"
	"github.com/ksred/finnet-api/internal/types"
	"github.com/ksred/finnet-api/pkg/response"
	"github.com/rs/zerolog/log"
)

const (
	defaultLedgerSize = 500
	maxLedgerSize     = 10000
)

// Service generates synthetic ledgers into the session store.
type Service struct {
	store    *session.Store
	seed     int64
	sequence int64
}

// NewService creates a market data service backed by the given session store.
// The seed anchors generation so a rerun of the same simulation reproduces
// the same ledgers.
func NewService(store *session.Store, seed int64) *Service {
	return &Service{
		store: store,
		seed:  seed,
	}
}

// CreateLedger generates a ledger of n trades and stores it under a fresh
// ledger ID with idempotency support: a retried request with the same key
// returns the originally created ledger.
func (s *Service) CreateLedger(n int, injectAnomalies bool, idempotencyKey string) (*session.LedgerRecord, error) {
	logger := log.With().
		Str("service", "market").
		Int("trades", n).
		Logger()

	record, err := s.store.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.store.GetLedgerRecord(record.ResourceID)
		if err != nil {
			return nil, err
		}
		logger.Info().
			Str("ledger_id", existing.LedgerID).
			Msg("returning ledger for replayed idempotency key")
		return existing, nil
	}

	opts := []Option{}
	if injectAnomalies {
		opts = append(opts, WithFatFingers())
	}

	// Successive ledgers advance the seed so they differ from each other
	// while the whole sequence stays reproducible for a fixed service seed.
	sequence := atomic.AddInt64(&s.sequence, 1)
	ledgerID := "LDG_" + uuid.New().String()
	generator := NewGenerator(s.seed+sequence, opts...)
	ledger := generator.GenerateLedger(n)

	if err := s.store.SaveLedgerWithIdempotency(ledgerID, ledger, idempotencyKey); err != nil {
		logger.Error().Err(err).Msg("failed to store generated ledger")
		return nil, err
	}

	logger.Info().
		Str("ledger_id", ledgerID).
		Bool("anomalies_injected", injectAnomalies).
		Msg("generated synthetic ledger")

	return s.store.GetLedgerRecord(ledgerID)
}

// GetLedger retrieves a stored ledger with its summary record.
func (s *Service) GetLedger(ledgerID string) (*session.LedgerRecord, types.Ledger, error) {
	record, err := s.store.GetLedgerRecord(ledgerID)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := s.store.GetLedger(ledgerID)
	if err != nil {
		return nil, nil, err
	}
	return record, ledger, nil
}

// LedgerResponse is the payload returned by the ledger endpoints.
type LedgerResponse struct {
	LedgerID   string       `json:"ledger_id"`
	TradeCount int          `json:"trade_count"`
	Scanned    bool         `json:"scanned"`
	Ledger     types.Ledger `json:"ledger,omitempty"`
}

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for ledger endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateLedgerHandler handles POST requests to generate a synthetic ledger
// Requires a valid JWT token and idempotency key in headers
func (h *GinHandlers) CreateLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var request struct {
			Trades          int  `json:"trades"`
			InjectAnomalies bool `json:"inject_anomalies"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if request.Trades == 0 {
			request.Trades = defaultLedgerSize
		}
		if request.Trades < 0 || request.Trades > maxLedgerSize {
			response.BadRequest(c, "trades must be between 1 and 10000")
			return
		}

		record, err := h.service.CreateLedger(request.Trades, request.InjectAnomalies, idempotencyKey)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, LedgerResponse{
			LedgerID:   record.LedgerID,
			TradeCount: record.TradeCount,
			Scanned:    record.Scanned,
		})
	}
}

// GetLedgerHandler handles GET requests to retrieve a stored ledger
// URL parameter: ledger_id
func (h *GinHandlers) GetLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ledgerID := c.Param("ledger_id")
		if ledgerID == "" {
			response.BadRequest(c, "Ledger ID is required")
			return
		}

		record, ledger, err := h.service.GetLedger(ledgerID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, LedgerResponse{
			LedgerID:   record.LedgerID,
			TradeCount: record.TradeCount,
			Scanned:    record.Scanned,
			Ledger:     ledger,
		})
	}
}
