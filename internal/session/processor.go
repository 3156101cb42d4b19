package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor periodically evicts stale ledgers from the session cache. The
// pipeline itself is stateless; this only bounds how long abandoned session
// data sticks around.
type Processor struct {
	store     *Store
	interval  time.Duration
	retention time.Duration
}

func NewProcessor(store *Store) *Processor {
	return &Processor{
		store:     store,
		interval:  5 * time.Minute,
		retention: 24 * time.Hour,
	}
}

// Start begins the eviction loop and blocks until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "session_processor").Logger()
	logger.Info().
		Dur("interval", p.interval).
		Dur("retention", p.retention).
		Msg("starting session cache processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down session cache processor")
			return
		case <-ticker.C:
			purged, err := p.store.PurgeStale(p.retention)
			if err != nil {
				logger.Error().Err(err).Msg("failed to purge stale ledgers")
				continue
			}
			if purged > 0 {
				logger.Info().Int64("ledgers_purged", purged).Msg("evicted stale session ledgers")
			}
		}
	}
}
