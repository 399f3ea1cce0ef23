package proposals

import (
	"context"
	"time"

	"github.com/enerdesk/calls-api/internal/clock"
	"github.com/rs/zerolog/log"
)

// ExpiryProcessor periodically sweeps pending proposals whose validity
// deadline has lapsed and marks them EXPIRED. Only proposals on open calls
// are touched; resolved calls keep their terminal view.
type ExpiryProcessor struct {
	db            *Database
	clock         clock.Clock
	sweepInterval time.Duration
}

func NewExpiryProcessor(db *Database, clk clock.Clock, sweepInterval time.Duration) *ExpiryProcessor {
	return &ExpiryProcessor{
		db:            db,
		clock:         clk,
		sweepInterval: sweepInterval,
	}
}

// Start begins the expiry sweep loop
func (p *ExpiryProcessor) Start(ctx context.Context) {
	logger := log.With().Str("component", "expiry_processor").Logger()
	logger.Info().Dur("interval", p.sweepInterval).Msg("starting proposal expiry processor")

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down proposal expiry processor")
			return
		case <-ticker.C:
			if err := p.Sweep(); err != nil {
				logger.Error().Err(err).Msg("failed to sweep lapsed proposals")
			}
		}
	}
}

// Sweep expires every lapsed pending proposal once. Exposed for tests and for
// a final pass during shutdown.
func (p *ExpiryProcessor) Sweep() error {
	logger := log.With().Str("component", "expiry_processor").Logger()

	now := p.clock.Now()
	lapsed, err := p.db.GetLapsedPending(now)
	if err != nil {
		return err
	}

	if len(lapsed) == 0 {
		return nil
	}

	logger.Info().Int("lapsed_count", len(lapsed)).Msg("expiring lapsed proposals")

	for _, proposal := range lapsed {
		if err := p.db.MarkExpired(proposal.ProposalID, now); err != nil {
			logger.Error().
				Err(err).
				Str("proposal_id", proposal.ProposalID).
				Msg("failed to expire proposal")
			continue
		}

		logger.Debug().
			Str("proposal_id", proposal.ProposalID).
			Str("call_id", proposal.CallID).
			Time("valid_until", *proposal.ValidUntil).
			Msg("proposal expired")
	}

	return nil
}
