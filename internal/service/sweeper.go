package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/metrics"
	"github.com/mailchymp/mailchymp/internal/model"
)

// InterruptedReason is stored on queued rows of a pass that never finished
const InterruptedReason = "dispatch interrupted"

// StaleCampaignStore is the campaign persistence the sweeper needs
type StaleCampaignStore interface {
	ListStaleSending(ctx context.Context, before time.Time) ([]*model.Campaign, error)
	Finish(ctx context.Context, id string, status model.CampaignStatus, at time.Time) error
}

// StaleLogStore is the send log persistence the sweeper needs
type StaleLogStore interface {
	FailQueued(ctx context.Context, campaignID, detail string) (int64, error)
	StatsByCampaign(ctx context.Context, campaignID string) (*model.CampaignStats, error)
}

// Sweeper finalizes campaigns left in sending by a pass that died
// mid-flight, such as a process restart
type Sweeper struct {
	campaigns  StaleCampaignStore
	logs       StaleLogStore
	staleAfter time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// NewSweeper creates a new Sweeper
func NewSweeper(campaigns StaleCampaignStore, logs StaleLogStore, cfg *config.Config, log *logger.Logger) *Sweeper {
	return &Sweeper{
		campaigns:  campaigns,
		logs:       logs,
		staleAfter: cfg.Scheduler.StaleAfter,
		now:        time.Now,
		log:        log.WithComponent("sweeper"),
	}
}

// Sweep finalizes every stale sending campaign and returns how many it
// finalized
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.campaigns.ListStaleSending(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale campaigns: %w", err)
	}

	swept := 0
	for _, c := range stale {
		log := s.log.WithCampaignID(c.ID)

		failed, err := s.logs.FailQueued(ctx, c.ID, InterruptedReason)
		if err != nil {
			log.Error().Err(err).Msg("failed to fail queued rows")
			continue
		}

		stats, err := s.logs.StatsByCampaign(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load campaign stats")
			continue
		}

		status := model.FinalStatus(stats.Sent)
		if err := s.campaigns.Finish(ctx, c.ID, status, s.now()); err != nil {
			// A pass that woke up and finished on its own is fine.
			log.Warn().Err(err).Msg("failed to finalize stale campaign")
			continue
		}

		metrics.IncSwept()
		swept++
		log.Warn().
			Str("status", string(status)).
			Int64("interrupted", failed).
			Int("sent", stats.Sent).
			Msg("finalized interrupted campaign")
	}
	return swept, nil
}
