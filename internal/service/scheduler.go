package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/metrics"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/robfig/cron/v3"
)

// ErrTickBusy is returned when a tick starts while the previous one runs
var ErrTickBusy = errors.New("previous scheduler tick still running")

// DueCampaignStore is the campaign persistence the scheduler needs
type DueCampaignStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
	Claim(ctx context.Context, id, userID string, from []model.CampaignStatus, at time.Time) (bool, error)
	Finish(ctx context.Context, id string, status model.CampaignStatus, at time.Time) error
}

// Scheduler periodically dispatches campaigns whose scheduled time has
// passed. Any number of instances may run against the same database; the
// conditional claim guarantees each due campaign is sent once.
type Scheduler struct {
	campaigns  DueCampaignStore
	dispatcher *Dispatcher
	sweeper    *Sweeper
	cfg        config.SchedulerConfig
	cron       *cron.Cron
	busy       atomic.Bool
	now        func() time.Time
	log        *logger.Logger
}

// NewScheduler creates a new Scheduler. sweeper may be nil.
func NewScheduler(
	campaigns DueCampaignStore,
	dispatcher *Dispatcher,
	sweeper *Sweeper,
	cfg *config.Config,
	log *logger.Logger,
) *Scheduler {
	l := log.WithComponent("scheduler")
	return &Scheduler{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		cfg:        cfg.Scheduler,
		cron:       cron.New(cron.WithLogger(cronLogger{l})),
		now:        time.Now,
		log:        l,
	}
}

// Start registers the tick and sweep jobs and starts the cron runner.
// Work started by a job uses ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTickBusy) {
			s.log.Error().Err(err).Msg("scheduler tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register scheduler tick: %w", err)
	}

	if s.sweeper != nil && s.cfg.SweepInterval > 0 {
		_, err = s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval), func() {
			if _, err := s.sweeper.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("stale sweep failed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to register stale sweep: %w", err)
		}

		// Passes cut short by the previous process stop are reconciled
		// before the first tick.
		if _, err := s.sweeper.Sweep(ctx); err != nil {
			s.log.Error().Err(err).Msg("startup sweep failed")
		}
	}

	s.cron.Start()
	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("scheduler started")
	return nil
}

// Stop stops the cron runner. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("stopping scheduler")
	return s.cron.Stop()
}

// Tick runs one scheduling pass and returns how many campaigns this
// instance dispatched. Overlapping ticks are skipped.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !s.busy.CompareAndSwap(false, true) {
		metrics.IncSchedulerTick("skipped")
		s.log.Debug().Msg("previous tick still running, skipping")
		return 0, ErrTickBusy
	}
	defer s.busy.Store(false)

	due, err := s.campaigns.ListDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		metrics.IncSchedulerTick("error")
		return 0, fmt.Errorf("failed to list due campaigns: %w", err)
	}

	dispatched := 0
	for _, c := range due {
		claimed, err := s.campaigns.Claim(ctx, c.ID, c.UserID, model.ScheduledSendFrom(), s.now())
		if err != nil {
			s.log.Error().Err(err).Str("campaign_id", c.ID).Msg("failed to claim campaign")
			continue
		}
		metrics.IncSchedulerClaim(claimed)
		if !claimed {
			// Another instance, a manual send or a cancel got there first.
			continue
		}

		s.dispatchClaimed(ctx, c)
		dispatched++
	}

	metrics.IncSchedulerTick("ok")
	return dispatched, nil
}

// dispatchClaimed runs a claimed campaign to completion. Nothing that goes
// wrong here may leave the campaign in sending.
func (s *Scheduler) dispatchClaimed(ctx context.Context, c *model.Campaign) {
	log := s.log.WithCampaignID(c.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scheduled dispatch panicked")
			s.forceFail(ctx, c.ID)
		}
	}()

	if c.ListID == nil || *c.ListID == "" {
		log.Error().Msg("scheduled campaign has no list")
		s.forceFail(ctx, c.ID)
		return
	}

	pass, err := s.dispatcher.Prepare(ctx, c.ID, *c.ListID, c.UserID)
	if err != nil {
		log.Error().Err(err).Msg("scheduled dispatch precondition failed")
		s.forceFail(ctx, c.ID)
		return
	}

	// Run finalizes the campaign itself, including on panic.
	if _, err := s.dispatcher.Run(ctx, pass, TriggerScheduled); err != nil {
		log.Error().Err(err).Msg("scheduled dispatch failed")
	}
}

func (s *Scheduler) forceFail(ctx context.Context, id string) {
	if err := s.campaigns.Finish(ctx, id, model.CampaignStatusFailed, s.now()); err != nil {
		s.log.Error().Err(err).Str("campaign_id", id).Msg("failed to mark campaign failed")
	}
}

// cronLogger routes cron's own logging through zerolog
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
