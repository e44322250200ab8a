package service

import (
	"context"
	"time"

	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/metrics"
	"github.com/mailchymp/mailchymp/internal/tracking"
)

// EngagementStore records opens and clicks by tracking token
type EngagementStore interface {
	RecordOpen(ctx context.Context, token string, at time.Time) (bool, error)
	RecordClick(ctx context.Context, token string, at time.Time) (bool, error)
}

// TrackingService records recipient engagement. Recording is best effort:
// store errors are logged and never reach the recipient.
type TrackingService struct {
	store EngagementStore
	now   func() time.Time
	log   *logger.Logger
}

// NewTrackingService creates a new TrackingService
func NewTrackingService(store EngagementStore, log *logger.Logger) *TrackingService {
	return &TrackingService{
		store: store,
		now:   time.Now,
		log:   log.WithComponent("tracking_service"),
	}
}

// RecordOpen counts an open for token. Unknown and malformed tokens are
// ignored.
func (s *TrackingService) RecordOpen(ctx context.Context, token string) {
	if !tracking.IsToken(token) {
		metrics.IncTrackingEvent("open", false)
		return
	}

	known, err := s.store.RecordOpen(ctx, token, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to record open")
		return
	}
	metrics.IncTrackingEvent("open", known)
}

// RecordClick validates the redirect target and counts a click for token.
// The returned URL is where the recipient should be sent; an error means
// the target is unusable and no redirect may happen.
func (s *TrackingService) RecordClick(ctx context.Context, token, rawURL string) (string, error) {
	target, err := tracking.ValidateRedirectURL(rawURL)
	if err != nil {
		return "", err
	}

	if !tracking.IsToken(token) {
		metrics.IncTrackingEvent("click", false)
		return target, nil
	}

	known, err := s.store.RecordClick(ctx, token, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to record click")
		return target, nil
	}
	metrics.IncTrackingEvent("click", known)
	return target, nil
}
