package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mailchymp/mailchymp/internal/auth"
	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/mailer"
	"github.com/mailchymp/mailchymp/internal/metrics"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/repository"
	"github.com/mailchymp/mailchymp/internal/tracking"
)

// Dispatch errors
var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrListNotFound      = errors.New("list not found")
	ErrListEmpty         = errors.New("list has no recipients")
	ErrGmailNotConnected = errors.New("gmail is not connected")
	ErrCampaignBusy      = errors.New("campaign is already being sent")
)

// InvalidAddressReason is stored on send logs for malformed recipient addresses
const InvalidAddressReason = "Invalid email address"

// Dispatch triggers, used for logs and metrics
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

const tokenAttempts = 3

// CampaignStore is the campaign persistence the dispatcher needs
type CampaignStore interface {
	GetByID(ctx context.Context, id, userID string) (*model.Campaign, error)
	Claim(ctx context.Context, id, userID string, from []model.CampaignStatus, at time.Time) (bool, error)
	Finish(ctx context.Context, id string, status model.CampaignStatus, at time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// SendLogStore is the per recipient log persistence the dispatcher needs
type SendLogStore interface {
	Reset(ctx context.Context, entry *model.SendLog) error
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, detail string) error
}

// RecipientResolver expands a list into its recipients
type RecipientResolver interface {
	ResolveRecipients(ctx context.Context, listID, ownerID string) ([]model.Recipient, error)
}

// IdentityProvider returns the owner's connected sender mailbox, or nil
// when none is connected
type IdentityProvider interface {
	SenderIdentity(ctx context.Context, ownerID string) (*mailer.Identity, error)
}

// DispatchResult holds the counts of one pass
type DispatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Pass is the snapshot a dispatch pass works from. It is read once before
// the first recipient and never refreshed.
type Pass struct {
	Campaign   *model.Campaign
	Recipients []model.Recipient
	Identity   mailer.Identity
}

// Dispatcher fans a campaign out to a list, one recipient at a time
type Dispatcher struct {
	campaigns  CampaignStore
	logs       SendLogStore
	recipients RecipientResolver
	identities IdentityProvider
	transport  mailer.Transport

	baseURL        string
	errorDetailMax int
	heartbeatEvery int

	now      func() time.Time
	newToken func() (string, error)
	log      *logger.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(
	campaigns CampaignStore,
	logs SendLogStore,
	recipients RecipientResolver,
	identities IdentityProvider,
	transport mailer.Transport,
	cfg *config.Config,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		campaigns:      campaigns,
		logs:           logs,
		recipients:     recipients,
		identities:     identities,
		transport:      transport,
		baseURL:        tracking.NormalizeBaseURL(cfg.Tracking.BaseURL),
		errorDetailMax: cfg.Dispatch.ErrorDetailMax,
		heartbeatEvery: cfg.Dispatch.HeartbeatEvery,
		now:            time.Now,
		newToken:       tracking.NewToken,
		log:            log.WithComponent("dispatcher"),
	}
}

// Dispatch runs an explicit send. Preconditions are checked before the
// claim, so a failing precondition leaves the campaign status untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID, listID, ownerID string) (*DispatchResult, error) {
	pass, err := d.Prepare(ctx, campaignID, listID, ownerID)
	if err != nil {
		return nil, err
	}

	claimed, err := d.campaigns.Claim(ctx, campaignID, ownerID, model.ManualSendFrom(), d.now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign: %w", err)
	}
	if !claimed {
		return nil, ErrCampaignBusy
	}

	return d.Run(ctx, pass, TriggerManual)
}

// Prepare checks every precondition and snapshots what the pass needs
func (d *Dispatcher) Prepare(ctx context.Context, campaignID, listID, ownerID string) (*Pass, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	recipients, err := d.recipients.ResolveRecipients(ctx, listID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrListNotFound
		}
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, ErrListEmpty
	}

	identity, err := d.identities.SenderIdentity(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender identity: %w", err)
	}
	if !identity.Connected() {
		return nil, ErrGmailNotConnected
	}

	return &Pass{Campaign: campaign, Recipients: recipients, Identity: *identity}, nil
}

// Run sends to every recipient of a claimed campaign and records the final
// status. Per recipient failures never abort the pass. A panic finalizes
// the campaign as failed and is returned as an error.
func (d *Dispatcher) Run(ctx context.Context, pass *Pass, trigger string) (res *DispatchResult, err error) {
	campaign := pass.Campaign
	log := d.log.WithCampaignID(campaign.ID).WithUserID(campaign.UserID)
	start := d.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
			log.Error().Interface("panic", r).Msg("dispatch pass panicked")
			if ferr := d.campaigns.Finish(ctx, campaign.ID, model.CampaignStatusFailed, d.now()); ferr != nil {
				log.Error().Err(ferr).Msg("failed to mark panicked campaign failed")
			}
		}
	}()

	log.Info().
		Str("trigger", trigger).
		Int("recipients", len(pass.Recipients)).
		Msg("dispatch pass started")

	res = &DispatchResult{Total: len(pass.Recipients)}
	for i, rc := range pass.Recipients {
		if d.heartbeatEvery > 0 && i > 0 && i%d.heartbeatEvery == 0 {
			if err := d.campaigns.Touch(ctx, campaign.ID, d.now()); err != nil {
				log.Warn().Err(err).Msg("failed to record dispatch heartbeat")
			}
		}

		if d.deliver(ctx, pass, rc) {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	status := model.FinalStatus(res.Sent)
	if err := d.campaigns.Finish(ctx, campaign.ID, status, d.now()); err != nil {
		return res, fmt.Errorf("failed to finalize campaign: %w", err)
	}

	metrics.ObserveDispatchPass(trigger, string(status), d.now().Sub(start).Seconds())
	log.Info().
		Str("trigger", trigger).
		Str("status", string(status)).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("total", res.Total).
		Msg("dispatch pass finished")

	return res, nil
}

// deliver runs the queued -> sent/failed saga for one recipient and
// reports whether the transport accepted the message
func (d *Dispatcher) deliver(ctx context.Context, pass *Pass, rc model.Recipient) bool {
	campaign := pass.Campaign
	address := strings.TrimSpace(rc.Email)
	log := d.log.With().
		Str("campaign_id", campaign.ID).
		Str("subscriber_id", rc.SubscriberID).
		Logger()

	entry := &model.SendLog{
		CampaignID:   campaign.ID,
		SubscriberID: rc.SubscriberID,
		Email:        address,
		Status:       model.SendStatusQueued,
		CreatedAt:    d.now(),
	}

	if !auth.IsValidEmail(address) {
		reason := InvalidAddressReason
		entry.Status = model.SendStatusFailed
		entry.ErrorDetail = &reason
		if err := d.reset(ctx, entry); err != nil {
			log.Error().Err(err).Msg("failed to record invalid recipient")
		}
		metrics.IncDispatchRecipient("invalid")
		return false
	}

	// Without a durable queued row the send must not happen: an untracked
	// message could never be reconciled.
	if err := d.reset(ctx, entry); err != nil {
		log.Error().Err(err).Msg("failed to reset send log")
		metrics.IncDispatchRecipient("failed")
		return false
	}

	msg := mailer.Message{
		To:       address,
		FromName: campaign.FromName,
		Subject:  campaign.Subject,
		HTMLBody: tracking.Instrument(campaign.HTML, entry.TrackingToken, d.baseURL),
	}
	if campaign.ReplyTo != nil {
		msg.ReplyTo = *campaign.ReplyTo
	}

	messageID, err := d.transport.Send(ctx, pass.Identity, msg)
	if err != nil {
		detail := truncateRunes(err.Error(), d.errorDetailMax)
		if merr := d.logs.MarkFailed(ctx, entry.ID, detail); merr != nil {
			log.Error().Err(merr).Msg("failed to mark send log failed")
		}
		log.Warn().Err(err).Msg("transport rejected recipient")
		metrics.IncDispatchRecipient("failed")
		return false
	}

	// The message is out; a bookkeeping error must not turn it into a failure.
	if err := d.logs.MarkSent(ctx, entry.ID, messageID, d.now()); err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to mark send log sent")
	}
	metrics.IncDispatchRecipient("sent")
	return true
}

// reset writes entry with a fresh id and token, retrying on token collision
func (d *Dispatcher) reset(ctx context.Context, entry *model.SendLog) error {
	var err error
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		entry.ID = generateID("sl")
		entry.TrackingToken, err = d.newToken()
		if err != nil {
			return err
		}
		err = d.logs.Reset(ctx, entry)
		if !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
	}
	return err
}

// truncateRunes caps s at max runes without splitting a character
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
