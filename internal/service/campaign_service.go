package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailchymp/mailchymp/internal/auth"
	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/repository"
)

// Campaign errors
var (
	ErrCampaignNotEditable    = errors.New("campaign can no longer be edited")
	ErrCampaignNotScheduled   = errors.New("campaign is not scheduled")
	ErrCampaignNotSchedulable = errors.New("campaign cannot be scheduled in its current state")
	ErrCampaignSending        = errors.New("campaign is being sent")
	ErrScheduleTooSoon        = errors.New("schedule must be in the future")
	ErrInvalidCampaign        = errors.New("title, subject, from name and html are required")
	ErrInvalidReplyTo         = errors.New("reply-to is not a valid email address")
)

// CampaignRepo is the campaign persistence the service needs
type CampaignRepo interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id, userID string) (*model.Campaign, error)
	List(ctx context.Context, userID string, filter model.CampaignFilter) ([]*model.Campaign, error)
	Update(ctx context.Context, c *model.Campaign) error
	Delete(ctx context.Context, id, userID string) error
	Schedule(ctx context.Context, id, userID, listID string, when, at time.Time) error
	Cancel(ctx context.Context, id, userID string, at time.Time) error
}

// CampaignInput is the authored content of a campaign
type CampaignInput struct {
	Title    string
	Subject  string
	FromName string
	ReplyTo  string
	HTML     string
}

func (in *CampaignInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Subject = strings.TrimSpace(in.Subject)
	in.FromName = strings.TrimSpace(in.FromName)
	in.ReplyTo = strings.TrimSpace(in.ReplyTo)
	if in.Title == "" || in.Subject == "" || in.FromName == "" || strings.TrimSpace(in.HTML) == "" {
		return ErrInvalidCampaign
	}
	if in.ReplyTo != "" && !auth.IsValidEmail(in.ReplyTo) {
		return ErrInvalidReplyTo
	}
	return nil
}

// CampaignService handles campaign authoring and send requests
type CampaignService struct {
	campaigns   CampaignRepo
	recipients  RecipientResolver
	identities  IdentityProvider
	dispatcher  *Dispatcher
	audit       auditor
	minLeadTime time.Duration
	now         func() time.Time
	log         *logger.Logger
}

// NewCampaignService creates a new CampaignService
func NewCampaignService(
	campaigns CampaignRepo,
	recipients RecipientResolver,
	identities IdentityProvider,
	dispatcher *Dispatcher,
	auditStore AuditStore,
	cfg *config.Config,
	log *logger.Logger,
) *CampaignService {
	l := log.WithComponent("campaign_service")
	return &CampaignService{
		campaigns:   campaigns,
		recipients:  recipients,
		identities:  identities,
		dispatcher:  dispatcher,
		audit:       auditor{store: auditStore, log: l},
		minLeadTime: cfg.Scheduler.MinLeadTime,
		now:         time.Now,
		log:         l,
	}
}

// Create stores a new draft. The sender address is the owner's connected
// mailbox, so a connection is required.
func (s *CampaignService) Create(ctx context.Context, ownerID string, in CampaignInput, meta RequestMeta) (*model.Campaign, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	identity, err := s.identities.SenderIdentity(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender identity: %w", err)
	}
	if !identity.Connected() {
		return nil, ErrGmailNotConnected
	}

	now := s.now()
	c := &model.Campaign{
		ID:        generateID("cmp"),
		UserID:    ownerID,
		Title:     in.Title,
		Subject:   in.Subject,
		FromName:  in.FromName,
		FromEmail: identity.Address,
		ReplyTo:   optional(in.ReplyTo),
		HTML:      in.HTML,
		Status:    model.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.audit.record(ctx, ownerID, model.AuditActionCampaignCreated, "campaign", c.ID, meta, nil)
	return c, nil
}

// Get returns one of the owner's campaigns
func (s *CampaignService) Get(ctx context.Context, ownerID, id string) (*model.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, mapCampaignLookup(err)
	}
	return c, nil
}

func mapCampaignLookup(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCampaignNotFound
	}
	return fmt.Errorf("failed to get campaign: %w", err)
}

// List returns the owner's campaigns, most recently updated first
func (s *CampaignService) List(ctx context.Context, ownerID string, filter model.CampaignFilter) ([]*model.Campaign, error) {
	campaigns, err := s.campaigns.List(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// Update replaces the authored content of a draft or scheduled campaign
func (s *CampaignService) Update(ctx context.Context, ownerID, id string, in CampaignInput, meta RequestMeta) (*model.Campaign, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	c, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanEdit() {
		return nil, ErrCampaignNotEditable
	}

	c.Title = in.Title
	c.Subject = in.Subject
	c.FromName = in.FromName
	c.ReplyTo = optional(in.ReplyTo)
	c.HTML = in.HTML
	c.UpdatedAt = s.now()

	if err := s.campaigns.Update(ctx, c); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			// A send claimed it between the read and the write.
			return nil, ErrCampaignNotEditable
		}
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}

	s.audit.record(ctx, ownerID, model.AuditActionCampaignUpdated, "campaign", c.ID, meta, nil)
	return c, nil
}

// Duplicate copies a campaign's content into a new draft
func (s *CampaignService) Duplicate(ctx context.Context, ownerID, id string, meta RequestMeta) (*model.Campaign, error) {
	src, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &model.Campaign{
		ID:        generateID("cmp"),
		UserID:    ownerID,
		Title:     src.Title,
		Subject:   src.Subject,
		FromName:  src.FromName,
		FromEmail: src.FromEmail,
		ReplyTo:   src.ReplyTo,
		HTML:      src.HTML,
		Status:    model.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to duplicate campaign: %w", err)
	}

	s.audit.record(ctx, ownerID, model.AuditActionCampaignCreated, "campaign", c.ID, meta, map[string]interface{}{
		"duplicated_from": src.ID,
	})
	return c, nil
}

// Delete removes a campaign and its send logs. A campaign mid-pass cannot
// be deleted.
func (s *CampaignService) Delete(ctx context.Context, ownerID, id string, meta RequestMeta) error {
	c, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !c.Status.CanDelete() {
		return ErrCampaignSending
	}

	if err := s.campaigns.Delete(ctx, id, ownerID); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return ErrCampaignSending
		}
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	s.audit.record(ctx, ownerID, model.AuditActionCampaignDeleted, "campaign", id, meta, nil)
	return nil
}

// SendNow dispatches the campaign to the list and waits for the pass to
// finish. The pass is detached from ctx cancellation so a dropped client
// connection does not abort it midway.
func (s *CampaignService) SendNow(ctx context.Context, ownerID, campaignID, listID string, meta RequestMeta) (*DispatchResult, error) {
	res, err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), campaignID, listID, ownerID)
	if err != nil {
		return nil, err
	}

	s.audit.record(ctx, ownerID, model.AuditActionCampaignSent, "campaign", campaignID, meta, map[string]interface{}{
		"list_id": listID,
		"sent":    res.Sent,
		"failed":  res.Failed,
	})
	return res, nil
}

// Schedule sets or moves the campaign's dispatch time
func (s *CampaignService) Schedule(ctx context.Context, ownerID, campaignID, listID string, when time.Time, meta RequestMeta) (*model.Campaign, error) {
	now := s.now()
	if when.Before(now.Add(s.minLeadTime)) {
		return nil, ErrScheduleTooSoon
	}

	c, err := s.Get(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanSchedule() {
		return nil, ErrCampaignNotSchedulable
	}

	if _, err := s.recipients.ResolveRecipients(ctx, listID, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrListNotFound
		}
		return nil, fmt.Errorf("failed to check list: %w", err)
	}

	when = when.UTC()
	if err := s.campaigns.Schedule(ctx, campaignID, ownerID, listID, when, now); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return nil, ErrCampaignNotSchedulable
		}
		return nil, fmt.Errorf("failed to schedule campaign: %w", err)
	}

	c.Status = model.CampaignStatusScheduled
	c.ScheduledAt = &when
	c.ListID = &listID
	c.UpdatedAt = now

	s.audit.record(ctx, ownerID, model.AuditActionCampaignScheduled, "campaign", campaignID, meta, map[string]interface{}{
		"list_id":      listID,
		"scheduled_at": when.Format(time.RFC3339),
	})
	return c, nil
}

// Cancel returns a scheduled campaign to draft
func (s *CampaignService) Cancel(ctx context.Context, ownerID, campaignID string, meta RequestMeta) error {
	if err := s.campaigns.Cancel(ctx, campaignID, ownerID, s.now()); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			if _, gerr := s.Get(ctx, ownerID, campaignID); gerr != nil {
				return gerr
			}
			return ErrCampaignNotScheduled
		}
		return fmt.Errorf("failed to cancel campaign: %w", err)
	}

	s.audit.record(ctx, ownerID, model.AuditActionCampaignCanceled, "campaign", campaignID, meta, nil)
	return nil
}
