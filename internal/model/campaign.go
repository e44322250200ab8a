package model

import (
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// ParseCampaignStatus maps a stored or user supplied value onto the enum
func ParseCampaignStatus(s string) (CampaignStatus, bool) {
	switch st := CampaignStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending,
		CampaignStatusSent, CampaignStatusFailed:
		return st, true
	}
	return "", false
}

// CanEdit reports whether content and metadata may still change
func (s CampaignStatus) CanEdit() bool {
	return s == CampaignStatusDraft || s == CampaignStatusScheduled
}

// CanSchedule reports whether a schedule may be set or moved
func (s CampaignStatus) CanSchedule() bool {
	return s == CampaignStatusDraft || s == CampaignStatusScheduled
}

// CanCancel reports whether a pending schedule may be dropped
func (s CampaignStatus) CanCancel() bool {
	return s == CampaignStatusScheduled
}

// CanDelete is false only while a pass is running
func (s CampaignStatus) CanDelete() bool {
	return s != CampaignStatusSending
}

// ManualSendFrom lists the states an explicit send may start from.
// Finished campaigns may be resent on request.
func ManualSendFrom() []CampaignStatus {
	return []CampaignStatus{
		CampaignStatusDraft,
		CampaignStatusScheduled,
		CampaignStatusSent,
		CampaignStatusFailed,
	}
}

// ScheduledSendFrom lists the states the scheduler may claim from
func ScheduledSendFrom() []CampaignStatus {
	return []CampaignStatus{CampaignStatusScheduled}
}

// FinalStatus is the terminal state of a pass with the given success count
func FinalStatus(sent int) CampaignStatus {
	if sent > 0 {
		return CampaignStatusSent
	}
	return CampaignStatusFailed
}

// Campaign is an HTML email authored by a user
type Campaign struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Title       string         `json:"title"`
	Subject     string         `json:"subject"`
	FromName    string         `json:"fromName"`
	FromEmail   string         `json:"fromEmail"`
	ReplyTo     *string        `json:"replyTo,omitempty"`
	HTML        string         `json:"html"`
	Status      CampaignStatus `json:"status"`
	ScheduledAt *time.Time     `json:"scheduledAt,omitempty"`
	ListID      *string        `json:"listId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// CampaignFilter narrows a campaign listing
type CampaignFilter struct {
	Status *CampaignStatus
	Search string
	Limit  int
}
