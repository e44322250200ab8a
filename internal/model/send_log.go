package model

import "time"

// SendStatus is the delivery state of one recipient in one pass
type SendStatus string

const (
	SendStatusQueued SendStatus = "queued"
	SendStatusSent   SendStatus = "sent"
	SendStatusFailed SendStatus = "failed"
)

// SendLog is the per (campaign, recipient) delivery and engagement record
type SendLog struct {
	ID                string     `json:"id"`
	CampaignID        string     `json:"campaignId"`
	SubscriberID      string     `json:"subscriberId"`
	Email             string     `json:"email"`
	Status            SendStatus `json:"status"`
	TrackingToken     string     `json:"-"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	OpenCount         int        `json:"openCount"`
	FirstOpenedAt     *time.Time `json:"firstOpenedAt,omitempty"`
	ClickCount        int        `json:"clickCount"`
	LastClickedAt     *time.Time `json:"lastClickedAt,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	ErrorDetail       *string    `json:"errorDetail,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// CampaignStats aggregates the send logs of one campaign
type CampaignStats struct {
	CampaignID    string `json:"campaignId"`
	Sent          int    `json:"sent"`
	Failed        int    `json:"failed"`
	Queued        int    `json:"queued"`
	OpenedUnique  int    `json:"openedUnique"`
	TotalOpens    int    `json:"totalOpens"`
	ClickedUnique int    `json:"clickedUnique"`
	TotalClicks   int    `json:"totalClicks"`
}

// CampaignReport is a campaign with its aggregates
type CampaignReport struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}
