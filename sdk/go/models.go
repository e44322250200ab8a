package mailchymp

import "time"

// User represents a mailchymp account returned by the API.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoginRequest contains the credentials for authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Token is a signed access token.
type Token struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	User  *User  `json:"user"`
	Token *Token `json:"token"`
}

// Campaign status values.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
)

// Campaign is an HTML email.
type Campaign struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Subject     string     `json:"subject"`
	FromName    string     `json:"fromName"`
	FromEmail   string     `json:"fromEmail"`
	ReplyTo     *string    `json:"replyTo,omitempty"`
	HTML        string     `json:"html"`
	Status      string     `json:"status"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	ListID      *string    `json:"listId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SendResult holds the counts of a finished send.
type SendResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// CampaignStats aggregates delivery and engagement for one campaign.
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

// CampaignReport is a campaign with its aggregates.
type CampaignReport struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// SendLog is the delivery record of one recipient.
type SendLog struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Status            string     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	OpenCount         int        `json:"openCount"`
	FirstOpenedAt     *time.Time `json:"firstOpenedAt,omitempty"`
	ClickCount        int        `json:"clickCount"`
	LastClickedAt     *time.Time `json:"lastClickedAt,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	ErrorDetail       *string    `json:"errorDetail,omitempty"`
}

// CampaignDetail is the per-campaign dashboard view.
type CampaignDetail struct {
	Campaign *Campaign      `json:"campaign"`
	Logs     []*SendLog     `json:"logs"`
	Summary  *CampaignStats `json:"summary"`
}
