package model

import "time"

// List is a named, user owned set of subscribers
type List struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Subscriber is an email address that may belong to many lists
type Subscriber struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SubscriberStatusActive is the only status that receives sends
const SubscriberStatusActive = "active"

// Recipient is a resolved list member at dispatch time
type Recipient struct {
	SubscriberID string
	Email        string
	Name         string
}
