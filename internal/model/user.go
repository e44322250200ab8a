package model

import (
	"time"
)

// User is an account that owns campaigns and lists
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"` // never expose password hash
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GmailAccount is the connected sender mailbox of a user
type GmailAccount struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Connected reports whether the account can be used to send
func (g *GmailAccount) Connected() bool {
	return g != nil && g.RefreshToken != ""
}
