// Package mailer delivers campaign messages through a sender's own mailbox.
package mailer

import (
	"context"
	"fmt"
)

// Transport is the interface every outbound mail provider implements.
// Send returns the provider's id for the accepted message.
type Transport interface {
	Send(ctx context.Context, from Identity, msg Message) (string, error)
}

// Identity is a connected sender mailbox
type Identity struct {
	Address      string
	RefreshToken string
}

// Connected reports whether the identity can be used to send. A mailbox
// row without a refresh token is not a usable connection.
func (i *Identity) Connected() bool {
	return i != nil && i.RefreshToken != ""
}

// Message is one rendered message for one recipient
type Message struct {
	To       string
	FromName string
	ReplyTo  string
	Subject  string
	HTMLBody string
}

// TransportError carries the provider's rejection. Detail is the raw
// provider message, suitable for storing on the send log.
type TransportError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport rejected message (%d): %s", e.StatusCode, e.Detail)
	}
	return "transport failed: " + e.Detail
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
