package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// Google sign-in errors
var (
	ErrGoogleTokenInvalid = errors.New("google credential is invalid")
	ErrGoogleEmailMissing = errors.New("google credential carries no verified email")
)

// GoogleIdentity is the account behind a verified Google sign-in credential
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
}

// GoogleVerifier checks Google Identity Services ID tokens issued for one
// OAuth client. Google's signing keys are fetched and cached by the
// validator.
type GoogleVerifier struct {
	clientID  string
	validator *idtoken.Validator
}

// NewGoogleVerifier creates a verifier accepting tokens whose audience is
// clientID. A nil client uses http.DefaultClient.
func NewGoogleVerifier(ctx context.Context, clientID string, client *http.Client) (*GoogleVerifier, error) {
	if client == nil {
		client = http.DefaultClient
	}
	v, err := idtoken.NewValidator(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create id token validator: %w", err)
	}
	return &GoogleVerifier{clientID: clientID, validator: v}, nil
}

// Verify validates credential and returns the identity it asserts
func (g *GoogleVerifier) Verify(ctx context.Context, credential string) (*GoogleIdentity, error) {
	payload, err := g.validator.Validate(ctx, credential, g.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGoogleTokenInvalid, err)
	}
	return identityFromClaims(payload.Subject, payload.Claims)
}

func identityFromClaims(subject string, claims map[string]interface{}) (*GoogleIdentity, error) {
	email, _ := claims["email"].(string)
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrGoogleEmailMissing
	}
	// email_verified is a bool in GIS tokens but older issuers sent a string
	switch v := claims["email_verified"].(type) {
	case bool:
		if !v {
			return nil, ErrGoogleEmailMissing
		}
	case string:
		if v != "true" {
			return nil, ErrGoogleEmailMissing
		}
	}

	name, _ := claims["name"].(string)
	if strings.TrimSpace(name) == "" {
		name, _ = claims["given_name"].(string)
	}
	return &GoogleIdentity{
		Subject: subject,
		Email:   email,
		Name:    strings.TrimSpace(name),
	}, nil
}
