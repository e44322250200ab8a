package mailer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// ErrNoRefreshToken is returned when Google grants access without offline
// consent, typically because the app was already authorized
var ErrNoRefreshToken = errors.New("no refresh token returned")

// GmailConnector runs the OAuth consent flow that links a mailbox
type GmailConnector struct {
	cfg   GmailConfig
	oauth *oauth2.Config
	// UserinfoEndpoint overrides the userinfo API base URL
	UserinfoEndpoint string
}

// NewGmailConnector creates a new GmailConnector
func NewGmailConnector(cfg GmailConfig) *GmailConnector {
	return &GmailConnector{
		cfg: cfg,
		oauth: cfg.oauth2Config(
			gmail.GmailSendScope,
			oauth2api.UserinfoEmailScope,
			"openid",
		),
	}
}

// AuthCodeURL returns the Google consent URL carrying state
func (c *GmailConnector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the callback code for tokens and looks up the mailbox
// address. The returned Identity is ready to be stored.
func (c *GmailConnector) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.cfg.httpClient())

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	opts := []option.ClientOption{option.WithHTTPClient(c.oauth.Client(ctx, tok))}
	if c.UserinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.UserinfoEndpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo: %w", err)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("failed to read userinfo: no email in profile")
	}

	return &Identity{Address: info.Email, RefreshToken: tok.RefreshToken}, nil
}
