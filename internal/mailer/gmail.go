package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailConfig holds the OAuth client shared by every connected mailbox
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// HTTPClient is the base client for token refresh and API calls.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Endpoint overrides the Gmail API base URL
	Endpoint string
}

func (c GmailConfig) oauth2Config(scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}

func (c GmailConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// GmailTransport implements Transport using the Gmail API with each
// sender's own refresh token. Token sources are cached per mailbox so a
// pass refreshes the access token once rather than per message.
type GmailTransport struct {
	cfg   GmailConfig
	oauth *oauth2.Config
	now   func() time.Time

	mu      sync.Mutex
	sources map[string]cachedSource
}

// cachedSource is the token source for one mailbox and the refresh token
// it was built from
type cachedSource struct {
	refreshToken string
	ts           oauth2.TokenSource
}

// NewGmailTransport creates a new GmailTransport
func NewGmailTransport(cfg GmailConfig) *GmailTransport {
	return &GmailTransport{
		cfg:     cfg,
		oauth:   cfg.oauth2Config(gmail.GmailSendScope),
		now:     time.Now,
		sources: make(map[string]cachedSource),
	}
}

// tokenSource returns the cached source for the mailbox. A reconnect with a
// new refresh token replaces the entry.
func (g *GmailTransport) tokenSource(ctx context.Context, from Identity) oauth2.TokenSource {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.sources[from.Address]; ok && c.refreshToken == from.RefreshToken {
		return c.ts
	}
	// The token source outlives ctx, so it gets its own background context.
	base := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, g.cfg.httpClient())
	ts := oauth2.ReuseTokenSource(nil, g.oauth.TokenSource(base, &oauth2.Token{RefreshToken: from.RefreshToken}))
	g.sources[from.Address] = cachedSource{refreshToken: from.RefreshToken, ts: ts}
	return ts
}

// Forget drops the cached token source for a mailbox
func (g *GmailTransport) Forget(from Identity) {
	g.mu.Lock()
	delete(g.sources, from.Address)
	g.mu.Unlock()
}

// Send delivers msg from the sender's mailbox and returns the Gmail message id
func (g *GmailTransport) Send(ctx context.Context, from Identity, msg Message) (string, error) {
	if from.Address == "" || !from.Connected() {
		return "", &TransportError{Detail: "sender mailbox is not connected"}
	}

	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: g.tokenSource(ctx, from),
			Base:   g.cfg.httpClient().Transport,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.Endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("gmail: failed to create service: %w", err)
	}

	raw := buildRaw(from, msg, g.now())
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", asTransportError(err)
	}

	return sent.Id, nil
}

func asTransportError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if detail == "" {
			detail = apiErr.Body
		}
		return &TransportError{StatusCode: apiErr.Code, Detail: detail, Err: err}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		detail := retrieveErr.ErrorDescription
		if detail == "" {
			detail = string(retrieveErr.Body)
		}
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &TransportError{StatusCode: status, Detail: "token refresh failed: " + detail, Err: err}
	}

	return &TransportError{Detail: err.Error(), Err: err}
}
