// Package mailchymp is a Go client for the mailchymp campaign API.
package mailchymp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the configuration for the mailchymp client.
type Config struct {
	// BaseURL is the root URL of the mailchymp server.
	// Examples: "https://mail.example.com" or "https://mail.example.com/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// CookieName is the name of the access token cookie set on login.
	// Default: "mailchymp_access_token"
	CookieName string

	// CacheTTL controls how long validated tokens are cached in memory
	// by Middleware. Set to a negative value to disable caching.
	// Default: 2 minutes
	CacheTTL time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a client with a 10 minute timeout is used, since sends
	// complete synchronously.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.CookieName == "" {
		c.CookieName = "mailchymp_access_token"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 2 * time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client is the mailchymp SDK client.
type Client struct {
	cfg   Config
	cache *tokenCache
}

// NewClient creates a new mailchymp client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:   cfg,
		cache: newTokenCache(),
	}
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the access token.
func (c *Client) Logout(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, token, nil); err != nil {
		return err
	}
	c.cache.delete(token)
	return nil
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	var user User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, token, &user); err != nil {
		if apiErr, ok := IsAPIError(err); ok && apiErr.StatusCode == http.StatusUnauthorized {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return &user, nil
}

// Send dispatches a campaign to a list and blocks until every recipient
// has been attempted.
func (c *Client) Send(ctx context.Context, token, campaignID, listID string) (*SendResult, error) {
	var res SendResult
	err := c.do(ctx, http.MethodPost, "/campaigns/send", map[string]string{
		"campaignId": campaignID,
		"listId":     listID,
	}, token, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Schedule sets the time a campaign is sent to a list.
func (c *Client) Schedule(ctx context.Context, token, campaignID, listID string, at time.Time) (*Campaign, error) {
	var campaign Campaign
	err := c.do(ctx, http.MethodPost, "/campaigns/schedule", map[string]interface{}{
		"campaignId":  campaignID,
		"listId":      listID,
		"scheduledAt": at.UTC().Format(time.RFC3339),
	}, token, &campaign)
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// Cancel returns a scheduled campaign to draft.
func (c *Client) Cancel(ctx context.Context, token, campaignID string) error {
	return c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(campaignID)+"/cancel", nil, token, nil)
}

// Campaign returns one campaign.
func (c *Client) Campaign(ctx context.Context, token, campaignID string) (*Campaign, error) {
	var campaign Campaign
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+url.PathEscape(campaignID), nil, token, &campaign); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// Reports returns every campaign of the user with its aggregates.
func (c *Client) Reports(ctx context.Context, token string) ([]CampaignReport, error) {
	var resp struct {
		Campaigns []CampaignReport `json:"campaigns"`
	}
	if err := c.do(ctx, http.MethodGet, "/dashboard/campaigns", nil, token, &resp); err != nil {
		return nil, err
	}
	return resp.Campaigns, nil
}

// Report returns one campaign with its latest send logs and summary.
func (c *Client) Report(ctx context.Context, token, campaignID string) (*CampaignDetail, error) {
	var detail CampaignDetail
	if err := c.do(ctx, http.MethodGet, "/dashboard/campaigns/"+url.PathEscape(campaignID), nil, token, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// do sends a request to the mailchymp API and decodes a successful
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, token string, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("mailchymp: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("mailchymp: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailchymp: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mailchymp: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mailchymp: failed to parse response: %w", err)
	}
	return nil
}
