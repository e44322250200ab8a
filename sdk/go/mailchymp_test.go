package mailchymp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://mail.example.com/api/v1"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c := NewClient(Config{
		BaseURL:    "https://mail.example.com/",
		HTTPClient: &http.Client{Transport: mt},
	})
	return c, mt
}

func TestConfigDefaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://mail.example.com/api/v1/"})
	assert.Equal(t, baseURL, c.cfg.BaseURL)
	assert.Equal(t, "mailchymp_access_token", c.cfg.CookieName)
	assert.Equal(t, 2*time.Minute, c.cfg.CacheTTL)
	assert.NotNil(t, c.cfg.HTTPClient)
}

func TestLogin(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, baseURL+"/auth/login", func(req *http.Request) (*http.Response, error) {
		var body LoginRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
		}
		if body.Email != "ann@example.com" || body.Password != "pw" {
			return httpmock.NewStringResponse(http.StatusUnauthorized,
				`{"error":{"code":"invalid_credentials","message":"Invalid email or password"}}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK,
			`{"user":{"id":"usr_1","email":"ann@example.com"},"token":{"accessToken":"tok","tokenType":"Bearer","expiresIn":86400}}`), nil
	})

	resp, err := c.Login(context.Background(), LoginRequest{Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "usr_1", resp.User.ID)
	assert.Equal(t, "tok", resp.Token.AccessToken)

	_, err = c.Login(context.Background(), LoginRequest{Email: "ann@example.com", Password: "nope"})
	require.Error(t, err)
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid_credentials", apiErr.Code)
}

func TestSend(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, baseURL+"/campaigns/send", func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer tok" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
		}
		var body map[string]string
		json.NewDecoder(req.Body).Decode(&body)
		if body["campaignId"] != "cmp_1" || body["listId"] != "lst_1" {
			return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"sent":2,"failed":1,"total":3}`), nil
	})

	res, err := c.Send(context.Background(), "tok", "cmp_1", "lst_1")
	require.NoError(t, err)
	assert.Equal(t, SendResult{Sent: 2, Failed: 1, Total: 3}, *res)
}

func TestSend_ErrorCodes(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, baseURL+"/campaigns/send",
		httpmock.NewStringResponder(http.StatusConflict,
			`{"error":{"code":"campaign_busy","message":"campaign is already being sent"}}`))

	_, err := c.Send(context.Background(), "tok", "cmp_1", "lst_1")
	require.Error(t, err)
	assert.True(t, IsCode(err, "campaign_busy"))
	assert.False(t, IsCode(err, "list_empty"))
}

func TestSchedule(t *testing.T) {
	c, mt := newTestClient(t)
	at := time.Date(2030, 1, 2, 15, 4, 0, 0, time.FixedZone("X", 3600))

	mt.RegisterResponder(http.MethodPost, baseURL+"/campaigns/schedule", func(req *http.Request) (*http.Response, error) {
		var body map[string]string
		json.NewDecoder(req.Body).Decode(&body)
		if body["scheduledAt"] != "2030-01-02T14:04:00Z" {
			return httpmock.NewStringResponse(http.StatusBadRequest, body["scheduledAt"]), nil
		}
		return httpmock.NewStringResponse(http.StatusOK,
			`{"id":"cmp_1","status":"scheduled","scheduledAt":"2030-01-02T14:04:00Z","listId":"lst_1"}`), nil
	})

	campaign, err := c.Schedule(context.Background(), "tok", "cmp_1", "lst_1", at)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, campaign.Status)
	require.NotNil(t, campaign.ScheduledAt)
	assert.True(t, campaign.ScheduledAt.Equal(at))
}

func TestCancel(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, baseURL+"/campaigns/cmp_1/cancel",
		httpmock.NewStringResponder(http.StatusNoContent, ""))

	require.NoError(t, c.Cancel(context.Background(), "tok", "cmp_1"))
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestReports(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, baseURL+"/dashboard/campaigns",
		httpmock.NewStringResponder(http.StatusOK,
			`{"campaigns":[{"id":"cmp_1","title":"Launch","status":"sent","stats":{"campaignId":"cmp_1","sent":10,"openedUnique":4,"totalOpens":7}}]}`))
	mt.RegisterResponder(http.MethodGet, baseURL+"/dashboard/campaigns/cmp_1",
		httpmock.NewStringResponder(http.StatusOK,
			`{"campaign":{"id":"cmp_1"},"logs":[{"id":"log_1","email":"a@example.com","status":"sent","openCount":2}],"summary":{"sent":1,"totalOpens":2}}`))

	reports, err := c.Reports(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Launch", reports[0].Title)
	assert.Equal(t, 10, reports[0].Stats.Sent)
	assert.Equal(t, 4, reports[0].Stats.OpenedUnique)

	detail, err := c.Report(context.Background(), "tok", "cmp_1")
	require.NoError(t, err)
	require.Len(t, detail.Logs, 1)
	assert.Equal(t, 2, detail.Logs[0].OpenCount)
	assert.Equal(t, 2, detail.Summary.TotalOpens)
}

func TestParseAPIError_NonEnvelope(t *testing.T) {
	err := parseAPIError(http.StatusBadGateway, []byte("bad gateway"))
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "unknown", apiErr.Code)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestMiddleware(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, baseURL+"/users/me", func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer good" {
			return httpmock.NewStringResponse(http.StatusUnauthorized,
				`{"error":{"code":"token_expired","message":"expired"}}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"id":"usr_1","email":"ann@example.com"}`), nil
	})

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserFromContext(r.Context()).ID + ":" + TokenFromContext(r.Context())))
	}))

	t.Run("no token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("cookie token is cached", func(t *testing.T) {
		before := mt.GetTotalCallCount()
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: "mailchymp_access_token", Value: "good"})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "usr_1:good", rec.Body.String())
		}
		assert.Equal(t, before+1, mt.GetTotalCallCount())
	})
}

func TestLogout_DropsCachedToken(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, baseURL+"/auth/logout", httpmock.NewStringResponder(http.StatusNoContent, ""))

	c.cache.set("tok", &User{ID: "usr_1"}, time.Minute)
	require.NoError(t, c.Logout(context.Background(), "tok"))

	_, ok := c.cache.get("tok")
	assert.False(t, ok)
}
