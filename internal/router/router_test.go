package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mailchymp/mailchymp/internal/auth"
	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/handler"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okChecker struct{}

func (okChecker) HealthCheck(ctx context.Context) error { return nil }

type nopEngagement struct{}

func (nopEngagement) RecordOpen(ctx context.Context, token string, at time.Time) (bool, error) {
	return false, nil
}

func (nopEngagement) RecordClick(ctx context.Context, token string, at time.Time) (bool, error) {
	return false, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.DefaultLimit = 100
	cfg.Security.RateLimiting.DefaultWindow = "1m"
	cfg.Server.AllowedOrigins = []string{"http://app.test"}

	tokens, err := auth.NewTokenService(config.TokenConfig{Secret: "s3cret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)

	log := logger.Nop()
	h := handler.New(okChecker{}, okChecker{}, log, cfg, handler.Services{
		Tracking: service.NewTrackingService(nopEngagement{}, log),
	})
	mw := middleware.New(&database.Redis{Client: client}, log, cfg)
	return New(h, mw, cfg, tokens, nil)
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"ready", http.MethodGet, "/ready", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"open pixel", http.MethodGet, "/t/o/0123456789abcdef0123456789abcdef.gif", http.StatusOK},
		{"click redirect", http.MethodGet, "/t/c/0123456789abcdef0123456789abcdef?url=https%3A%2F%2Fexample.com", http.StatusFound},
		{"click bad url", http.MethodGet, "/t/c/0123456789abcdef0123456789abcdef?url=ftp%3A%2F%2Fexample.com", http.StatusBadRequest},
		{"campaigns need auth", http.MethodGet, "/api/v1/campaigns", http.StatusUnauthorized},
		{"send needs auth", http.MethodPost, "/api/v1/campaigns/send", http.StatusUnauthorized},
		{"dashboard needs auth", http.MethodGet, "/api/v1/dashboard/campaigns/cmp_1", http.StatusUnauthorized},
		{"member edit needs auth", http.MethodPut, "/api/v1/lists/lst_1/members/sub_1", http.StatusUnauthorized},
		{"google sign-in is public", http.MethodPost, "/api/v1/auth/google", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/health", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRoutes_CommonHeaders(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://app.test")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
