package router

import (
	"net/http"
	"time"

	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/handler"
	"github.com/mailchymp/mailchymp/internal/metrics"
	"github.com/mailchymp/mailchymp/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config, tokens middleware.TokenValidator, revoked middleware.RevocationChecker) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	// Tracking endpoints are hit by mail clients: no auth, no rate limit
	mux.HandleFunc("GET /t/o/{file}", h.TrackOpen)
	mux.HandleFunc("GET /t/c/{token}", h.TrackClick)

	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"mailchymp API v1","version":"0.1.0"}`))
	})

	// Public authentication routes (rate limited)
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  10,
		Window: 15 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	registerRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "register",
		Limit:  5,
		Window: 1 * time.Hour,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("POST /api/v1/auth/register", registerRateLimit(http.HandlerFunc(h.Register)))
	mux.Handle("POST /api/v1/auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/v1/auth/google", loginRateLimit(http.HandlerFunc(h.GoogleLogin)))

	// The OAuth state carries the user, so the callback needs no session
	mux.HandleFunc("GET /api/v1/gmail/oauth2callback", h.GmailCallback)

	// Protected routes (require auth)
	authMw := mw.Auth(tokens, revoked)
	apiRateLimit := mw.DefaultRateLimit()
	protected := func(fn http.HandlerFunc) http.Handler {
		return authMw(apiRateLimit(fn))
	}

	// Sends are synchronous and expensive
	sendRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "send",
		Limit:  10,
		Window: 1 * time.Minute,
		KeyFn:  middleware.UserOrIPKey,
	})

	mux.Handle("POST /api/v1/auth/logout", protected(h.Logout))
	mux.Handle("GET /api/v1/users/me", protected(h.Me))

	// Gmail
	mux.Handle("GET /api/v1/gmail/status", protected(h.GmailStatus))
	mux.Handle("GET /api/v1/gmail/connect", protected(h.GmailConnect))
	mux.Handle("POST /api/v1/gmail/disconnect", protected(h.GmailDisconnect))

	// Lists
	mux.Handle("GET /api/v1/lists", protected(h.ListLists))
	mux.Handle("POST /api/v1/lists", protected(h.CreateList))
	mux.Handle("GET /api/v1/lists/{id}", protected(h.GetList))
	mux.Handle("DELETE /api/v1/lists/{id}", protected(h.DeleteList))
	mux.Handle("GET /api/v1/lists/{id}/members", protected(h.ListMembers))
	mux.Handle("POST /api/v1/lists/{id}/members", protected(h.AddMember))
	mux.Handle("PUT /api/v1/lists/{id}/members/{subscriberId}", protected(h.UpdateMember))
	mux.Handle("DELETE /api/v1/lists/{id}/members/{subscriberId}", protected(h.RemoveMember))

	// Campaigns
	mux.Handle("GET /api/v1/campaigns", protected(h.ListCampaigns))
	mux.Handle("POST /api/v1/campaigns", protected(h.CreateCampaign))
	mux.Handle("POST /api/v1/campaigns/send", authMw(sendRateLimit(http.HandlerFunc(h.SendCampaign))))
	mux.Handle("POST /api/v1/campaigns/schedule", protected(h.ScheduleCampaign))
	mux.Handle("GET /api/v1/campaigns/{id}", protected(h.GetCampaign))
	mux.Handle("PUT /api/v1/campaigns/{id}", protected(h.UpdateCampaign))
	mux.Handle("DELETE /api/v1/campaigns/{id}", protected(h.DeleteCampaign))
	mux.Handle("POST /api/v1/campaigns/{id}/duplicate", protected(h.DuplicateCampaign))
	mux.Handle("POST /api/v1/campaigns/{id}/cancel", protected(h.CancelCampaign))

	// Dashboard
	mux.Handle("GET /api/v1/dashboard/campaigns", protected(h.DashboardCampaigns))
	mux.Handle("GET /api/v1/dashboard/campaigns/{id}", protected(h.DashboardCampaign))

	// Apply middleware stack
	var handler http.Handler = mux

	// Metrics must see the matched pattern, so it wraps the mux directly
	handler = metrics.HTTPMiddleware(handler)

	// CORS
	handler = mw.CORS(cfg.Server.AllowedOrigins)(handler)

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
