package mailchymp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

type contextKey string

const (
	userContextKey  contextKey = "mailchymp_user"
	tokenContextKey contextKey = "mailchymp_token"
)

// Middleware returns net/http middleware that authenticates requests with
// a mailchymp access token taken from the Authorization header or the
// access token cookie. The user is available through UserFromContext.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, c.cfg.CookieName)
		user, err := c.ValidateToken(r.Context(), token)
		if err != nil {
			writeUnauthorized(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidateToken resolves token to its user, using the in-memory cache
// when enabled.
func (c *Client) ValidateToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if c.cfg.CacheTTL > 0 {
		if user, ok := c.cache.get(token); ok {
			return user, nil
		}
	}

	user, err := c.Me(ctx, token)
	if err != nil {
		return nil, err
	}

	if c.cfg.CacheTTL > 0 {
		c.cache.set(token, user, c.cfg.CacheTTL)
	}
	return user, nil
}

// UserFromContext returns the user stored by Middleware, or nil.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}

// TokenFromContext returns the access token stored by Middleware.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

func extractToken(r *http.Request, cookieName string) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	message := "Authentication required"
	switch {
	case errors.Is(err, ErrTokenInvalid):
		message = "Invalid or expired token"
	case errors.Is(err, ErrNoToken):
	default:
		// the mailchymp server could not be reached
		status = http.StatusBadGateway
		message = "Authentication service unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":{"code":"unauthorized","message":"` + message + `"}}`))
}

// tokenCache provides in-memory caching for validated tokens.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	user      *User
	expiresAt time.Time
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]*cacheEntry)}
}

func (tc *tokenCache) get(token string) (*User, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	entry, ok := tc.entries[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.user, true
}

// set stores user and drops expired entries while holding the lock
func (tc *tokenCache) set(token string, user *User, ttl time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	now := time.Now()
	for k, v := range tc.entries {
		if now.After(v.expiresAt) {
			delete(tc.entries, k)
		}
	}
	tc.entries[token] = &cacheEntry{user: user, expiresAt: now.Add(ttl)}
}

func (tc *tokenCache) delete(token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.entries, token)
}
