package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mailchymp/mailchymp/internal/auth"
)

// AccessTokenCookie carries the access token for browser clients
const AccessTokenCookie = "mailchymp_access_token"

// Context keys for authenticated user data
const (
	UserIDKey contextKey = "user_id"
	EmailKey  contextKey = "email"
	ClaimsKey contextKey = "claims"
)

// TokenValidator parses access tokens
type TokenValidator interface {
	Validate(tokenString string) (*auth.TokenClaims, error)
}

// RevocationChecker reports whether a token id was logged out
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Auth creates an authentication middleware that validates JWT tokens.
// revoked may be nil.
func (m *Middleware) Auth(tokens TokenValidator, revoked RevocationChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				m.log.Debug().Err(err).Msg("token validation failed")
				writeError(w, http.StatusUnauthorized, "token_expired", "The access token is invalid or expired")
				return
			}

			if revoked != nil {
				isRevoked, err := revoked.IsRevoked(r.Context(), claims.ID)
				if err != nil {
					m.log.Error().Err(err).Msg("failed to check token revocation")
					writeError(w, http.StatusServiceUnavailable, "unavailable", "Please try again later")
					return
				}
				if isRevoked {
					writeError(w, http.StatusUnauthorized, "token_revoked", "The access token has been revoked")
					return
				}
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, EmailKey, claims.Email)
			ctx = context.WithValue(ctx, ClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header first, then the cookie
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// GetUserID returns the authenticated user id, or "" outside Auth
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// GetClaims returns the validated token claims, or nil outside Auth
func GetClaims(ctx context.Context) *auth.TokenClaims {
	claims, _ := ctx.Value(ClaimsKey).(*auth.TokenClaims)
	return claims
}
