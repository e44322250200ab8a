package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mailchymp/mailchymp/internal/config"
)

// ErrNoSigningSecret is returned when the token secret is unset
var ErrNoSigningSecret = errors.New("token signing secret is not configured")

// TokenService issues and validates HS256 access tokens
type TokenService struct {
	cfg    config.TokenConfig
	secret []byte
	now    func() time.Time
}

// TokenClaims represents the claims in an access token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// IssuedToken is a signed access token with its id and expiry
type IssuedToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int       `json:"expiresIn"`
	ExpiresAt   time.Time `json:"-"`
	ID          string    `json:"-"`
}

// NewTokenService creates a new TokenService
func NewTokenService(cfg config.TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSigningSecret
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 24 * time.Hour
	}
	return &TokenService{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}, nil
}

// Issue signs an access token for the user
func (s *TokenService) Issue(userID, email string) (*IssuedToken, error) {
	now := s.now()
	expiry := now.Add(s.cfg.AccessTokenTTL)
	jti := uuid.New().String()

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        jti,
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &IssuedToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
		ExpiresAt:   expiry,
		ID:          jti,
	}, nil
}

// Validate parses an access token and returns its claims
func (s *TokenService) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TTL returns the access token lifetime
func (s *TokenService) TTL() time.Duration {
	return s.cfg.AccessTokenTTL
}
