package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailchymp/mailchymp/internal/auth"
	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/repository"
)

// Common service errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrPasswordTooWeak    = errors.New("password does not meet requirements")
	ErrUserNotFound       = errors.New("user not found")
	ErrGoogleDisabled     = errors.New("google sign-in is not configured")
	ErrGoogleCredential   = errors.New("google credential is invalid")
)

const (
	maxFailedLogins    = 5
	failedLoginWindow  = 15 * time.Minute
	failedLoginPrefix  = "login_failures:"
	revokedTokenPrefix = "revoked_jti:"
)

// UserStore is the user persistence the auth service needs
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error
}

// GoogleTokenVerifier checks a Google sign-in credential
type GoogleTokenVerifier interface {
	Verify(ctx context.Context, credential string) (*auth.GoogleIdentity, error)
}

// RegisterRequest contains the data for a new account
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Meta     RequestMeta
}

// LoginResponse contains the issued access token
type LoginResponse struct {
	User  *model.User       `json:"user"`
	Token *auth.IssuedToken `json:"token"`
}

// AuthService handles account and session business logic
type AuthService struct {
	users       UserStore
	tokenSvc    *auth.TokenService
	google      GoogleTokenVerifier
	redis       *database.Redis
	audit       auditor
	argonParams *auth.Argon2Params
	cfg         *config.Config
	now         func() time.Time
	log         *logger.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserStore,
	tokenSvc *auth.TokenService,
	google GoogleTokenVerifier,
	redis *database.Redis,
	auditStore AuditStore,
	cfg *config.Config,
	log *logger.Logger,
) *AuthService {
	l := log.WithComponent("auth_service")
	return &AuthService{
		users:    users,
		tokenSvc: tokenSvc,
		google:   google,
		redis:    redis,
		audit:    auditor{store: auditStore, log: l},
		argonParams: auth.NewParams(
			cfg.Security.Password.Argon2Memory,
			cfg.Security.Password.Argon2Iterations,
			cfg.Security.Password.Argon2Parallelism,
		),
		cfg: cfg,
		now: time.Now,
		log: l,
	}
}

// Register creates a new account
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	email := auth.NormalizeEmail(req.Email)
	if !auth.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := auth.ValidatePassword(req.Password, s.cfg.Security.Password.MinLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordTooWeak, err)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	passwordHash, err := auth.HashPassword(req.Password, s.argonParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           generateID("usr"),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.audit.record(ctx, user.ID, model.AuditActionRegister, "user", user.ID, req.Meta, nil)
	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// Login verifies credentials and issues an access token. Repeated
// failures lock the address for a short window.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResponse, error) {
	email = auth.NormalizeEmail(email)
	failKey := failedLoginPrefix + email

	if n, err := s.failedAttempts(ctx, failKey); err == nil && n >= maxFailedLogins {
		return nil, ErrAccountLocked
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordFailure(ctx, failKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if user.PasswordHash == "" {
		// account created through Google sign-in
		s.recordFailure(ctx, failKey)
		return nil, ErrInvalidCredentials
	}

	match, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		attempts := s.recordFailure(ctx, failKey)
		s.audit.record(ctx, user.ID, model.AuditActionLoginFailed, "user", user.ID, meta, map[string]interface{}{
			"reason":          "invalid_password",
			"failed_attempts": attempts,
		})
		return nil, ErrInvalidCredentials
	}

	if s.redis != nil {
		if err := s.redis.Del(ctx, failKey).Err(); err != nil {
			s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to reset failed attempts")
		}
	}

	if auth.NeedsRehash(user.PasswordHash, s.argonParams) {
		s.rehash(ctx, user, password)
	}

	token, err := s.tokenSvc.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.audit.record(ctx, user.ID, model.AuditActionLogin, "user", user.ID, meta, nil)
	return &LoginResponse{User: user, Token: token}, nil
}

// LoginWithGoogle signs in with a Google Identity Services credential. The
// account with the verified address is used, or created without a password
// on first sign-in.
func (s *AuthService) LoginWithGoogle(ctx context.Context, credential string, meta RequestMeta) (*LoginResponse, error) {
	if s.google == nil {
		return nil, ErrGoogleDisabled
	}
	identity, err := s.google.Verify(ctx, credential)
	if err != nil {
		s.log.Warn().Err(err).Msg("google credential rejected")
		return nil, ErrGoogleCredential
	}

	user, err := s.users.GetByEmail(ctx, identity.Email)
	if errors.Is(err, repository.ErrNotFound) {
		user, err = s.createGoogleUser(ctx, identity, meta)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve google user: %w", err)
	}

	token, err := s.tokenSvc.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.audit.record(ctx, user.ID, model.AuditActionLogin, "user", user.ID, meta, map[string]interface{}{
		"method": "google",
	})
	return &LoginResponse{User: user, Token: token}, nil
}

func (s *AuthService) createGoogleUser(ctx context.Context, identity *auth.GoogleIdentity, meta RequestMeta) (*model.User, error) {
	now := s.now()
	user := &model.User{
		ID:        generateID("usr"),
		Email:     identity.Email,
		Name:      identity.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// a concurrent sign-in created it first
			return s.users.GetByEmail(ctx, identity.Email)
		}
		return nil, err
	}

	s.audit.record(ctx, user.ID, model.AuditActionRegister, "user", user.ID, meta, map[string]interface{}{
		"method": "google",
	})
	s.log.Info().Str("user_id", user.ID).Msg("user registered with google")
	return user, nil
}

// Logout revokes the presented access token until it would have expired
func (s *AuthService) Logout(ctx context.Context, claims *auth.TokenClaims, meta RequestMeta) error {
	if claims == nil || claims.ID == "" {
		return nil
	}

	ttl := s.tokenSvc.TTL()
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if ttl > 0 && s.redis != nil {
		if err := s.redis.SetWithTTL(ctx, revokedTokenPrefix+claims.ID, claims.Subject, ttl); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
	}

	s.audit.record(ctx, claims.Subject, model.AuditActionLogout, "user", claims.Subject, meta, nil)
	return nil
}

// IsRevoked reports whether the token id was logged out
func (s *AuthService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.redis == nil || jti == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, revokedTokenPrefix+jti)
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

// Me returns the authenticated user
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// rehash upgrades a stored hash to the current parameters. Failure keeps
// the old hash, which still verifies.
func (s *AuthService) rehash(ctx context.Context, user *model.User, password string) {
	hash, err := auth.HashPassword(password, s.argonParams)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to rehash password")
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash, s.now()); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to store rehashed password")
		return
	}
	user.PasswordHash = hash
}

func (s *AuthService) failedAttempts(ctx context.Context, key string) (int, error) {
	if s.redis == nil {
		return 0, nil
	}
	return s.redis.Get(ctx, key).Int()
}

func (s *AuthService) recordFailure(ctx context.Context, key string) int64 {
	if s.redis == nil {
		return 0
	}
	n, err := s.redis.Incr(ctx, key)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to count failed login")
		return 0
	}
	if n == 1 {
		if err := s.redis.Expire(ctx, key, failedLoginWindow); err != nil {
			s.log.Error().Err(err).Msg("failed to set failed login window")
		}
	}
	if n == maxFailedLogins {
		s.log.Warn().Int64("attempts", n).Msg("login locked due to failed attempts")
	}
	return n
}
