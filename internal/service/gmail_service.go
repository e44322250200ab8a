package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/mailer"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/repository"
	"github.com/redis/go-redis/v9"
)

// Gmail errors
var (
	ErrInvalidOAuthState = errors.New("oauth state is invalid or expired")
	ErrNoRefreshToken    = errors.New("google did not grant offline access; remove the app from your Google account and connect again")
)

const (
	oauthStatePrefix = "gmail_oauth_state:"
	oauthStateTTL    = 10 * time.Minute
)

// GmailAccountStore is the mailbox persistence the service needs
type GmailAccountStore interface {
	Upsert(ctx context.Context, acct *model.GmailAccount) error
	GetByUserID(ctx context.Context, userID string) (*model.GmailAccount, error)
	Delete(ctx context.Context, userID string) error
}

// OAuthConnector runs the provider consent flow
type OAuthConnector interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*mailer.Identity, error)
}

// tokenForgetter drops cached credentials for a mailbox
type tokenForgetter interface {
	Forget(from mailer.Identity)
}

// GmailStatus reports the connection state of a user's mailbox
type GmailStatus struct {
	Connected bool   `json:"connected"`
	Email     string `json:"email,omitempty"`
}

// GmailService links sender mailboxes to users
type GmailService struct {
	accounts  GmailAccountStore
	connector OAuthConnector
	forgetter tokenForgetter
	redis     *database.Redis
	audit     auditor
	now       func() time.Time
	log       *logger.Logger
}

// NewGmailService creates a new GmailService. transport may be nil; when it
// caches token sources they are dropped on reconnect and disconnect.
func NewGmailService(
	accounts GmailAccountStore,
	connector OAuthConnector,
	transport mailer.Transport,
	redis *database.Redis,
	auditStore AuditStore,
	log *logger.Logger,
) *GmailService {
	l := log.WithComponent("gmail_service")
	s := &GmailService{
		accounts:  accounts,
		connector: connector,
		redis:     redis,
		audit:     auditor{store: auditStore, log: l},
		now:       time.Now,
		log:       l,
	}
	if f, ok := transport.(tokenForgetter); ok {
		s.forgetter = f
	}
	return s
}

// ConnectURL starts the consent flow for userID
func (s *GmailService) ConnectURL(ctx context.Context, userID string) (string, error) {
	state, err := generateSecureToken(16)
	if err != nil {
		return "", err
	}
	if err := s.redis.SetWithTTL(ctx, oauthStatePrefix+state, userID, oauthStateTTL); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return s.connector.AuthCodeURL(state), nil
}

// Callback completes the consent flow. The state is single use.
func (s *GmailService) Callback(ctx context.Context, state, code string, meta RequestMeta) (*model.GmailAccount, error) {
	if state == "" || code == "" {
		return nil, ErrInvalidOAuthState
	}

	userID, err := s.redis.TakeString(ctx, oauthStatePrefix+state)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidOAuthState
		}
		return nil, fmt.Errorf("failed to read oauth state: %w", err)
	}

	identity, err := s.connector.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, mailer.ErrNoRefreshToken) {
			return nil, ErrNoRefreshToken
		}
		return nil, err
	}

	if prev, err := s.accounts.GetByUserID(ctx, userID); err == nil {
		s.forget(prev)
	}

	now := s.now()
	acct := &model.GmailAccount{
		UserID:       userID,
		Email:        identity.Address,
		RefreshToken: identity.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Upsert(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to store gmail account: %w", err)
	}

	s.audit.record(ctx, userID, model.AuditActionGmailConnected, "gmail_account", userID, meta, map[string]interface{}{
		"email": acct.Email,
	})
	s.log.Info().Str("user_id", userID).Msg("gmail connected")
	return acct, nil
}

// Status reports whether userID has a usable mailbox
func (s *GmailService) Status(ctx context.Context, userID string) (*GmailStatus, error) {
	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &GmailStatus{}, nil
		}
		return nil, fmt.Errorf("failed to get gmail account: %w", err)
	}
	return &GmailStatus{Connected: acct.Connected(), Email: acct.Email}, nil
}

// Disconnect removes the mailbox. Disconnecting twice is not an error.
func (s *GmailService) Disconnect(ctx context.Context, userID string, meta RequestMeta) error {
	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get gmail account: %w", err)
	}

	if err := s.accounts.Delete(ctx, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to delete gmail account: %w", err)
	}
	s.forget(acct)

	s.audit.record(ctx, userID, model.AuditActionGmailDisconnected, "gmail_account", userID, meta, nil)
	return nil
}

// SenderIdentity returns the connected mailbox of ownerID, or nil when
// there is none
func (s *GmailService) SenderIdentity(ctx context.Context, ownerID string) (*mailer.Identity, error) {
	acct, err := s.accounts.GetByUserID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get gmail account: %w", err)
	}
	if !acct.Connected() {
		return nil, nil
	}
	return &mailer.Identity{Address: acct.Email, RefreshToken: acct.RefreshToken}, nil
}

func (s *GmailService) forget(acct *model.GmailAccount) {
	if s.forgetter != nil && acct != nil {
		s.forgetter.Forget(mailer.Identity{Address: acct.Email, RefreshToken: acct.RefreshToken})
	}
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
