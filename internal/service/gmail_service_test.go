package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/mailer"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memGmailAccounts struct {
	accounts map[string]*model.GmailAccount
}

func (m *memGmailAccounts) Upsert(ctx context.Context, acct *model.GmailAccount) error {
	cp := *acct
	m.accounts[acct.UserID] = &cp
	return nil
}

func (m *memGmailAccounts) GetByUserID(ctx context.Context, userID string) (*model.GmailAccount, error) {
	if a, ok := m.accounts[userID]; ok {
		return a, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memGmailAccounts) Delete(ctx context.Context, userID string) error {
	if _, ok := m.accounts[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.accounts, userID)
	return nil
}

type fakeConnector struct {
	identity *mailer.Identity
	err      error
}

func (f *fakeConnector) AuthCodeURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (f *fakeConnector) Exchange(ctx context.Context, code string) (*mailer.Identity, error) {
	return f.identity, f.err
}

type forgettingTransport struct {
	fakeTransport
	forgotten []mailer.Identity
}

func (f *forgettingTransport) Forget(from mailer.Identity) {
	f.forgotten = append(f.forgotten, from)
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestGmailService_ConnectFlow(t *testing.T) {
	rdb, mr := newTestRedis(t)
	accounts := &memGmailAccounts{accounts: map[string]*model.GmailAccount{}}
	connector := &fakeConnector{identity: &mailer.Identity{Address: "owner@gmail.com", RefreshToken: "rt-1"}}
	audit := &memAudit{}
	svc := NewGmailService(accounts, connector, nil, rdb, audit, logger.Nop())
	ctx := context.Background()

	authURL, err := svc.ConnectURL(ctx, "usr_1")
	require.NoError(t, err)
	state := stateFrom(t, authURL)
	require.Len(t, state, 32)
	assert.Equal(t, 10*time.Minute, mr.TTL(oauthStatePrefix+state))

	acct, err := svc.Callback(ctx, state, "code-1", RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "owner@gmail.com", acct.Email)
	assert.Contains(t, audit.actions(), model.AuditActionGmailConnected)

	status, err := svc.Status(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, &GmailStatus{Connected: true, Email: "owner@gmail.com"}, status)

	identity, err := svc.SenderIdentity(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, &mailer.Identity{Address: "owner@gmail.com", RefreshToken: "rt-1"}, identity)

	// The state is single use.
	_, err = svc.Callback(ctx, state, "code-1", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOAuthState)
}

func TestGmailService_CallbackRejectsExpiredState(t *testing.T) {
	rdb, mr := newTestRedis(t)
	svc := NewGmailService(&memGmailAccounts{accounts: map[string]*model.GmailAccount{}}, &fakeConnector{}, nil, rdb, nil, logger.Nop())
	ctx := context.Background()

	authURL, err := svc.ConnectURL(ctx, "usr_1")
	require.NoError(t, err)
	mr.FastForward(11 * time.Minute)

	_, err = svc.Callback(ctx, stateFrom(t, authURL), "code", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOAuthState)

	_, err = svc.Callback(ctx, "", "code", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOAuthState)
}

func TestGmailService_CallbackWithoutRefreshToken(t *testing.T) {
	rdb, _ := newTestRedis(t)
	accounts := &memGmailAccounts{accounts: map[string]*model.GmailAccount{}}
	connector := &fakeConnector{err: mailer.ErrNoRefreshToken}
	svc := NewGmailService(accounts, connector, nil, rdb, nil, logger.Nop())
	ctx := context.Background()

	authURL, err := svc.ConnectURL(ctx, "usr_1")
	require.NoError(t, err)

	_, err = svc.Callback(ctx, stateFrom(t, authURL), "code", RequestMeta{})
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Empty(t, accounts.accounts)
}

func TestGmailService_ExchangeFailure(t *testing.T) {
	rdb, _ := newTestRedis(t)
	connector := &fakeConnector{err: errors.New("invalid_grant")}
	svc := NewGmailService(&memGmailAccounts{accounts: map[string]*model.GmailAccount{}}, connector, nil, rdb, nil, logger.Nop())

	authURL, err := svc.ConnectURL(context.Background(), "usr_1")
	require.NoError(t, err)
	_, err = svc.Callback(context.Background(), stateFrom(t, authURL), "code", RequestMeta{})
	assert.Error(t, err)
}

func TestGmailService_Disconnect(t *testing.T) {
	rdb, _ := newTestRedis(t)
	accounts := &memGmailAccounts{accounts: map[string]*model.GmailAccount{
		"usr_1": {UserID: "usr_1", Email: "owner@gmail.com", RefreshToken: "rt-1"},
	}}
	transport := &forgettingTransport{}
	svc := NewGmailService(accounts, &fakeConnector{}, transport, rdb, nil, logger.Nop())
	ctx := context.Background()

	require.NoError(t, svc.Disconnect(ctx, "usr_1", RequestMeta{}))
	require.NoError(t, svc.Disconnect(ctx, "usr_1", RequestMeta{}))

	assert.Equal(t, []mailer.Identity{{Address: "owner@gmail.com", RefreshToken: "rt-1"}}, transport.forgotten)

	status, err := svc.Status(ctx, "usr_1")
	require.NoError(t, err)
	assert.False(t, status.Connected)

	identity, err := svc.SenderIdentity(ctx, "usr_1")
	require.NoError(t, err)
	assert.Nil(t, identity)
}
