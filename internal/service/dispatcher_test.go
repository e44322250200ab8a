package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_AllSucceed(t *testing.T) {
	f := newDispatchFixture("a@example.com", "b@example.com", "c@example.com")

	res, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, &DispatchResult{Sent: 3, Failed: 0, Total: 3}, res)

	c := f.campaigns.get("cmp_1")
	assert.Equal(t, model.CampaignStatusSent, c.Status)
	assert.Nil(t, c.ScheduledAt)
	assert.Nil(t, c.ListID)

	for i := 0; i < 3; i++ {
		row := f.logs.row("cmp_1", fmt.Sprintf("sub_%d", i))
		assert.Equal(t, model.SendStatusSent, row.Status)
		require.NotNil(t, row.ProviderMessageID)
		assert.NotNil(t, row.SentAt)
		assert.Len(t, row.TrackingToken, tracking.TokenLength)
	}
}

func TestDispatch_MessageIsInstrumented(t *testing.T) {
	f := newDispatchFixture("a@example.com")
	reply := "support@example.com"
	f.campaigns.campaigns["cmp_1"].ReplyTo = &reply

	_, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	require.Equal(t, 1, f.transport.count())

	msg := f.transport.sent[0]
	token := f.logs.row("cmp_1", "sub_0").TrackingToken
	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, "Acme", msg.FromName)
	assert.Equal(t, "support@example.com", msg.ReplyTo)
	assert.Equal(t, "Hello", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "https://track.example.com/t/c/"+token+"?url=https%3A%2F%2Facme.example%2Fp")
	assert.Contains(t, msg.HTMLBody, `src="https://track.example.com/t/o/`+token+`.gif"`)
}

func TestDispatch_AllFail(t *testing.T) {
	f := newDispatchFixture("a@example.com", "b@example.com")
	f.transport.reject["a@example.com"] = errTransportDown
	f.transport.reject["b@example.com"] = errTransportDown

	res, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, model.CampaignStatusFailed, f.campaigns.get("cmp_1").Status)

	row := f.logs.row("cmp_1", "sub_0")
	assert.Equal(t, model.SendStatusFailed, row.Status)
	require.NotNil(t, row.ErrorDetail)
	assert.Equal(t, errTransportDown.Error(), *row.ErrorDetail)
}

func TestDispatch_MixedOutcome(t *testing.T) {
	f := newDispatchFixture("a@example.com", "not-an-address", "c@example.com")
	f.transport.reject["c@example.com"] = errTransportDown

	res, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, &DispatchResult{Sent: 1, Failed: 2, Total: 3}, res)
	assert.Equal(t, model.CampaignStatusSent, f.campaigns.get("cmp_1").Status)

	invalid := f.logs.row("cmp_1", "sub_1")
	assert.Equal(t, model.SendStatusFailed, invalid.Status)
	require.NotNil(t, invalid.ErrorDetail)
	assert.Equal(t, InvalidAddressReason, *invalid.ErrorDetail)
	assert.Equal(t, 1, f.transport.count())
}

func TestDispatch_InvalidAddressNeverReachesTransport(t *testing.T) {
	f := newDispatchFixture("bad@@example.com", "two words@example.com")

	res, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 0, f.transport.count())
	assert.Equal(t, model.CampaignStatusFailed, f.campaigns.get("cmp_1").Status)
}

func TestDispatch_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *dispatchFixture)
		listID  string
		ownerID string
		wantErr error
	}{
		{
			name:    "campaign of another user",
			listID:  "lst_1",
			ownerID: "usr_2",
			wantErr: ErrCampaignNotFound,
		},
		{
			name:    "unknown list",
			listID:  "lst_404",
			ownerID: "usr_1",
			wantErr: ErrListNotFound,
		},
		{
			name: "empty list",
			setup: func(f *dispatchFixture) {
				f.lists.lists["lst_1"] = nil
			},
			listID:  "lst_1",
			ownerID: "usr_1",
			wantErr: ErrListEmpty,
		},
		{
			name: "gmail not connected",
			setup: func(f *dispatchFixture) {
				f.dispatcher.identities = staticIdentity{}
			},
			listID:  "lst_1",
			ownerID: "usr_1",
			wantErr: ErrGmailNotConnected,
		},
		{
			name: "already sending",
			setup: func(f *dispatchFixture) {
				f.campaigns.campaigns["cmp_1"].Status = model.CampaignStatusSending
			},
			listID:  "lst_1",
			ownerID: "usr_1",
			wantErr: ErrCampaignBusy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture("a@example.com")
			if tt.setup != nil {
				tt.setup(f)
			}
			before := f.campaigns.get("cmp_1").Status

			_, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", tt.listID, tt.ownerID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, f.campaigns.get("cmp_1").Status)
			assert.Equal(t, 0, f.transport.count())
			assert.Equal(t, 0, f.logs.count("cmp_1"))
		})
	}
}

func TestDispatch_ResendResetsRows(t *testing.T) {
	f := newDispatchFixture("a@example.com")
	ctx := context.Background()

	_, err := f.dispatcher.Dispatch(ctx, "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	first := f.logs.row("cmp_1", "sub_0")

	f.logs.rows[logKey("cmp_1", "sub_0")].OpenCount = 4

	_, err = f.dispatcher.Dispatch(ctx, "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	second := f.logs.row("cmp_1", "sub_0")

	assert.Equal(t, 1, f.logs.count("cmp_1"))
	assert.NotEqual(t, first.TrackingToken, second.TrackingToken)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, second.OpenCount)
	assert.Equal(t, model.SendStatusSent, second.Status)
}

func TestDispatch_ErrorDetailIsCapped(t *testing.T) {
	f := newDispatchFixture("a@example.com")
	f.transport.reject["a@example.com"] = errors.New(strings.Repeat("é", 2500))

	_, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)

	row := f.logs.row("cmp_1", "sub_0")
	require.NotNil(t, row.ErrorDetail)
	assert.Equal(t, 1800, utf8.RuneCountInString(*row.ErrorDetail))
	assert.True(t, utf8.ValidString(*row.ErrorDetail))
}

func TestDispatch_TokenCollisionRetries(t *testing.T) {
	f := newDispatchFixture("a@example.com", "b@example.com")

	tokens := []string{
		strings.Repeat("a", 32),
		strings.Repeat("a", 32),
		strings.Repeat("b", 32),
	}
	var mu sync.Mutex
	f.dispatcher.newToken = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}

	res, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, strings.Repeat("b", 32), f.logs.row("cmp_1", "sub_1").TrackingToken)
}

func TestDispatch_StoreFailureSkipsSend(t *testing.T) {
	f := newDispatchFixture("a@example.com")
	f.logs.resetErr = errors.New("connection reset")

	res, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, f.transport.count())
	assert.Equal(t, model.CampaignStatusFailed, f.campaigns.get("cmp_1").Status)
}

func TestDispatch_Heartbeat(t *testing.T) {
	var addrs []string
	for i := 0; i < 60; i++ {
		addrs = append(addrs, fmt.Sprintf("r%d@example.com", i))
	}
	f := newDispatchFixture(addrs...)

	_, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.campaigns.touches)
}

func TestDispatch_PanicFinalizesFailed(t *testing.T) {
	f := newDispatchFixture("a@example.com")
	f.transport.panics = true

	_, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, model.CampaignStatusFailed, f.campaigns.get("cmp_1").Status)
}

func TestDispatch_ConcurrentSendsClaimOnce(t *testing.T) {
	f := newDispatchFixture("a@example.com", "b@example.com")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var busy, ok int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatcher.Dispatch(context.Background(), "cmp_1", "lst_1", "usr_1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrCampaignBusy):
				busy++
			}
		}()
	}
	wg.Wait()

	// Passes that finish before another goroutine claims allow a resend, so
	// only the invariant that no two passes overlap is asserted.
	assert.Equal(t, 8, ok+busy)
	assert.GreaterOrEqual(t, ok, 1)
	assert.Equal(t, ok*2, f.transport.count())
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
	assert.Equal(t, "abc", truncateRunes("abc", 0))
}

func TestNewDispatcher_NormalizesBaseURL(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, staticIdentity{}, &fakeTransport{}, testConfig(), logger.Nop())
	assert.Equal(t, "https://track.example.com", d.baseURL)
}
