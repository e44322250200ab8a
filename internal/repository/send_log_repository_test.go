package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedEntry() *model.SendLog {
	return &model.SendLog{
		ID:            "sl1",
		CampaignID:    "c1",
		SubscriberID:  "s1",
		Email:         "a@x.com",
		Status:        model.SendStatusQueued,
		TrackingToken: "0123456789abcdef0123456789abcdef",
		CreatedAt:     time.Now(),
	}
}

func TestSendLogRepository_Reset(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSendLogRepository(db)
	entry := queuedEntry()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM send_logs WHERE campaign_id = $1 AND subscriber_id = $2")).
		WithArgs("c1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO send_logs")).
		WithArgs("sl1", "c1", "s1", "a@x.com", model.SendStatusQueued, entry.TrackingToken, nil, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Reset(context.Background(), entry))
}

func TestSendLogRepository_Reset_TokenCollision(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSendLogRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM send_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO send_logs")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Reset(context.Background(), queuedEntry())
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSendLogRepository_RecordOpen(t *testing.T) {
	at := time.Now()

	t.Run("known token", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSendLogRepository(db)

		mock.ExpectExec(exactSQL(`UPDATE send_logs
			SET open_count = open_count + 1, first_opened_at = COALESCE(first_opened_at, $2)
			WHERE tracking_token = $1`)).
			WithArgs("tok", at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		known, err := repo.RecordOpen(context.Background(), "tok", at)
		require.NoError(t, err)
		assert.True(t, known)
	})

	t.Run("unknown token", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewSendLogRepository(db)

		mock.ExpectExec(regexp.QuoteMeta("open_count = open_count + 1")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		known, err := repo.RecordOpen(context.Background(), "nope", at)
		require.NoError(t, err)
		assert.False(t, known)
	})
}

func TestSendLogRepository_RecordClick(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSendLogRepository(db)
	at := time.Now()

	mock.ExpectExec(exactSQL(`UPDATE send_logs
		SET click_count = click_count + 1, last_clicked_at = $2
		WHERE tracking_token = $1`)).
		WithArgs("tok", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	known, err := repo.RecordClick(context.Background(), "tok", at)
	require.NoError(t, err)
	assert.True(t, known)
}

func TestSendLogRepository_StatsByCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSendLogRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM send_logs sl WHERE sl.campaign_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g"}).
			AddRow(2, 1, 0, 1, 4, 1, 1))

	stats, err := repo.StatsByCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStats{
		CampaignID: "c1", Sent: 2, Failed: 1, OpenedUnique: 1, TotalOpens: 4, ClickedUnique: 1, TotalClicks: 1,
	}, *stats)
}

func TestSendLogRepository_FailQueued(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSendLogRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE send_logs SET status = $3, error_detail = $4")).
		WithArgs("c1", model.SendStatusQueued, model.SendStatusFailed, "dispatch interrupted").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.FailQueued(context.Background(), "c1", "dispatch interrupted")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
