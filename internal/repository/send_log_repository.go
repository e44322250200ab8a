package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/model"
)

// SendLogRepository stores per recipient delivery and engagement rows.
// Engagement updates are single-statement increments so concurrent opens
// and clicks never lose counts.
type SendLogRepository struct {
	db *database.Postgres
}

// NewSendLogRepository creates a new SendLogRepository
func NewSendLogRepository(db *database.Postgres) *SendLogRepository {
	return &SendLogRepository{db: db}
}

// Reset replaces the row for (campaign, subscriber) with entry, dropping
// any previous token and counters. A tracking token collision returns
// ErrDuplicate and leaves the old row in place.
func (r *SendLogRepository) Reset(ctx context.Context, entry *model.SendLog) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM send_logs WHERE campaign_id = $1 AND subscriber_id = $2`,
		entry.CampaignID, entry.SubscriberID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear send log: %w", err)
	}

	query := `
		INSERT INTO send_logs (id, campaign_id, subscriber_id, email, status,
		    tracking_token, error_detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, query,
		entry.ID,
		entry.CampaignID,
		entry.SubscriberID,
		entry.Email,
		entry.Status,
		entry.TrackingToken,
		entry.ErrorDetail,
		entry.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert send log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkSent records a successful handoff to the transport
func (r *SendLogRepository) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	query := `
		UPDATE send_logs
		SET status = $2, provider_message_id = NULLIF($3, ''), sent_at = $4, error_detail = NULL
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, model.SendStatusSent, providerMessageID, at)
	if err != nil {
		return fmt.Errorf("failed to mark send log sent: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed attempt with its error detail
func (r *SendLogRepository) MarkFailed(ctx context.Context, id, detail string) error {
	query := `UPDATE send_logs SET status = $2, error_detail = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, model.SendStatusFailed, detail)
	if err != nil {
		return fmt.Errorf("failed to mark send log failed: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordOpen counts an open for token. It reports whether the token is known.
func (r *SendLogRepository) RecordOpen(ctx context.Context, token string, at time.Time) (bool, error) {
	query := `
		UPDATE send_logs
		SET open_count = open_count + 1,
		    first_opened_at = COALESCE(first_opened_at, $2)
		WHERE tracking_token = $1
	`
	result, err := r.db.ExecContext(ctx, query, token, at)
	if err != nil {
		return false, fmt.Errorf("failed to record open: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

// RecordClick counts a click for token. It reports whether the token is known.
func (r *SendLogRepository) RecordClick(ctx context.Context, token string, at time.Time) (bool, error) {
	query := `
		UPDATE send_logs
		SET click_count = click_count + 1,
		    last_clicked_at = $2
		WHERE tracking_token = $1
	`
	result, err := r.db.ExecContext(ctx, query, token, at)
	if err != nil {
		return false, fmt.Errorf("failed to record click: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

// FailQueued marks every queued row of a campaign as failed
func (r *SendLogRepository) FailQueued(ctx context.Context, campaignID, detail string) (int64, error) {
	query := `UPDATE send_logs SET status = $3, error_detail = $4 WHERE campaign_id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, campaignID, model.SendStatusQueued, model.SendStatusFailed, detail)
	if err != nil {
		return 0, fmt.Errorf("failed to fail queued send logs: %w", err)
	}
	return result.RowsAffected()
}

// ListByCampaign returns the newest rows of a campaign
func (r *SendLogRepository) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.SendLog, error) {
	query := `
		SELECT id, campaign_id, subscriber_id, email, status, tracking_token, provider_message_id,
		       open_count, first_opened_at, click_count, last_clicked_at, sent_at, error_detail, created_at
		FROM send_logs
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list send logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.SendLog
	for rows.Next() {
		var l model.SendLog
		err := rows.Scan(
			&l.ID,
			&l.CampaignID,
			&l.SubscriberID,
			&l.Email,
			&l.Status,
			&l.TrackingToken,
			&l.ProviderMessageID,
			&l.OpenCount,
			&l.FirstOpenedAt,
			&l.ClickCount,
			&l.LastClickedAt,
			&l.SentAt,
			&l.ErrorDetail,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan send log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// statsColumns builds the aggregate select list over send_logs aliased as t
func statsColumns(t string) string {
	return fmt.Sprintf(`
		COUNT(*) FILTER (WHERE %[1]s.status = 'sent'),
		COUNT(*) FILTER (WHERE %[1]s.status = 'failed'),
		COUNT(*) FILTER (WHERE %[1]s.status = 'queued'),
		COUNT(*) FILTER (WHERE %[1]s.open_count > 0),
		COALESCE(SUM(%[1]s.open_count), 0),
		COUNT(*) FILTER (WHERE %[1]s.click_count > 0),
		COALESCE(SUM(%[1]s.click_count), 0)`, t)
}

// StatsByCampaign aggregates the rows of one campaign
func (r *SendLogRepository) StatsByCampaign(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	query := `SELECT` + statsColumns("sl") + ` FROM send_logs sl WHERE sl.campaign_id = $1`
	stats := model.CampaignStats{CampaignID: campaignID}
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(
		&stats.Sent,
		&stats.Failed,
		&stats.Queued,
		&stats.OpenedUnique,
		&stats.TotalOpens,
		&stats.ClickedUnique,
		&stats.TotalClicks,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate send logs: %w", err)
	}
	return &stats, nil
}

// StatsByUser aggregates every campaign of a user that has rows, keyed by
// campaign id
func (r *SendLogRepository) StatsByUser(ctx context.Context, userID string) (map[string]model.CampaignStats, error) {
	query := `SELECT sl.campaign_id,` + statsColumns("sl") + `
		FROM send_logs sl
		JOIN campaigns c ON c.id = sl.campaign_id
		WHERE c.user_id = $1
		GROUP BY sl.campaign_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate send logs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.CampaignStats)
	for rows.Next() {
		var s model.CampaignStats
		err := rows.Scan(
			&s.CampaignID,
			&s.Sent,
			&s.Failed,
			&s.Queued,
			&s.OpenedUnique,
			&s.TotalOpens,
			&s.ClickedUnique,
			&s.TotalClicks,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		out[s.CampaignID] = s
	}
	return out, rows.Err()
}
