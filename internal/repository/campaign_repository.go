package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/model"
)

const campaignColumns = `id, user_id, title, subject, from_name, from_email, reply_to, html,
		       status, scheduled_at, list_id, created_at, updated_at`

// CampaignRepository handles campaign persistence. Every status change is a
// conditional UPDATE so two writers can never both move the same campaign.
type CampaignRepository struct {
	db *database.Postgres
}

// NewCampaignRepository creates a new CampaignRepository
func NewCampaignRepository(db *database.Postgres) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	query := `
		INSERT INTO campaigns (id, user_id, title, subject, from_name, from_email, reply_to, html,
		    status, scheduled_at, list_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.Title,
		c.Subject,
		c.FromName,
		c.FromEmail,
		c.ReplyTo,
		c.HTML,
		c.Status,
		c.ScheduledAt,
		c.ListID,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign owned by userID
func (r *CampaignRepository) GetByID(ctx context.Context, id, userID string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND user_id = $2`
	return scanCampaign(r.db.QueryRowContext(ctx, query, id, userID))
}

// List returns a user's campaigns, newest first
func (r *CampaignRepository) List(ctx context.Context, userID string, filter model.CampaignFilter) ([]*model.Campaign, error) {
	var (
		conds = []string{"user_id = $1"}
		args  = []interface{}{userID}
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR subject ILIKE $%d)", len(args), len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	args = append(args, limit)

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	return r.queryCampaigns(ctx, query, args...)
}

// Update writes content fields while the campaign is still editable
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	query := `
		UPDATE campaigns
		SET title = $3, subject = $4, from_name = $5, reply_to = $6, html = $7, updated_at = $8
		WHERE id = $1 AND user_id = $2 AND status = ANY($9)
	`
	result, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.Title, c.Subject, c.FromName, c.ReplyTo, c.HTML, c.UpdatedAt,
		statusArray(model.CampaignStatusDraft, model.CampaignStatusScheduled),
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return requireOne(result)
}

// Delete removes a campaign and, by cascade, its send logs. A campaign in
// the middle of a pass is left alone.
func (r *CampaignRepository) Delete(ctx context.Context, id, userID string) error {
	query := `DELETE FROM campaigns WHERE id = $1 AND user_id = $2 AND status <> $3`
	result, err := r.db.ExecContext(ctx, query, id, userID, model.CampaignStatusSending)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	return requireOne(result)
}

// Claim moves the campaign to sending if its current status is one of
// from. It reports false when another writer got there first.
func (r *CampaignRepository) Claim(ctx context.Context, id, userID string, from []model.CampaignStatus, at time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2 AND status = ANY($5)
	`
	result, err := r.db.ExecContext(ctx, query, id, userID, model.CampaignStatusSending, at, statusArray(from...))
	if err != nil {
		return false, fmt.Errorf("failed to claim campaign: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim campaign: %w", err)
	}
	return n == 1, nil
}

// Finish records the outcome of a pass and clears the schedule
func (r *CampaignRepository) Finish(ctx context.Context, id string, status model.CampaignStatus, at time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $2, scheduled_at = NULL, list_id = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, id, status, at, model.CampaignStatusSending)
	if err != nil {
		return fmt.Errorf("failed to finish campaign: %w", err)
	}
	return requireOne(result)
}

// Touch refreshes updated_at of a sending campaign
func (r *CampaignRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE campaigns SET updated_at = $2 WHERE id = $1 AND status = $3`
	if _, err := r.db.ExecContext(ctx, query, id, at, model.CampaignStatusSending); err != nil {
		return fmt.Errorf("failed to touch campaign: %w", err)
	}
	return nil
}

// Schedule sets a future dispatch for a draft or scheduled campaign
func (r *CampaignRepository) Schedule(ctx context.Context, id, userID, listID string, when, at time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $3, scheduled_at = $4, list_id = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2 AND status = ANY($7)
	`
	result, err := r.db.ExecContext(ctx, query,
		id, userID, model.CampaignStatusScheduled, when, listID, at,
		statusArray(model.CampaignStatusDraft, model.CampaignStatusScheduled),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule campaign: %w", err)
	}
	return requireOne(result)
}

// Cancel returns a scheduled campaign to draft
func (r *CampaignRepository) Cancel(ctx context.Context, id, userID string, at time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $3, scheduled_at = NULL, list_id = NULL, updated_at = $4
		WHERE id = $1 AND user_id = $2 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		id, userID, model.CampaignStatusDraft, at, model.CampaignStatusScheduled,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel campaign: %w", err)
	}
	return requireOne(result)
}

// ListDue returns up to limit scheduled campaigns whose time has come,
// earliest first
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3`
	return r.queryCampaigns(ctx, query, model.CampaignStatusScheduled, now, limit)
}

// ListStaleSending returns sending campaigns without a heartbeat since before
func (r *CampaignRepository) ListStaleSending(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	return r.queryCampaigns(ctx, query, model.CampaignStatusSending, before)
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string, args ...interface{}) ([]*model.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}
	return campaigns, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Title,
		&c.Subject,
		&c.FromName,
		&c.FromEmail,
		&c.ReplyTo,
		&c.HTML,
		&c.Status,
		&c.ScheduledAt,
		&c.ListID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}
	return &c, nil
}

func statusArray(statuses ...model.CampaignStatus) interface{} {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

// requireOne maps a conditional write that touched nothing to ErrStateChanged
func requireOne(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStateChanged
	}
	return nil
}
