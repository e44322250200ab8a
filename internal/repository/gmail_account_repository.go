package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/model"
)

// GmailAccountRepository persists connected sender mailboxes
type GmailAccountRepository struct {
	db *database.Postgres
}

// NewGmailAccountRepository creates a new GmailAccountRepository
func NewGmailAccountRepository(db *database.Postgres) *GmailAccountRepository {
	return &GmailAccountRepository{db: db}
}

// Upsert stores the mailbox for a user, replacing any previous connection
func (r *GmailAccountRepository) Upsert(ctx context.Context, acct *model.GmailAccount) error {
	query := `
		INSERT INTO gmail_accounts (user_id, email, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email,
		    refresh_token = EXCLUDED.refresh_token,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, acct.UserID, acct.Email, acct.RefreshToken, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert gmail account: %w", err)
	}
	return nil
}

// GetByUserID returns the user's mailbox or ErrNotFound
func (r *GmailAccountRepository) GetByUserID(ctx context.Context, userID string) (*model.GmailAccount, error) {
	query := `
		SELECT user_id, email, refresh_token, created_at, updated_at
		FROM gmail_accounts
		WHERE user_id = $1
	`
	var acct model.GmailAccount
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&acct.UserID,
		&acct.Email,
		&acct.RefreshToken,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gmail account: %w", err)
	}
	return &acct, nil
}

// Delete removes the user's mailbox
func (r *GmailAccountRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM gmail_accounts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete gmail account: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
