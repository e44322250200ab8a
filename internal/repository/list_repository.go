package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/model"
)

// ListRepository handles mailing lists and their memberships
type ListRepository struct {
	db *database.Postgres
}

// NewListRepository creates a new ListRepository
func NewListRepository(db *database.Postgres) *ListRepository {
	return &ListRepository{db: db}
}

// Create inserts a new list
func (r *ListRepository) Create(ctx context.Context, list *model.List) error {
	query := `INSERT INTO lists (id, user_id, name, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, list.ID, list.UserID, list.Name, list.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	return nil
}

// GetByID returns a list owned by userID
func (r *ListRepository) GetByID(ctx context.Context, id, userID string) (*model.List, error) {
	query := `
		SELECT l.id, l.user_id, l.name, l.created_at,
		       (SELECT COUNT(*) FROM list_subscribers ls WHERE ls.list_id = l.id)
		FROM lists l
		WHERE l.id = $1 AND l.user_id = $2
	`
	var list model.List
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&list.ID, &list.UserID, &list.Name, &list.CreatedAt, &list.MemberCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return &list, nil
}

// ListByUser returns all lists of a user, newest first
func (r *ListRepository) ListByUser(ctx context.Context, userID string) ([]*model.List, error) {
	query := `
		SELECT l.id, l.user_id, l.name, l.created_at, COUNT(ls.subscriber_id)
		FROM lists l
		LEFT JOIN list_subscribers ls ON ls.list_id = l.id
		WHERE l.user_id = $1
		GROUP BY l.id
		ORDER BY l.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	defer rows.Close()

	var lists []*model.List
	for rows.Next() {
		var list model.List
		if err := rows.Scan(&list.ID, &list.UserID, &list.Name, &list.CreatedAt, &list.MemberCount); err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		lists = append(lists, &list)
	}
	return lists, rows.Err()
}

// Delete removes a list owned by userID
func (r *ListRepository) Delete(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lists WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember finds or creates the subscriber by email and links it to the
// list. Linking an existing member is a no-op. The stored subscriber is
// returned.
func (r *ListRepository) AddMember(ctx context.Context, listID string, sub *model.Subscriber) (*model.Subscriber, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO subscribers (id, email, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO UPDATE
		SET name = COALESCE(EXCLUDED.name, subscribers.name),
		    updated_at = EXCLUDED.updated_at
		RETURNING id, email, name, status, created_at, updated_at
	`
	var stored model.Subscriber
	err = tx.QueryRowContext(ctx, upsert, sub.ID, sub.Email, sub.Name, model.SubscriberStatusActive, sub.CreatedAt).Scan(
		&stored.ID, &stored.Email, &stored.Name, &stored.Status, &stored.CreatedAt, &stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscriber: %w", err)
	}

	link := `
		INSERT INTO list_subscribers (list_id, subscriber_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_id, subscriber_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, link, listID, stored.ID, sub.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to link subscriber: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &stored, nil
}

// UpdateMember changes the address and, when set, the name of a subscriber
// that belongs to the list. The change is global: every list sharing the
// subscriber sees it. ErrNotFound means the subscriber is not a member and
// ErrDuplicate means another subscriber already has the address.
func (r *ListRepository) UpdateMember(ctx context.Context, listID string, sub *model.Subscriber) (*model.Subscriber, error) {
	query := `
		UPDATE subscribers s
		SET email = $3, name = COALESCE($4, s.name), updated_at = $5
		FROM list_subscribers ls
		WHERE s.id = $2 AND ls.subscriber_id = s.id AND ls.list_id = $1
		RETURNING s.id, s.email, s.name, s.status, s.created_at, s.updated_at
	`
	var stored model.Subscriber
	err := r.db.QueryRowContext(ctx, query, listID, sub.ID, sub.Email, sub.Name, sub.UpdatedAt).Scan(
		&stored.ID, &stored.Email, &stored.Name, &stored.Status, &stored.CreatedAt, &stored.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to update member: %w", err)
	}
	return &stored, nil
}

// RemoveMember unlinks a subscriber from a list
func (r *ListRepository) RemoveMember(ctx context.Context, listID, subscriberID string) error {
	query := `DELETE FROM list_subscribers WHERE list_id = $1 AND subscriber_id = $2`
	result, err := r.db.ExecContext(ctx, query, listID, subscriberID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers returns the subscribers of a list in insertion order
func (r *ListRepository) ListMembers(ctx context.Context, listID string) ([]*model.Subscriber, error) {
	query := `
		SELECT s.id, s.email, s.name, s.status, s.created_at, s.updated_at
		FROM list_subscribers ls
		JOIN subscribers s ON s.id = ls.subscriber_id
		WHERE ls.list_id = $1
		ORDER BY ls.added_at, s.id
	`
	rows, err := r.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscriber
	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.Name, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

// ResolveRecipients returns the active members of a list owned by ownerID,
// in insertion order with case-insensitive duplicate addresses collapsed.
// A list that does not exist or belongs to someone else yields ErrNotFound.
func (r *ListRepository) ResolveRecipients(ctx context.Context, listID, ownerID string) ([]model.Recipient, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM lists WHERE id = $1 AND user_id = $2)`,
		listID, ownerID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check list: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	query := `
		SELECT s.id, s.email, COALESCE(s.name, '')
		FROM list_subscribers ls
		JOIN subscribers s ON s.id = ls.subscriber_id
		WHERE ls.list_id = $1 AND s.status = $2
		ORDER BY ls.added_at, s.id
	`
	rows, err := r.db.QueryContext(ctx, query, listID, model.SubscriberStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var recipients []model.Recipient
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.SubscriberID, &rc.Email, &rc.Name); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		key := strings.ToLower(strings.TrimSpace(rc.Email))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		recipients = append(recipients, rc)
	}
	return recipients, rows.Err()
}
