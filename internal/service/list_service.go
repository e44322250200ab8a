package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailchymp/mailchymp/internal/auth"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/repository"
)

// List errors
var (
	ErrInvalidListName   = errors.New("list name is required")
	ErrInvalidSubscriber = errors.New("subscriber email is not valid")
	ErrMemberNotFound    = errors.New("subscriber is not a member of this list")
	ErrSubscriberExists  = errors.New("another subscriber already uses this email")
)

// ListRepo is the list persistence the service needs
type ListRepo interface {
	Create(ctx context.Context, list *model.List) error
	GetByID(ctx context.Context, id, userID string) (*model.List, error)
	ListByUser(ctx context.Context, userID string) ([]*model.List, error)
	Delete(ctx context.Context, id, userID string) error
	AddMember(ctx context.Context, listID string, sub *model.Subscriber) (*model.Subscriber, error)
	UpdateMember(ctx context.Context, listID string, sub *model.Subscriber) (*model.Subscriber, error)
	RemoveMember(ctx context.Context, listID, subscriberID string) error
	ListMembers(ctx context.Context, listID string) ([]*model.Subscriber, error)
}

// ListService manages recipient lists
type ListService struct {
	lists ListRepo
	now   func() time.Time
	log   *logger.Logger
}

// NewListService creates a new ListService
func NewListService(lists ListRepo, log *logger.Logger) *ListService {
	return &ListService{
		lists: lists,
		now:   time.Now,
		log:   log.WithComponent("list_service"),
	}
}

// Create adds an empty list
func (s *ListService) Create(ctx context.Context, ownerID, name string) (*model.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidListName
	}

	list := &model.List{
		ID:        generateID("lst"),
		UserID:    ownerID,
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.lists.Create(ctx, list); err != nil {
		return nil, fmt.Errorf("failed to create list: %w", err)
	}
	return list, nil
}

// Get returns one of the owner's lists
func (s *ListService) Get(ctx context.Context, ownerID, id string) (*model.List, error) {
	list, err := s.lists.GetByID(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrListNotFound
		}
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return list, nil
}

// List returns the owner's lists
func (s *ListService) List(ctx context.Context, ownerID string) ([]*model.List, error) {
	lists, err := s.lists.ListByUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	return lists, nil
}

// Delete removes a list. Subscribers stay, only the memberships go.
func (s *ListService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.lists.Delete(ctx, id, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrListNotFound
		}
		return fmt.Errorf("failed to delete list: %w", err)
	}
	return nil
}

// Members returns the subscribers of one of the owner's lists
func (s *ListService) Members(ctx context.Context, ownerID, listID string) ([]*model.Subscriber, error) {
	if _, err := s.Get(ctx, ownerID, listID); err != nil {
		return nil, err
	}
	subs, err := s.lists.ListMembers(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return subs, nil
}

// AddMember links the subscriber with this email to the list, creating the
// subscriber on first sight. Adding an existing member is a no-op.
func (s *ListService) AddMember(ctx context.Context, ownerID, listID, email, name string) (*model.Subscriber, error) {
	email = auth.NormalizeEmail(email)
	if !auth.IsValidEmail(email) {
		return nil, ErrInvalidSubscriber
	}
	if _, err := s.Get(ctx, ownerID, listID); err != nil {
		return nil, err
	}

	sub := &model.Subscriber{
		ID:        generateID("sub"),
		Email:     email,
		Name:      optional(strings.TrimSpace(name)),
		Status:    model.SubscriberStatusActive,
		CreatedAt: s.now(),
	}
	stored, err := s.lists.AddMember(ctx, listID, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return stored, nil
}

// UpdateMember changes a member's email, and its name when name is non-nil.
// Subscribers are shared across lists, so the edit applies everywhere, but
// it is only allowed through a list the subscriber belongs to.
func (s *ListService) UpdateMember(ctx context.Context, ownerID, listID, subscriberID, email string, name *string) (*model.Subscriber, error) {
	email = auth.NormalizeEmail(email)
	if !auth.IsValidEmail(email) {
		return nil, ErrInvalidSubscriber
	}
	if _, err := s.Get(ctx, ownerID, listID); err != nil {
		return nil, err
	}

	sub := &model.Subscriber{
		ID:        subscriberID,
		Email:     email,
		UpdatedAt: s.now(),
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		sub.Name = &trimmed
	}

	stored, err := s.lists.UpdateMember(ctx, listID, sub)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrMemberNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrSubscriberExists
		}
		return nil, fmt.Errorf("failed to update member: %w", err)
	}
	return stored, nil
}

// RemoveMember unlinks a subscriber from one of the owner's lists
func (s *ListService) RemoveMember(ctx context.Context, ownerID, listID, subscriberID string) error {
	if _, err := s.Get(ctx, ownerID, listID); err != nil {
		return err
	}
	if err := s.lists.RemoveMember(ctx, listID, subscriberID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}
