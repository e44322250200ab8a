package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/model"
)

// AuditStore persists audit entries
type AuditStore interface {
	Create(ctx context.Context, log *model.AuditLog) error
}

// RequestMeta identifies the client behind an audited action
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// auditor writes audit entries on behalf of a service. A failed write is
// logged and never fails the audited operation.
type auditor struct {
	store AuditStore
	log   *logger.Logger
}

func (a auditor) record(ctx context.Context, userID, action, resourceType, resourceID string, meta RequestMeta, metadata map[string]interface{}) {
	a.log.AuditLog(userID, action, resourceType, resourceID, metadata)
	if a.store == nil {
		return
	}
	entry := &model.AuditLog{
		ID:           generateID("aud"),
		Action:       action,
		ResourceType: optional(resourceType),
		ResourceID:   optional(resourceID),
		IPAddress:    optional(meta.IPAddress),
		UserAgent:    optional(meta.UserAgent),
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	}
	entry.UserID = optional(userID)

	if err := a.store.Create(ctx, entry); err != nil {
		a.log.Error().Err(err).Str("action", action).Msg("failed to create audit log")
	}
}

// Helper functions

func generateID(prefix string) string {
	id := uuid.New().String()
	// Remove hyphens and take first 26 chars to fit varchar(32) with prefix
	clean := strings.ReplaceAll(id, "-", "")
	if len(prefix) > 0 {
		return prefix + "_" + clean[:min(26, len(clean))]
	}
	return clean
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
