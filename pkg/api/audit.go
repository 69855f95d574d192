package api

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditService is an append-only sink. Nothing exposes an update or delete
// surface for audit entries.
type AuditService interface {
	Append(ctx context.Context, actor Actor, action, resourceType, resourceId, details string) error
	List(ctx context.Context, actor Actor, limit int) ([]AuditLog, error)
}

type AuditRepository interface {
	AddAuditLog(ctx context.Context, l AuditLog) error
	// ListAuditLogs returns the most recent limit entries, newest first.
	ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error)
}

type auditService struct {
	storage AuditRepository
	policy  Policy
}

func NewAuditService(storage AuditRepository, policy Policy) AuditService {
	return &auditService{storage: storage, policy: policy}
}

func (s *auditService) Append(ctx context.Context, actor Actor, action, resourceType, resourceId, details string) error {
	if action == "" {
		return invalid("action", "must not be empty")
	}
	return s.storage.AddAuditLog(ctx, AuditLog{
		Id:           uuid.NewString(),
		ActorId:      actor.Id,
		ActorName:    actor.Name,
		Action:       action,
		ResourceType: resourceType,
		ResourceId:   resourceId,
		Details:      details,
		Timestamp:    time.Now(),
	})
}

func (s *auditService) List(ctx context.Context, actor Actor, limit int) ([]AuditLog, error) {
	if err := s.policy.Authorize(actor, ActionAuditRead); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.storage.ListAuditLogs(ctx, limit)
}
