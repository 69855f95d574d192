package api

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

type AlertService interface {
	// Create rejects with ErrAlertActive while another alert is active; two
	// concurrent creates can never both succeed.
	Create(ctx context.Context, actor Actor, title, message string, level AlertLevel) (EmergencyAlert, error)
	// Resolve deactivates the alert and stamps resolvedAt. Resolving an
	// already resolved alert is a no-op.
	Resolve(ctx context.Context, actor Actor, id string) (EmergencyAlert, error)
	// Active returns nil when no alert is active.
	Active(ctx context.Context) (*EmergencyAlert, error)
	List(ctx context.Context) ([]EmergencyAlert, error)
	// Delete permanently removes a history entry, active ones included; an
	// active entry's banner is cleared without a resolve.
	Delete(ctx context.Context, actor Actor, id string) error
}

type AlertRepository interface {
	// CreateActiveAlert inserts a inside a transaction that first checks no
	// other alert is active, returning ErrAlertActive otherwise.
	CreateActiveAlert(ctx context.Context, a EmergencyAlert) error
	// ResolveAlert flips isActive and stamps resolvedAt, idempotently, and
	// returns the stored alert. The boolean reports whether this call
	// changed state; a repeat resolve is a silent no-op.
	ResolveAlert(ctx context.Context, id string, at time.Time) (EmergencyAlert, bool, error)
	// GetActiveAlert returns nil when none is active.
	GetActiveAlert(ctx context.Context) (*EmergencyAlert, error)
	// ListAlerts returns full history newest first.
	ListAlerts(ctx context.Context) ([]EmergencyAlert, error)
	// DeleteAlert removes the entry and returns what was removed.
	DeleteAlert(ctx context.Context, id string) (EmergencyAlert, error)
}

type alertService struct {
	storage AlertRepository
	policy  Policy
	audit   AuditService
	pub     Publisher
}

func NewAlertService(storage AlertRepository, policy Policy, audit AuditService, pub Publisher) AlertService {
	return &alertService{storage: storage, policy: policy, audit: audit, pub: pub}
}

func (s *alertService) Create(ctx context.Context, actor Actor, title, message string, level AlertLevel) (EmergencyAlert, error) {
	if err := s.policy.Authorize(actor, ActionAlertCreate); err != nil {
		return EmergencyAlert{}, err
	}
	if title == "" {
		return EmergencyAlert{}, invalid("title", "must not be empty")
	}
	switch level {
	case AlertInfo, AlertWarning, AlertCritical:
	default:
		return EmergencyAlert{}, invalid("level", "must be info, warning or critical")
	}

	alert := EmergencyAlert{
		Id:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Level:     level,
		IsActive:  true,
		CreatedBy: actor.Id,
		CreatedAt: time.Now(),
	}
	if err := s.storage.CreateActiveAlert(ctx, alert); err != nil {
		return EmergencyAlert{}, err
	}

	s.pub.Publish(Event{Topic: TopicAlerts, Type: EventAlertCreated, Payload: alert})
	if err := s.audit.Append(ctx, actor, "alert.create", "alert", alert.Id, title); err != nil {
		log.Printf("Unable to append audit entry: %v", err)
	}
	return alert, nil
}

func (s *alertService) Resolve(ctx context.Context, actor Actor, id string) (EmergencyAlert, error) {
	if err := s.policy.Authorize(actor, ActionAlertResolve); err != nil {
		return EmergencyAlert{}, err
	}

	alert, changed, err := s.storage.ResolveAlert(ctx, id, time.Now())
	if err != nil {
		return EmergencyAlert{}, err
	}
	if !changed {
		// Already resolved; no second banner-clear push.
		return alert, nil
	}

	s.pub.Publish(Event{Topic: TopicAlerts, Type: EventAlertResolved, Payload: alert})
	if err := s.audit.Append(ctx, actor, "alert.resolve", "alert", id, ""); err != nil {
		log.Printf("Unable to append audit entry: %v", err)
	}
	return alert, nil
}

func (s *alertService) Active(ctx context.Context) (*EmergencyAlert, error) {
	return s.storage.GetActiveAlert(ctx)
}

func (s *alertService) List(ctx context.Context) ([]EmergencyAlert, error) {
	return s.storage.ListAlerts(ctx)
}

func (s *alertService) Delete(ctx context.Context, actor Actor, id string) error {
	if err := s.policy.Authorize(actor, ActionAlertDelete); err != nil {
		return err
	}

	removed, err := s.storage.DeleteAlert(ctx, id)
	if err != nil {
		return err
	}
	if removed.IsActive {
		s.pub.Publish(Event{Topic: TopicAlerts, Type: EventAlertCleared, Payload: id})
	}

	if err := s.audit.Append(ctx, actor, "alert.delete", "alert", id, ""); err != nil {
		log.Printf("Unable to append audit entry: %v", err)
	}
	return nil
}
