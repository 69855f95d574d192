package api

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// TaskBroadcastFanout is the queue task that turns one broadcast record
// into per-user notifications. Its payload is the json-encoded Broadcast.
const TaskBroadcastFanout = "broadcast:fanout"

// Enqueuer hands work to the background queue. The asynq client adapter is
// the production implementation.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload []byte) error
}

// AudienceResolver maps a broadcast audience onto concrete recipient ids.
// The relational user directory is the production implementation; the core
// never queries roles itself.
type AudienceResolver interface {
	Recipients(ctx context.Context, audience Audience) ([]string, error)
}

type BroadcastService interface {
	// Send persists the record of intent first, then enqueues delivery.
	// The record survives a delivery failure so the history stays auditable.
	Send(ctx context.Context, actor Actor, b Broadcast) (Broadcast, error)
	List(ctx context.Context, limit int) ([]Broadcast, error)
	// Delete removes only the historical record; delivered notifications
	// are never retracted.
	Delete(ctx context.Context, actor Actor, id string) error
}

type BroadcastRepository interface {
	AddBroadcast(ctx context.Context, b Broadcast) error
	// ListBroadcasts returns the most recent limit records, newest first.
	ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error)
	DeleteBroadcast(ctx context.Context, id string) error
}

type broadcastService struct {
	storage BroadcastRepository
	queue   Enqueuer
	policy  Policy
	audit   AuditService
}

func NewBroadcastService(storage BroadcastRepository, queue Enqueuer, policy Policy, audit AuditService) BroadcastService {
	return &broadcastService{storage: storage, queue: queue, policy: policy, audit: audit}
}

func (s *broadcastService) Send(ctx context.Context, actor Actor, b Broadcast) (Broadcast, error) {
	if err := s.policy.Authorize(actor, ActionBroadcastSend); err != nil {
		return Broadcast{}, err
	}
	if b.Title == "" {
		return Broadcast{}, invalid("title", "must not be empty")
	}
	if b.Message == "" {
		return Broadcast{}, invalid("message", "must not be empty")
	}
	switch b.Audience {
	case AudienceAll, AudienceEmployees, AudienceCitizens:
	default:
		return Broadcast{}, invalid("audience", "must be all, employees or citizens")
	}

	b.Id = uuid.NewString()
	b.SentBy = actor.Id
	b.Timestamp = time.Now()

	if err := s.storage.AddBroadcast(ctx, b); err != nil {
		return Broadcast{}, err
	}
	if err := s.audit.Append(ctx, actor, "broadcast.send", "broadcast", b.Id, b.Title); err != nil {
		log.Printf("Unable to append audit entry: %v", err)
	}

	payload, err := json.Marshal(b)
	if err != nil {
		return Broadcast{}, err
	}
	if err := s.queue.Enqueue(ctx, TaskBroadcastFanout, payload); err != nil {
		// The record is already persisted; the caller sees the delivery
		// failure and can re-trigger fan-out manually.
		log.Printf("Unable to enqueue fan-out for broadcast %s: %v", b.Id, err)
		return b, err
	}

	return b, nil
}

func (s *broadcastService) List(ctx context.Context, limit int) ([]Broadcast, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.storage.ListBroadcasts(ctx, limit)
}

func (s *broadcastService) Delete(ctx context.Context, actor Actor, id string) error {
	if err := s.policy.Authorize(actor, ActionBroadcastDelete); err != nil {
		return err
	}
	if err := s.storage.DeleteBroadcast(ctx, id); err != nil {
		return err
	}
	if err := s.audit.Append(ctx, actor, "broadcast.delete", "broadcast", id, ""); err != nil {
		log.Printf("Unable to append audit entry: %v", err)
	}
	return nil
}
