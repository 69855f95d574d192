package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	jsonPatch "github.com/evanphx/json-patch/v5"
)

type ConversationService interface {
	GetOrCreate(ctx context.Context, participantId, name, email string) (Conversation, error)
	List(ctx context.Context, actor Actor) ([]Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	MarkAsRead(ctx context.Context, actor Actor, id string) error
	Close(ctx context.Context, actor Actor, id string) error
	Patch(ctx context.Context, actor Actor, id string, patchJSON []byte) (Conversation, error)
	Delete(ctx context.Context, actor Actor, id string) error
	PruneInactive(ctx context.Context, actor Actor, olderThan time.Duration) (int, error)
}

type ConversationRepository interface {
	// UpsertConversation creates the conversation when absent, keyed by
	// ParticipantId, and returns the stored document either way. On create
	// lastMessageAt is server-assigned, so a fresh conversation never sorts
	// ahead of real traffic under clock skew. On an existing document only
	// blank participantName/participantEmail are refreshed. The boolean
	// reports whether a document was created.
	UpsertConversation(ctx context.Context, c Conversation) (Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ListConversations returns all conversations ordered by lastMessageAt
	// descending.
	ListConversations(ctx context.Context) ([]Conversation, error)
	// ListInactiveSince returns ids of conversations whose lastMessageAt is
	// before cutoff.
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error)
	SetConversationStatus(ctx context.Context, id string, status ConversationStatus) error
	ResetUnread(ctx context.Context, id string) error
	// DeleteConversation removes the conversation and cascades deletion of
	// its messages.
	DeleteConversation(ctx context.Context, id string) error
}

type conversationService struct {
	storage ConversationRepository
	policy  Policy
	audit   AuditService
	pub     Publisher
}

func NewConversationService(storage ConversationRepository, policy Policy, audit AuditService, pub Publisher) ConversationService {
	return &conversationService{storage: storage, policy: policy, audit: audit, pub: pub}
}

func (s *conversationService) GetOrCreate(ctx context.Context, participantId, name, email string) (Conversation, error) {
	if participantId == "" {
		return Conversation{}, invalid("participantId", "must not be empty")
	}

	conversation, created, err := s.storage.UpsertConversation(ctx, Conversation{
		Id:               participantId,
		ParticipantId:    participantId,
		ParticipantName:  name,
		ParticipantEmail: email,
		Status:           ConversationOpen,
	})
	if err != nil {
		return Conversation{}, err
	}

	if created {
		s.pub.Publish(Event{Topic: TopicStaffConversations, Type: EventConversationUpdated, Payload: conversation})
	}

	return conversation, nil
}

func (s *conversationService) List(ctx context.Context, actor Actor) ([]Conversation, error) {
	if err := s.policy.Authorize(actor, ActionConversationRead); err != nil {
		return nil, err
	}
	return s.storage.ListConversations(ctx)
}

func (s *conversationService) Get(ctx context.Context, id string) (Conversation, error) {
	return s.storage.GetConversation(ctx, id)
}

func (s *conversationService) MarkAsRead(ctx context.Context, actor Actor, id string) error {
	if err := s.policy.Authorize(actor, ActionConversationRead); err != nil {
		return err
	}
	if err := s.storage.ResetUnread(ctx, id); err != nil {
		return err
	}

	conversation, err := s.storage.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	s.pub.Publish(Event{Topic: TopicStaffConversations, Type: EventConversationUpdated, Payload: conversation})

	return nil
}

func (s *conversationService) Close(ctx context.Context, actor Actor, id string) error {
	if err := s.policy.Authorize(actor, ActionConversationClose); err != nil {
		return err
	}
	return s.setStatus(ctx, id, ConversationClosed)
}

// Patch applies an RFC 6902 patch to the conversation. Only the status
// field is patchable; any other change is rejected.
func (s *conversationService) Patch(ctx context.Context, actor Actor, id string, patchJSON []byte) (Conversation, error) {
	if err := s.policy.Authorize(actor, ActionConversationClose); err != nil {
		return Conversation{}, err
	}

	patch, err := jsonPatch.DecodePatch(patchJSON)
	if err != nil {
		return Conversation{}, invalid("patch", err.Error())
	}

	conversation, err := s.storage.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}

	original, err := json.Marshal(conversation)
	if err != nil {
		return Conversation{}, err
	}
	modified, err := patch.Apply(original)
	if err != nil {
		return Conversation{}, invalid("patch", err.Error())
	}

	var updated Conversation
	if err := json.Unmarshal(modified, &updated); err != nil {
		return Conversation{}, invalid("patch", err.Error())
	}

	var baseline Conversation
	if err := json.Unmarshal(original, &baseline); err != nil {
		return Conversation{}, err
	}
	baseline.Status = updated.Status
	if baseline != updated {
		return Conversation{}, invalid("patch", "only status may be patched")
	}
	if updated.Status != ConversationOpen && updated.Status != ConversationClosed {
		return Conversation{}, invalid("status", "must be open or closed")
	}

	if err := s.setStatus(ctx, id, updated.Status); err != nil {
		return Conversation{}, err
	}
	return updated, nil
}

func (s *conversationService) setStatus(ctx context.Context, id string, status ConversationStatus) error {
	if err := s.storage.SetConversationStatus(ctx, id, status); err != nil {
		return err
	}
	conversation, err := s.storage.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	s.pub.Publish(Event{Topic: TopicStaffConversations, Type: EventConversationUpdated, Payload: conversation})
	return nil
}

func (s *conversationService) Delete(ctx context.Context, actor Actor, id string) error {
	if err := s.policy.Authorize(actor, ActionConversationDelete); err != nil {
		return err
	}
	if err := s.storage.DeleteConversation(ctx, id); err != nil {
		return err
	}

	s.pub.Publish(Event{Topic: TopicStaffConversations, Type: EventConversationDeleted, Payload: id})
	s.pub.Publish(Event{Topic: Thread{Kind: ThreadConversation, Id: id}.Topic(), Type: EventConversationDeleted, Payload: id})

	if err := s.audit.Append(ctx, actor, "conversation.delete", "conversation", id, ""); err != nil {
		log.Printf("Unable to append audit entry: %v", err)
	}
	return nil
}

// PruneInactive is the retention trigger invoked by the periodic sweep job.
func (s *conversationService) PruneInactive(ctx context.Context, actor Actor, olderThan time.Duration) (int, error) {
	if err := s.policy.Authorize(actor, ActionConversationDelete); err != nil {
		return 0, err
	}

	ids, err := s.storage.ListInactiveSince(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := s.storage.DeleteConversation(ctx, id); err != nil {
			log.Printf("Unable to prune conversation %s: %v", id, err)
			continue
		}
		s.pub.Publish(Event{Topic: TopicStaffConversations, Type: EventConversationDeleted, Payload: id})
		deleted++
	}

	if deleted > 0 {
		if err := s.audit.Append(ctx, actor, "conversation.prune", "conversation", "", fmt.Sprintf("deleted %d inactive conversations", deleted)); err != nil {
			log.Printf("Unable to append audit entry: %v", err)
		}
	}
	return deleted, nil
}
