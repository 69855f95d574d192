package api

import (
	"context"
	"time"
)

// TypingWindow is how long one typing signal stays valid. Clients debounce
// their keystroke bursts so a signal is refreshed at most every few seconds.
const TypingWindow = 5 * time.Second

type TypingService interface {
	// SetTyping refreshes the actor's signal; a citizen may only type in
	// their own conversation.
	SetTyping(ctx context.Context, conversationId string, actor Actor) error
	// Typing returns the ids still typing in the conversation. Expiry is
	// lazy: a user disappears once the window elapses, with no explicit
	// clear and no background sweep needed.
	Typing(ctx context.Context, conversationId string) ([]string, error)
}

type typingService struct {
	store  EphemeralStore
	window time.Duration
	pub    Publisher
}

func NewTypingService(store EphemeralStore, window time.Duration, pub Publisher) TypingService {
	if window <= 0 {
		window = TypingWindow
	}
	return &typingService{store: store, window: window, pub: pub}
}

func (s *typingService) SetTyping(ctx context.Context, conversationId string, actor Actor) error {
	if conversationId == "" {
		return invalid("conversationId", "must not be empty")
	}
	if actor.Id == "" {
		return invalid("userId", "must not be empty")
	}
	if actor.Role == RoleCitizen && conversationId != actor.Id {
		return &ForbiddenError{Actor: actor.Id, Action: "type in conversation " + conversationId}
	}

	rec := TypingRecord{
		ConversationId: conversationId,
		UserId:         actor.Id,
		ExpiresAt:      time.Now().Add(s.window),
	}
	if err := s.store.SetTyping(ctx, rec, s.window); err != nil {
		return err
	}

	s.pub.Publish(Event{
		Topic:   Thread{Kind: ThreadConversation, Id: conversationId}.Topic(),
		Type:    EventTyping,
		Payload: rec,
	})
	return nil
}

func (s *typingService) Typing(ctx context.Context, conversationId string) ([]string, error) {
	records, err := s.store.GetTyping(ctx, conversationId)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	typing := make([]string, 0, len(records))
	for _, rec := range records {
		if now.Before(rec.ExpiresAt) {
			typing = append(typing, rec.UserId)
		}
	}
	return typing, nil
}
