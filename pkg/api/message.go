package api

import (
	"context"
	"log"
	"unicode/utf8"

	"github.com/google/uuid"
)

const previewLength = 80

type MessageService interface {
	// Send rejects a citizen writing into any conversation thread but their
	// own; the sender identity is the authenticated actor on every transport.
	Send(ctx context.Context, input SendMessageInput) (Message, error)
	List(ctx context.Context, thread Thread) ([]Message, error)
	// MarkAsRead flips read flags only on the reader's own action, and a
	// citizen may only read their own conversation thread.
	MarkAsRead(ctx context.Context, actor Actor, thread Thread) (int, error)
}

type MessageRepository interface {
	// AddMessage stores msg with read=false and a server-assigned CreatedAt.
	// For conversation threads the parent document is updated in the same
	// atomic unit: lastMessageAt advances to the server timestamp,
	// lastMessagePreview becomes preview, unreadCount is incremented when
	// the sender is the citizen participant, and a closed conversation is
	// reopened. Returns the stored message.
	AddMessage(ctx context.Context, msg Message, preview string) (Message, error)
	// ListMessages returns the thread ascending by createdAt.
	ListMessages(ctx context.Context, thread Thread) ([]Message, error)
	// MarkThreadRead flips read=true on every message in the thread not
	// authored by readerId. Returns how many were flipped; zero is fine.
	MarkThreadRead(ctx context.Context, thread Thread, readerId string) (int, error)
}

// FileResolver turns the opaque fileRef from the upload collaborator into a
// time-limited retrievable URL. Raw bytes never cross this boundary.
type FileResolver interface {
	ResolveURL(ctx context.Context, fileRef string) (string, error)
}

type messageService struct {
	storage       MessageRepository
	conversations ConversationRepository
	files         FileResolver
	pub           Publisher
}

func NewMessageService(storage MessageRepository, conversations ConversationRepository, files FileResolver, pub Publisher) MessageService {
	return &messageService{storage: storage, conversations: conversations, files: files, pub: pub}
}

func (s *messageService) Send(ctx context.Context, input SendMessageInput) (Message, error) {
	if input.Thread.Id == "" {
		return Message{}, invalid("thread", "id must not be empty")
	}
	if input.Thread.Kind != ThreadConversation && input.Thread.Kind != ThreadRequest {
		return Message{}, invalid("thread", "kind must be conversation or request")
	}
	if input.SenderId == "" {
		return Message{}, invalid("senderId", "must not be empty")
	}
	// A citizen's conversation id is their own uid; anything else is staff
	// territory, over http and ws alike.
	if input.Thread.Kind == ThreadConversation && input.SenderRole == RoleCitizen && input.Thread.Id != input.SenderId {
		return Message{}, &ForbiddenError{Actor: input.SenderId, Action: "send to thread " + input.Thread.Id}
	}
	switch input.ContentType {
	case ContentText:
		if input.Content == "" {
			return Message{}, invalid("content", "must not be empty for text messages")
		}
	case ContentImage, ContentFile:
		if input.FileRef == "" {
			return Message{}, invalid("fileRef", "required for image and file messages")
		}
	default:
		return Message{}, invalid("contentType", "must be text, image or file")
	}

	msg := Message{
		Id:          uuid.NewString(),
		SenderId:    input.SenderId,
		SenderName:  input.SenderName,
		SenderRole:  input.SenderRole,
		Content:     input.Content,
		ContentType: input.ContentType,
		FileRef:     input.FileRef,
		Read:        false,
	}
	if input.Thread.Kind == ThreadRequest {
		msg.RequestId = input.Thread.Id
	} else {
		msg.ConversationId = input.Thread.Id
	}

	stored, err := s.storage.AddMessage(ctx, msg, preview(msg))
	if err != nil {
		return Message{}, err
	}
	s.resolveFile(ctx, &stored)

	s.pub.Publish(Event{Topic: input.Thread.Topic(), Type: EventMessageCreated, Payload: stored})

	if input.Thread.Kind == ThreadConversation {
		conversation, err := s.conversations.GetConversation(ctx, input.Thread.Id)
		if err != nil {
			log.Printf("Unable to load conversation %s after send: %v", input.Thread.Id, err)
		} else {
			s.pub.Publish(Event{Topic: TopicStaffConversations, Type: EventConversationUpdated, Payload: conversation})
		}
	}

	return stored, nil
}

func (s *messageService) List(ctx context.Context, thread Thread) ([]Message, error) {
	if thread.Id == "" {
		return nil, invalid("thread", "id must not be empty")
	}
	messages, err := s.storage.ListMessages(ctx, thread)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		s.resolveFile(ctx, &messages[i])
	}
	return messages, nil
}

func (s *messageService) MarkAsRead(ctx context.Context, actor Actor, thread Thread) (int, error) {
	if actor.Id == "" {
		return 0, invalid("userId", "must not be empty")
	}
	if thread.Kind == ThreadConversation && actor.Role == RoleCitizen && thread.Id != actor.Id {
		return 0, &ForbiddenError{Actor: actor.Id, Action: "read thread " + thread.Id}
	}
	updated, err := s.storage.MarkThreadRead(ctx, thread, actor.Id)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.pub.Publish(Event{Topic: thread.Topic(), Type: EventMessagesRead, Payload: map[string]interface{}{
			"thread":   thread,
			"readerId": actor.Id,
		}})
	}
	return updated, nil
}

func (s *messageService) resolveFile(ctx context.Context, msg *Message) {
	if msg.FileRef == "" || s.files == nil {
		return
	}
	url, err := s.files.ResolveURL(ctx, msg.FileRef)
	if err != nil {
		log.Printf("Unable to resolve file reference %s: %v", msg.FileRef, err)
		return
	}
	msg.FileURL = url
}

// preview is what the staff inbox shows for the conversation's latest
// message.
func preview(msg Message) string {
	switch msg.ContentType {
	case ContentImage:
		return "[image]"
	case ContentFile:
		return "[file]"
	}
	if utf8.RuneCountInString(msg.Content) <= previewLength {
		return msg.Content
	}
	runes := []rune(msg.Content)
	return string(runes[:previewLength]) + "…"
}
