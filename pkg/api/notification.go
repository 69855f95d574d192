package api

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Firestore caps one WriteBatch at 500 writes; each notification costs two
// (the document plus the counter bump), so batches stay well under that.
const MaxBatchSize = 200

type NotificationService interface {
	Send(ctx context.Context, userId, title, message, link string) (Notification, error)
	// SendBatch inserts all notifications in one atomic batch. Callers fan
	// out large audiences in chunks (around 100); a failed chunk fails as a
	// whole and is logged by the caller for manual retry, since there is no
	// cross-chunk transaction.
	SendBatch(ctx context.Context, notifications []Notification) error
	List(ctx context.Context, userId string) ([]Notification, error)
	UnreadCount(ctx context.Context, userId string) (int, error)
	MarkRead(ctx context.Context, userId, id string) error
	MarkAllRead(ctx context.Context, userId string) error
}

type NotificationRepository interface {
	// AddNotifications stores all notifications and bumps each recipient's
	// unread counter in one atomic batch.
	AddNotifications(ctx context.Context, notifications []Notification) error
	// ListNotifications returns the user's notifications newest first.
	ListNotifications(ctx context.Context, userId string) ([]Notification, error)
	UnreadNotificationCount(ctx context.Context, userId string) (int, error)
	// MarkNotificationRead flips one notification owned by userId; a
	// notification belonging to someone else is NotFound, never touched.
	MarkNotificationRead(ctx context.Context, userId, id string) error
	// MarkAllNotificationsRead flips every unread notification of userId
	// and returns how many were flipped.
	MarkAllNotificationsRead(ctx context.Context, userId string) (int, error)
}

type notificationService struct {
	storage NotificationRepository
	pub     Publisher
}

func NewNotificationService(storage NotificationRepository, pub Publisher) NotificationService {
	return &notificationService{storage: storage, pub: pub}
}

func (s *notificationService) Send(ctx context.Context, userId, title, message, link string) (Notification, error) {
	batch := []Notification{{UserId: userId, Title: title, Message: message, Link: link}}
	if err := s.SendBatch(ctx, batch); err != nil {
		return Notification{}, err
	}
	return batch[0], nil
}

func (s *notificationService) SendBatch(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	if len(notifications) > MaxBatchSize {
		return invalid("notifications", "batch too large")
	}
	now := time.Now()
	for i := range notifications {
		if notifications[i].UserId == "" {
			return invalid("userId", "must not be empty")
		}
		if notifications[i].Title == "" {
			return invalid("title", "must not be empty")
		}
		notifications[i].Id = uuid.NewString()
		notifications[i].Read = false
		notifications[i].CreatedAt = now
	}

	if err := s.storage.AddNotifications(ctx, notifications); err != nil {
		return err
	}

	for _, n := range notifications {
		s.pub.Publish(Event{Topic: UserTopic(n.UserId), Type: EventNotificationCreated, Payload: n})
	}
	return nil
}

func (s *notificationService) List(ctx context.Context, userId string) ([]Notification, error) {
	if userId == "" {
		return nil, invalid("userId", "must not be empty")
	}
	return s.storage.ListNotifications(ctx, userId)
}

func (s *notificationService) UnreadCount(ctx context.Context, userId string) (int, error) {
	if userId == "" {
		return 0, invalid("userId", "must not be empty")
	}
	return s.storage.UnreadNotificationCount(ctx, userId)
}

func (s *notificationService) MarkRead(ctx context.Context, userId, id string) error {
	if err := s.storage.MarkNotificationRead(ctx, userId, id); err != nil {
		return err
	}
	s.pub.Publish(Event{Topic: UserTopic(userId), Type: EventNotificationsRead, Payload: []string{id}})
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userId string) error {
	updated, err := s.storage.MarkAllNotificationsRead(ctx, userId)
	if err != nil {
		return err
	}
	if updated > 0 {
		s.pub.Publish(Event{Topic: UserTopic(userId), Type: EventNotificationsRead, Payload: "all"})
	}
	return nil
}
