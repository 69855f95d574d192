package repository

import (
	"context"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"civichub/pkg/api"
)

// Firestore collection layout:
//
//	conversations/{participantId}               registry entry, doc id = citizen uid
//	conversations/{participantId}/messages/{id} conversation ledger
//	requests/{requestId}/messages/{id}          service-request ledger
//	users/{uid}                                 unread counter doc
//	users/{uid}/notifications/{id}              per-user fan-out records
//	broadcasts/{id}                             records of intent
//	emergencyAlerts/{id}                        alert history, at most one active
//	auditLogs/{id}                              append-only admin trail
type Storage struct {
	client *firestore.Client
}

var (
	_ api.ConversationRepository = (*Storage)(nil)
	_ api.MessageRepository      = (*Storage)(nil)
	_ api.NotificationRepository = (*Storage)(nil)
	_ api.BroadcastRepository    = (*Storage)(nil)
	_ api.AlertRepository        = (*Storage)(nil)
	_ api.AuditRepository        = (*Storage)(nil)
)

func NewStorage(client *firestore.Client) *Storage {
	return &Storage{client: client}
}

// ---------------------------------------------------------------------------
// Conversation registry
// ---------------------------------------------------------------------------

func (s *Storage) UpsertConversation(ctx context.Context, c api.Conversation) (api.Conversation, bool, error) {
	ref := s.client.Collection("conversations").Doc(c.ParticipantId)

	var out api.Conversation
	created := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			created = true
			out = c
			return tx.Create(ref, c)
		}
		if err != nil {
			return err
		}

		if err := snap.DataTo(&out); err != nil {
			return err
		}

		// Only previously absent contact details are refreshed.
		var updates []firestore.Update
		if out.ParticipantName == "" && c.ParticipantName != "" {
			out.ParticipantName = c.ParticipantName
			updates = append(updates, firestore.Update{Path: "participantName", Value: c.ParticipantName})
		}
		if out.ParticipantEmail == "" && c.ParticipantEmail != "" {
			out.ParticipantEmail = c.ParticipantEmail
			updates = append(updates, firestore.Update{Path: "participantEmail", Value: c.ParticipantEmail})
		}
		if len(updates) > 0 {
			return tx.Update(ref, updates)
		}
		return nil
	})
	if err != nil {
		return api.Conversation{}, false, err
	}

	if created {
		// Re-read for the server-assigned lastMessageAt.
		snap, err := ref.Get(ctx)
		if err != nil {
			return api.Conversation{}, false, err
		}
		if err := snap.DataTo(&out); err != nil {
			return api.Conversation{}, false, err
		}
	}

	out.Id = ref.ID
	return out, created, nil
}

func (s *Storage) GetConversation(ctx context.Context, id string) (api.Conversation, error) {
	snap, err := s.client.Collection("conversations").Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return api.Conversation{}, &api.NotFoundError{Resource: "conversation", Id: id}
	}
	if err != nil {
		return api.Conversation{}, err
	}

	var conversation api.Conversation
	if err := snap.DataTo(&conversation); err != nil {
		return api.Conversation{}, err
	}
	conversation.Id = snap.Ref.ID
	return conversation, nil
}

func (s *Storage) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	iter := s.client.Collection("conversations").OrderBy("lastMessageAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var conversations []api.Conversation
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var conversation api.Conversation
		if err := snap.DataTo(&conversation); err != nil {
			return nil, err
		}
		conversation.Id = snap.Ref.ID
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

func (s *Storage) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	iter := s.client.Collection("conversations").Where("lastMessageAt", "<", cutoff).Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

func (s *Storage) SetConversationStatus(ctx context.Context, id string, st api.ConversationStatus) error {
	_, err := s.client.Collection("conversations").Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: st},
	})
	if status.Code(err) == codes.NotFound {
		return &api.NotFoundError{Resource: "conversation", Id: id}
	}
	return err
}

func (s *Storage) ResetUnread(ctx context.Context, id string) error {
	_, err := s.client.Collection("conversations").Doc(id).Update(ctx, []firestore.Update{
		{Path: "unreadCount", Value: 0},
	})
	if status.Code(err) == codes.NotFound {
		return &api.NotFoundError{Resource: "conversation", Id: id}
	}
	return err
}

func (s *Storage) DeleteConversation(ctx context.Context, id string) error {
	ref := s.client.Collection("conversations").Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return &api.NotFoundError{Resource: "conversation", Id: id}
		}
		return err
	}

	// Cascade the message subcollection before the registry entry itself.
	bw := s.client.BulkWriter(ctx)
	iter := ref.Collection("messages").Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			return err
		}
	}
	if _, err := bw.Delete(ref); err != nil {
		return err
	}
	bw.End()
	return nil
}

// ---------------------------------------------------------------------------
// Message ledger
// ---------------------------------------------------------------------------

func (s *Storage) threadRef(thread api.Thread) *firestore.DocumentRef {
	if thread.Kind == api.ThreadRequest {
		return s.client.Collection("requests").Doc(thread.Id)
	}
	return s.client.Collection("conversations").Doc(thread.Id)
}

func (s *Storage) AddMessage(ctx context.Context, msg api.Message, preview string) (api.Message, error) {
	thread := msg.Thread()
	parent := s.threadRef(thread)
	msgRef := parent.Collection("messages").Doc(msg.Id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if thread.Kind != api.ThreadConversation {
			return tx.Create(msgRef, msg)
		}

		snap, err := tx.Get(parent)
		if status.Code(err) == codes.NotFound {
			return &api.NotFoundError{Resource: "conversation", Id: thread.Id}
		}
		if err != nil {
			return err
		}
		var conversation api.Conversation
		if err := snap.DataTo(&conversation); err != nil {
			return err
		}

		updates := []firestore.Update{
			{Path: "lastMessageAt", Value: firestore.ServerTimestamp},
			{Path: "lastMessagePreview", Value: preview},
		}
		// The staff inbox counter moves only on citizen-side sends.
		if conversation.ParticipantId == msg.SenderId {
			updates = append(updates, firestore.Update{Path: "unreadCount", Value: firestore.Increment(1)})
		}
		// A message into a closed conversation reopens it.
		if conversation.Status == api.ConversationClosed {
			updates = append(updates, firestore.Update{Path: "status", Value: api.ConversationOpen})
		}

		if err := tx.Create(msgRef, msg); err != nil {
			return err
		}
		return tx.Update(parent, updates)
	})
	if err != nil {
		return api.Message{}, err
	}

	// Re-read for the server-assigned createdAt.
	snap, err := msgRef.Get(ctx)
	if err != nil {
		return api.Message{}, err
	}
	stored := msg
	if err := snap.DataTo(&stored); err != nil {
		return api.Message{}, err
	}
	stored.Id = snap.Ref.ID
	return stored, nil
}

func (s *Storage) ListMessages(ctx context.Context, thread api.Thread) ([]api.Message, error) {
	iter := s.threadRef(thread).Collection("messages").OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var messages []api.Message
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var message api.Message
		if err := snap.DataTo(&message); err != nil {
			return nil, err
		}
		message.Id = snap.Ref.ID
		messages = append(messages, message)
	}
	return messages, nil
}

func (s *Storage) MarkThreadRead(ctx context.Context, thread api.Thread, readerId string) (int, error) {
	iter := s.threadRef(thread).Collection("messages").Where("read", "==", false).Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	updated := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		sender, err := snap.DataAt("senderId")
		if err != nil {
			return 0, err
		}
		if sender == readerId {
			// Never flipped by the author's own read action.
			continue
		}
		if _, err := bw.Update(snap.Ref, []firestore.Update{{Path: "read", Value: true}}); err != nil {
			return 0, err
		}
		updated++
	}
	bw.End()
	return updated, nil
}

// ---------------------------------------------------------------------------
// Notification fan-out
// ---------------------------------------------------------------------------

func (s *Storage) AddNotifications(ctx context.Context, notifications []api.Notification) error {
	// One transaction per call keeps each chunk all-or-nothing.
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, n := range notifications {
			userRef := s.client.Collection("users").Doc(n.UserId)
			if err := tx.Create(userRef.Collection("notifications").Doc(n.Id), n); err != nil {
				return err
			}
			err := tx.Set(userRef, map[string]interface{}{
				"notificationUnread": firestore.Increment(1),
			}, firestore.MergeAll)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) ListNotifications(ctx context.Context, userId string) ([]api.Notification, error) {
	iter := s.client.Collection("users").Doc(userId).Collection("notifications").
		OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var notifications []api.Notification
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var notification api.Notification
		if err := snap.DataTo(&notification); err != nil {
			return nil, err
		}
		notification.Id = snap.Ref.ID
		notifications = append(notifications, notification)
	}
	return notifications, nil
}

func (s *Storage) UnreadNotificationCount(ctx context.Context, userId string) (int, error) {
	snap, err := s.client.Collection("users").Doc(userId).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := snap.DataAt("notificationUnread")
	if err != nil {
		return 0, nil
	}
	count, ok := raw.(int64)
	if !ok || count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (s *Storage) MarkNotificationRead(ctx context.Context, userId, id string) error {
	userRef := s.client.Collection("users").Doc(userId)
	ref := userRef.Collection("notifications").Doc(id)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return &api.NotFoundError{Resource: "notification", Id: id}
		}
		if err != nil {
			return err
		}
		var notification api.Notification
		if err := snap.DataTo(&notification); err != nil {
			return err
		}
		if notification.Read {
			return nil
		}

		if err := tx.Update(ref, []firestore.Update{{Path: "read", Value: true}}); err != nil {
			return err
		}
		return tx.Set(userRef, map[string]interface{}{
			"notificationUnread": firestore.Increment(-1),
		}, firestore.MergeAll)
	})
}

func (s *Storage) MarkAllNotificationsRead(ctx context.Context, userId string) (int, error) {
	userRef := s.client.Collection("users").Doc(userId)
	iter := userRef.Collection("notifications").Where("read", "==", false).Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	updated := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		if _, err := bw.Update(snap.Ref, []firestore.Update{{Path: "read", Value: true}}); err != nil {
			return 0, err
		}
		updated++
	}
	if updated > 0 {
		_, err := bw.Set(userRef, map[string]interface{}{"notificationUnread": 0}, firestore.MergeAll)
		if err != nil {
			return 0, err
		}
	}
	bw.End()
	return updated, nil
}

// ---------------------------------------------------------------------------
// Broadcast record
// ---------------------------------------------------------------------------

func (s *Storage) AddBroadcast(ctx context.Context, b api.Broadcast) error {
	_, err := s.client.Collection("broadcasts").Doc(b.Id).Create(ctx, b)
	return err
}

func (s *Storage) ListBroadcasts(ctx context.Context, limit int) ([]api.Broadcast, error) {
	iter := s.client.Collection("broadcasts").OrderBy("timestamp", firestore.Desc).Limit(limit).Documents(ctx)
	defer iter.Stop()

	var broadcasts []api.Broadcast
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var broadcast api.Broadcast
		if err := snap.DataTo(&broadcast); err != nil {
			return nil, err
		}
		broadcast.Id = snap.Ref.ID
		broadcasts = append(broadcasts, broadcast)
	}
	return broadcasts, nil
}

func (s *Storage) DeleteBroadcast(ctx context.Context, id string) error {
	ref := s.client.Collection("broadcasts").Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return &api.NotFoundError{Resource: "broadcast", Id: id}
		}
		return err
	}
	_, err := ref.Delete(ctx)
	return err
}

// ---------------------------------------------------------------------------
// Emergency alert singleton
// ---------------------------------------------------------------------------

func (s *Storage) CreateActiveAlert(ctx context.Context, a api.EmergencyAlert) error {
	alerts := s.client.Collection("emergencyAlerts")
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Read-check-write inside one transaction; two concurrent creates
		// conflict here and exactly one retry observes the winner.
		iter := tx.Documents(alerts.Where("isActive", "==", true).Limit(1))
		defer iter.Stop()
		_, err := iter.Next()
		if err == nil {
			return api.ErrAlertActive
		}
		if err != iterator.Done {
			return err
		}
		return tx.Create(alerts.Doc(a.Id), a)
	})
}

func (s *Storage) ResolveAlert(ctx context.Context, id string, at time.Time) (api.EmergencyAlert, bool, error) {
	ref := s.client.Collection("emergencyAlerts").Doc(id)

	var out api.EmergencyAlert
	changed := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return &api.NotFoundError{Resource: "alert", Id: id}
		}
		if err != nil {
			return err
		}
		if err := snap.DataTo(&out); err != nil {
			return err
		}
		out.Id = snap.Ref.ID
		if !out.IsActive {
			// Already resolved; keep the original resolvedAt.
			return nil
		}

		out.IsActive = false
		out.ResolvedAt = &at
		changed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "isActive", Value: false},
			{Path: "resolvedAt", Value: at},
		})
	})
	if err != nil {
		return api.EmergencyAlert{}, false, err
	}
	return out, changed, nil
}

func (s *Storage) GetActiveAlert(ctx context.Context) (*api.EmergencyAlert, error) {
	iter := s.client.Collection("emergencyAlerts").Where("isActive", "==", true).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var alert api.EmergencyAlert
	if err := snap.DataTo(&alert); err != nil {
		return nil, err
	}
	alert.Id = snap.Ref.ID
	return &alert, nil
}

func (s *Storage) ListAlerts(ctx context.Context) ([]api.EmergencyAlert, error) {
	iter := s.client.Collection("emergencyAlerts").OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var alerts []api.EmergencyAlert
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var alert api.EmergencyAlert
		if err := snap.DataTo(&alert); err != nil {
			return nil, err
		}
		alert.Id = snap.Ref.ID
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func (s *Storage) DeleteAlert(ctx context.Context, id string) (api.EmergencyAlert, error) {
	ref := s.client.Collection("emergencyAlerts").Doc(id)

	var removed api.EmergencyAlert
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return &api.NotFoundError{Resource: "alert", Id: id}
		}
		if err != nil {
			return err
		}
		if err := snap.DataTo(&removed); err != nil {
			return err
		}
		removed.Id = snap.Ref.ID
		return tx.Delete(ref)
	})
	if err != nil {
		return api.EmergencyAlert{}, err
	}
	log.Printf("Deleted emergency alert %s (active=%t)", id, removed.IsActive)
	return removed, nil
}

// ---------------------------------------------------------------------------
// Audit trail
// ---------------------------------------------------------------------------

func (s *Storage) AddAuditLog(ctx context.Context, l api.AuditLog) error {
	_, err := s.client.Collection("auditLogs").Doc(l.Id).Create(ctx, l)
	return err
}

func (s *Storage) ListAuditLogs(ctx context.Context, limit int) ([]api.AuditLog, error) {
	iter := s.client.Collection("auditLogs").OrderBy("timestamp", firestore.Desc).Limit(limit).Documents(ctx)
	defer iter.Stop()

	var logs []api.AuditLog
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var entry api.AuditLog
		if err := snap.DataTo(&entry); err != nil {
			return nil, err
		}
		entry.Id = snap.Ref.ID
		logs = append(logs, entry)
	}
	return logs, nil
}
