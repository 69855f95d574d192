package api

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeStore is an in-memory stand-in for the firestore-backed repository.
// It honors the same contracts the repository documents: upsert keyed by
// participant id, atomic conversation bookkeeping on AddMessage, and the
// single-active-alert check under a lock.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]Message
	notifications map[string][]Notification
	broadcasts    []Broadcast
	alerts        []EmergencyAlert
	auditLogs     []AuditLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		notifications: make(map[string][]Notification),
	}
}

var (
	_ ConversationRepository = (*fakeStore)(nil)
	_ MessageRepository      = (*fakeStore)(nil)
	_ NotificationRepository = (*fakeStore)(nil)
	_ BroadcastRepository    = (*fakeStore)(nil)
	_ AlertRepository        = (*fakeStore)(nil)
	_ AuditRepository        = (*fakeStore)(nil)
)

func (f *fakeStore) UpsertConversation(ctx context.Context, c Conversation) (Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.conversations[c.ParticipantId]
	if ok {
		if existing.ParticipantName == "" {
			existing.ParticipantName = c.ParticipantName
		}
		if existing.ParticipantEmail == "" {
			existing.ParticipantEmail = c.ParticipantEmail
		}
		f.conversations[c.ParticipantId] = existing
		return existing, false, nil
	}

	// lastMessageAt is server-assigned on create.
	c.LastMessageAt = time.Now()
	f.conversations[c.ParticipantId] = c
	return c, true, nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conversations[id]
	if !ok {
		return Conversation{}, notFound("conversation", id)
	}
	return c, nil
}

func (f *fakeStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := make([]Conversation, 0, len(f.conversations))
	for _, c := range f.conversations {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
	return list, nil
}

func (f *fakeStore) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for id, c := range f.conversations {
		if c.LastMessageAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) SetConversationStatus(ctx context.Context, id string, status ConversationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conversations[id]
	if !ok {
		return notFound("conversation", id)
	}
	c.Status = status
	f.conversations[id] = c
	return nil
}

func (f *fakeStore) ResetUnread(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conversations[id]
	if !ok {
		return notFound("conversation", id)
	}
	c.UnreadCount = 0
	f.conversations[id] = c
	return nil
}

func (f *fakeStore) DeleteConversation(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.conversations[id]; !ok {
		return notFound("conversation", id)
	}
	delete(f.conversations, id)
	delete(f.messages, Thread{Kind: ThreadConversation, Id: id}.Topic())
	return nil
}

func (f *fakeStore) AddMessage(ctx context.Context, msg Message, preview string) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg.CreatedAt = time.Now()
	thread := msg.Thread()
	f.messages[thread.Topic()] = append(f.messages[thread.Topic()], msg)

	if thread.Kind == ThreadConversation {
		c, ok := f.conversations[thread.Id]
		if !ok {
			return Message{}, notFound("conversation", thread.Id)
		}
		c.LastMessageAt = msg.CreatedAt
		c.LastMessagePreview = preview
		if msg.SenderId == c.ParticipantId {
			c.UnreadCount++
		}
		if c.Status == ConversationClosed {
			c.Status = ConversationOpen
		}
		f.conversations[thread.Id] = c
	}
	return msg, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, thread Thread) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := append([]Message(nil), f.messages[thread.Topic()]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (f *fakeStore) MarkThreadRead(ctx context.Context, thread Thread, readerId string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := f.messages[thread.Topic()]
	updated := 0
	for i := range msgs {
		if msgs[i].Read || msgs[i].SenderId == readerId {
			continue
		}
		msgs[i].Read = true
		updated++
	}
	return updated, nil
}

func (f *fakeStore) AddNotifications(ctx context.Context, notifications []Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range notifications {
		f.notifications[n.UserId] = append(f.notifications[n.UserId], n)
	}
	return nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, userId string) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := append([]Notification(nil), f.notifications[userId]...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (f *fakeStore) UnreadNotificationCount(ctx context.Context, userId string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, n := range f.notifications[userId] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) MarkNotificationRead(ctx context.Context, userId, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, n := range f.notifications[userId] {
		if n.Id == id {
			f.notifications[userId][i].Read = true
			return nil
		}
	}
	return notFound("notification", id)
}

func (f *fakeStore) MarkAllNotificationsRead(ctx context.Context, userId string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	updated := 0
	for i, n := range f.notifications[userId] {
		if !n.Read {
			f.notifications[userId][i].Read = true
			updated++
		}
	}
	return updated, nil
}

func (f *fakeStore) AddBroadcast(ctx context.Context, b Broadcast) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.broadcasts = append(f.broadcasts, b)
	return nil
}

func (f *fakeStore) ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := append([]Broadcast(nil), f.broadcasts...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	if limit > len(list) {
		limit = len(list)
	}
	return list[:limit], nil
}

func (f *fakeStore) DeleteBroadcast(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, b := range f.broadcasts {
		if b.Id == id {
			f.broadcasts = append(f.broadcasts[:i], f.broadcasts[i+1:]...)
			return nil
		}
	}
	return notFound("broadcast", id)
}

func (f *fakeStore) CreateActiveAlert(ctx context.Context, a EmergencyAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.alerts {
		if existing.IsActive {
			return ErrAlertActive
		}
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeStore) ResolveAlert(ctx context.Context, id string, at time.Time) (EmergencyAlert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, a := range f.alerts {
		if a.Id == id {
			changed := a.IsActive
			if a.IsActive {
				f.alerts[i].IsActive = false
				f.alerts[i].ResolvedAt = &at
			}
			return f.alerts[i], changed, nil
		}
	}
	return EmergencyAlert{}, false, notFound("alert", id)
}

func (f *fakeStore) GetActiveAlert(ctx context.Context) (*EmergencyAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range f.alerts {
		if a.IsActive {
			alert := a
			return &alert, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListAlerts(ctx context.Context) ([]EmergencyAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := append([]EmergencyAlert(nil), f.alerts...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (f *fakeStore) DeleteAlert(ctx context.Context, id string) (EmergencyAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, a := range f.alerts {
		if a.Id == id {
			f.alerts = append(f.alerts[:i], f.alerts[i+1:]...)
			return a, nil
		}
	}
	return EmergencyAlert{}, notFound("alert", id)
}

func (f *fakeStore) AddAuditLog(ctx context.Context, l AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auditLogs = append(f.auditLogs, l)
	return nil
}

func (f *fakeStore) ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := append([]AuditLog(nil), f.auditLogs...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	if limit > len(list) {
		limit = len(list)
	}
	return list[:limit], nil
}

// fakeEphemeral is the in-memory EphemeralStore. TTLs are ignored on
// purpose: expiry correctness must come from the services' read-time checks.
type fakeEphemeral struct {
	mu       sync.Mutex
	presence map[string]PresenceRecord
	typing   map[string]TypingRecord
}

func newFakeEphemeral() *fakeEphemeral {
	return &fakeEphemeral{
		presence: make(map[string]PresenceRecord),
		typing:   make(map[string]TypingRecord),
	}
}

var _ EphemeralStore = (*fakeEphemeral)(nil)

func (f *fakeEphemeral) SetPresence(ctx context.Context, rec PresenceRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence[rec.UserId] = rec
	return nil
}

func (f *fakeEphemeral) GetPresence(ctx context.Context, userIds []string) ([]PresenceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var records []PresenceRecord
	for _, id := range userIds {
		if rec, ok := f.presence[id]; ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (f *fakeEphemeral) SetTyping(ctx context.Context, rec TypingRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing[rec.ConversationId+":"+rec.UserId] = rec
	return nil
}

func (f *fakeEphemeral) GetTyping(ctx context.Context, conversationId string) ([]TypingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var records []TypingRecord
	for _, rec := range f.typing {
		if rec.ConversationId == conversationId {
			records = append(records, rec)
		}
	}
	return records, nil
}

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Publisher = (*eventRecorder)(nil)

func (r *eventRecorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) byType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Event
	for _, e := range r.events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

// fakeEnqueuer records enqueued tasks and can be told to fail.
type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []string
	err   error
}

var _ Enqueuer = (*fakeEnqueuer)(nil)

func (f *fakeEnqueuer) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, taskType)
	return nil
}

var (
	citizen = Actor{Id: "citizen-1", Name: "Ada Citizen", Role: RoleCitizen}
	staff   = Actor{Id: "staff-1", Name: "Eve Employee", Role: RoleEmployee}
	admin   = Actor{Id: "admin-1", Name: "Oda Admin", Role: RoleAdmin}
)

type testEnv struct {
	store     *fakeStore
	ephemeral *fakeEphemeral
	recorder  *eventRecorder
	enqueuer  *fakeEnqueuer
	services  Services
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	ephemeral := newFakeEphemeral()
	recorder := &eventRecorder{}
	enqueuer := &fakeEnqueuer{}
	policy := NewRolePolicy()
	audit := NewAuditService(store, policy)

	return &testEnv{
		store:     store,
		ephemeral: ephemeral,
		recorder:  recorder,
		enqueuer:  enqueuer,
		services: Services{
			Conversations: NewConversationService(store, policy, audit, recorder),
			Messages:      NewMessageService(store, store, nil, recorder),
			Presence:      NewPresenceService(ephemeral, OnlineThreshold, recorder),
			Typing:        NewTypingService(ephemeral, TypingWindow, recorder),
			Notifications: NewNotificationService(store, recorder),
			Broadcasts:    NewBroadcastService(store, enqueuer, policy, audit),
			Alerts:        NewAlertService(store, policy, audit, recorder),
			Audit:         audit,
			Policy:        policy,
		},
	}
}
