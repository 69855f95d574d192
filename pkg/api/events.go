package api

// Event is one push on the reactive layer. Every successful write publishes
// an Event on the topic its live queries watch; the hub fans it out to all
// subscribed websocket clients. Closing a subscription only stops delivery,
// it never rolls back the write that produced an event.
type Event struct {
	Topic   string      `json:"topic"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

const (
	EventSnapshot            = "snapshot"
	EventMessageCreated      = "message.created"
	EventMessagesRead        = "messages.read"
	EventConversationUpdated = "conversation.updated"
	EventConversationDeleted = "conversation.deleted"
	EventNotificationCreated = "notification.created"
	EventNotificationsRead   = "notifications.read"
	EventTyping              = "typing"
	EventPresence            = "presence.heartbeat"
	EventAlertCreated        = "alert.created"
	EventAlertResolved       = "alert.resolved"
	EventAlertCleared        = "alert.cleared"
)

// Fixed topics. Per-entity topics come from UserTopic and Thread.Topic.
const (
	// TopicStaffConversations carries registry changes for the staff inbox.
	TopicStaffConversations = "staff:conversations"
	// TopicAlerts drives the cross-client emergency banner.
	TopicAlerts = "alerts"
	// TopicPresence carries heartbeat deltas for live online dots. There is
	// no snapshot; subscribers seed their view from the online query.
	TopicPresence = "presence"
)

// UserTopic carries one user's notification stream and unread counter.
func UserTopic(userId string) string { return "user:" + userId }

// Publisher is the write side of the reactive layer. Services publish after
// every successful write; the hub is the production implementation.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(e Event)

func (f PublisherFunc) Publish(e Event) { f(e) }
