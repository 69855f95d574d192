package api

import (
	"time"
)

// Roles carried in the firebase "role" custom claim. Every mutating call
// receives an Actor resolved by the auth middleware; the core never looks
// up roles itself.
type Role string

const (
	RoleCitizen  Role = "citizen"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
	// RoleSystem is used by background jobs (retention sweep, fan-out worker).
	RoleSystem Role = "system"
)

type Actor struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is the one-per-citizen thread with the staff inbox counter.
// The document id doubles as the uniqueness constraint: it is always the
// participant's uid, so a second GetOrCreate can never insert a duplicate.
type Conversation struct {
	Id                 string             `firestore:"-" json:"id"`
	ParticipantId      string             `firestore:"participantId" json:"participantId"`
	ParticipantName    string             `firestore:"participantName" json:"participantName"`
	ParticipantEmail   string             `firestore:"participantEmail" json:"participantEmail"`
	LastMessageAt      time.Time          `firestore:"lastMessageAt,serverTimestamp" json:"lastMessageAt"`
	LastMessagePreview string             `firestore:"lastMessagePreview" json:"lastMessagePreview"`
	UnreadCount        int                `firestore:"unreadCount" json:"unreadCount"`
	Status             ConversationStatus `firestore:"status" json:"status"`
}

// ThreadKind distinguishes the two message ledgers: citizen conversations
// and service-request threads. Request threads carry no conversation
// bookkeeping (no preview, no unread counter).
type ThreadKind string

const (
	ThreadConversation ThreadKind = "conversation"
	ThreadRequest      ThreadKind = "request"
)

type Thread struct {
	Kind ThreadKind `json:"kind"`
	Id   string     `json:"id"`
}

// Topic is the hub topic carrying this thread's message events.
func (t Thread) Topic() string { return "thread:" + string(t.Kind) + ":" + t.Id }

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

type Message struct {
	Id             string      `firestore:"-" json:"id"`
	ConversationId string      `firestore:"conversationId,omitempty" json:"conversationId,omitempty"`
	RequestId      string      `firestore:"requestId,omitempty" json:"requestId,omitempty"`
	SenderId       string      `firestore:"senderId" json:"senderId"`
	SenderName     string      `firestore:"senderName" json:"senderName"`
	SenderRole     Role        `firestore:"senderRole" json:"senderRole"`
	Content        string      `firestore:"content" json:"content,omitempty"`
	ContentType    ContentType `firestore:"contentType" json:"contentType"`
	// FileRef is the opaque reference handed back by the upload collaborator.
	// FileURL is never stored; it is resolved per read.
	FileRef   string    `firestore:"fileRef,omitempty" json:"fileRef,omitempty"`
	FileURL   string    `firestore:"-" json:"fileUrl,omitempty"`
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp" json:"createdAt"`
	Read      bool      `firestore:"read" json:"read"`
}

func (m Message) Thread() Thread {
	if m.RequestId != "" {
		return Thread{Kind: ThreadRequest, Id: m.RequestId}
	}
	return Thread{Kind: ThreadConversation, Id: m.ConversationId}
}

type SendMessageInput struct {
	Thread      Thread      `json:"thread"`
	SenderId    string      `json:"senderId"`
	SenderName  string      `json:"senderName"`
	SenderRole  Role        `json:"senderRole"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	FileRef     string      `json:"fileRef,omitempty"`
}

// PresenceRecord is ephemeral. Online is never stored; it is derived from
// LastSeenAt recency at read time.
type PresenceRecord struct {
	UserId     string    `json:"userId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// TypingRecord is ephemeral and valid only while now < ExpiresAt.
type TypingRecord struct {
	ConversationId string    `json:"conversationId"`
	UserId         string    `json:"userId"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type Notification struct {
	Id        string    `firestore:"-" json:"id"`
	UserId    string    `firestore:"userId" json:"userId"`
	Title     string    `firestore:"title" json:"title"`
	Message   string    `firestore:"message" json:"message"`
	Link      string    `firestore:"link,omitempty" json:"link,omitempty"`
	Read      bool      `firestore:"read" json:"read"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
}

type Audience string

const (
	AudienceAll       Audience = "all"
	AudienceEmployees Audience = "employees"
	AudienceCitizens  Audience = "citizens"
)

// Broadcast is a record of intent only; per-user delivery is the
// notification fan-out's job.
type Broadcast struct {
	Id        string    `firestore:"-" json:"id"`
	Title     string    `firestore:"title" json:"title"`
	Message   string    `firestore:"message" json:"message"`
	Type      string    `firestore:"type" json:"type"`
	Audience  Audience  `firestore:"audience" json:"audience"`
	SentBy    string    `firestore:"sentBy" json:"sentBy"`
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
}

type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

type EmergencyAlert struct {
	Id         string     `firestore:"-" json:"id"`
	Title      string     `firestore:"title" json:"title"`
	Message    string     `firestore:"message" json:"message"`
	Level      AlertLevel `firestore:"level" json:"level"`
	IsActive   bool       `firestore:"isActive" json:"isActive"`
	CreatedBy  string     `firestore:"createdBy" json:"createdBy"`
	CreatedAt  time.Time  `firestore:"createdAt" json:"createdAt"`
	ResolvedAt *time.Time `firestore:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
}

type AuditLog struct {
	Id           string    `firestore:"-" json:"id"`
	ActorId      string    `firestore:"actorId" json:"actorId"`
	ActorName    string    `firestore:"actorName" json:"actorName"`
	Action       string    `firestore:"action" json:"action"`
	ResourceType string    `firestore:"resourceType,omitempty" json:"resourceType,omitempty"`
	ResourceId   string    `firestore:"resourceId,omitempty" json:"resourceId,omitempty"`
	Details      string    `firestore:"details,omitempty" json:"details,omitempty"`
	Timestamp    time.Time `firestore:"timestamp" json:"timestamp"`
}
