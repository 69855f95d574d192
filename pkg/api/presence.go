package api

import (
	"context"
	"time"
)

// EphemeralStore holds the liveness signals: presence heartbeats and typing
// indicators. Writes are last-write-wins and lost updates are tolerated by
// design; the TTL passed on writes is hygiene only, correctness is always
// the read-time recency check in the services.
type EphemeralStore interface {
	SetPresence(ctx context.Context, rec PresenceRecord, ttl time.Duration) error
	GetPresence(ctx context.Context, userIds []string) ([]PresenceRecord, error)
	SetTyping(ctx context.Context, rec TypingRecord, ttl time.Duration) error
	GetTyping(ctx context.Context, conversationId string) ([]TypingRecord, error)
}

// Clients are expected to heartbeat roughly every 30s; the online threshold
// is kept at more than twice that to absorb jitter and dropped beats.
const (
	HeartbeatInterval = 30 * time.Second
	OnlineThreshold   = 75 * time.Second
)

type PresenceService interface {
	Heartbeat(ctx context.Context, userId string) error
	// Online returns the subset of userIds seen within the threshold. There
	// is no offline event; absence of a recent heartbeat is silence.
	Online(ctx context.Context, userIds []string) ([]string, error)
}

type presenceService struct {
	store     EphemeralStore
	threshold time.Duration
	pub       Publisher
}

func NewPresenceService(store EphemeralStore, threshold time.Duration, pub Publisher) PresenceService {
	if threshold <= 0 {
		threshold = OnlineThreshold
	}
	return &presenceService{store: store, threshold: threshold, pub: pub}
}

func (s *presenceService) Heartbeat(ctx context.Context, userId string) error {
	if userId == "" {
		return invalid("userId", "must not be empty")
	}
	rec := PresenceRecord{UserId: userId, LastSeenAt: time.Now()}
	if err := s.store.SetPresence(ctx, rec, 2*s.threshold); err != nil {
		return err
	}
	s.pub.Publish(Event{Topic: TopicPresence, Type: EventPresence, Payload: rec})
	return nil
}

func (s *presenceService) Online(ctx context.Context, userIds []string) ([]string, error) {
	if len(userIds) == 0 {
		return nil, nil
	}
	records, err := s.store.GetPresence(ctx, userIds)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	online := make([]string, 0, len(records))
	for _, rec := range records {
		if now.Sub(rec.LastSeenAt) < s.threshold {
			online = append(online, rec.UserId)
		}
	}
	return online, nil
}
