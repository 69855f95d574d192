package repository

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"civichub/pkg/api"
)

// RedisStore holds the liveness signals in redis. Values carry their own
// timestamps because the services derive online/typing at read time; the
// key TTLs only keep dead keys from piling up.
type RedisStore struct {
	client *redis.Client
}

var _ api.EphemeralStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func presenceKey(userId string) string { return "presence:" + userId }

func typingKey(conversationId, userId string) string {
	return "typing:" + conversationId + ":" + userId
}

func (r *RedisStore) SetPresence(ctx context.Context, rec api.PresenceRecord, ttl time.Duration) error {
	return r.client.Set(ctx, presenceKey(rec.UserId), rec.LastSeenAt.Format(time.RFC3339Nano), ttl).Err()
}

func (r *RedisStore) GetPresence(ctx context.Context, userIds []string) ([]api.PresenceRecord, error) {
	if len(userIds) == 0 {
		return nil, nil
	}
	keys := make([]string, len(userIds))
	for i, id := range userIds {
		keys[i] = presenceKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]api.PresenceRecord, 0, len(userIds))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Expired or never seen.
			continue
		}
		seen, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		records = append(records, api.PresenceRecord{UserId: userIds[i], LastSeenAt: seen})
	}
	return records, nil
}

func (r *RedisStore) SetTyping(ctx context.Context, rec api.TypingRecord, ttl time.Duration) error {
	key := typingKey(rec.ConversationId, rec.UserId)
	return r.client.Set(ctx, key, rec.ExpiresAt.Format(time.RFC3339Nano), ttl).Err()
}

func (r *RedisStore) GetTyping(ctx context.Context, conversationId string) ([]api.TypingRecord, error) {
	prefix := "typing:" + conversationId + ":"
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()

	var records []api.TypingRecord
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			// Expired between scan and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		expires, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		records = append(records, api.TypingRecord{
			ConversationId: conversationId,
			UserId:         strings.TrimPrefix(key, prefix),
			ExpiresAt:      expires,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
