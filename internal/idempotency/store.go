// Package idempotency guards duplicate POST /messages submissions. It is
// pure API-transport plumbing — the scheduler core has no notion of an
// idempotency key and never touches Redis.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"imessage-scheduler/internal/db"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ttl = time.Hour

type Store struct {
	redis  *db.RedisDB
	logger *zap.Logger
}

func NewStore(redis *db.RedisDB, logger *zap.Logger) *Store {
	return &Store{redis: redis, logger: logger}
}

// Lookup returns the message id previously created for key, or uuid.Nil if
// key is empty, unseen, or the store is unavailable (Redis is optional:
// degrade to "always create" rather than fail the request).
func (s *Store) Lookup(ctx context.Context, key string) uuid.UUID {
	if key == "" || s.redis == nil {
		return uuid.Nil
	}

	val, err := s.redis.Get(ctx, cacheKey(key)).Result()
	if err != nil {
		return uuid.Nil
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Remember associates key with messageID for ttl.
func (s *Store) Remember(ctx context.Context, key string, messageID uuid.UUID) {
	if key == "" || s.redis == nil {
		return
	}

	if err := s.redis.Set(ctx, cacheKey(key), messageID.String(), ttl).Err(); err != nil {
		s.logger.Warn("failed to cache idempotency key", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(key string) string {
	return fmt.Sprintf("idempotency:messages:%s", key)
}
