package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LiveSessions maps an identity session id to its user id. An entry
// expires after the session TTL; reading it extends the TTL.
type LiveSessions struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLiveSessions(rdb *redis.Client, ttl time.Duration) *LiveSessions {
	return &LiveSessions{rdb: rdb, ttl: ttl}
}

func liveSessionKey(sessionID uuid.UUID) string {
	return "identity:session:" + sessionID.String()
}

func (s *LiveSessions) Put(ctx context.Context, sessionID, userID uuid.UUID) error {
	if err := s.rdb.Set(ctx, liveSessionKey(sessionID), userID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("store live session: %w", err)
	}
	return nil
}

// Get returns uuid.Nil when the session is unknown or expired.
func (s *LiveSessions) Get(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	v, err := s.rdb.GetEx(ctx, liveSessionKey(sessionID), s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("load live session: %w", err)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("live session %s holds bad user id: %w", sessionID, err)
	}
	return id, nil
}

func (s *LiveSessions) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.rdb.Del(ctx, liveSessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete live session: %w", err)
	}
	return nil
}
