package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quckchat/call-service/pkg/utils"
)

// ConversationLimiter enforces the one-active-session-per-conversation rule.
// The slot is owned by a session id, so the caller's and callee's
// coordinators both hold it for the same call; a second, different session
// in the same conversation is refused.
type ConversationLimiter interface {
	Acquire(ctx context.Context, conversationID, sessionID string) (bool, error)
	Release(ctx context.Context, conversationID, sessionID string) error
}

// NoopLimiter admits everything. Used in tests and embedded deployments
// where a single coordinator already serializes per conversation.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(ctx context.Context, conversationID, sessionID string) (bool, error) {
	return true, nil
}

func (NoopLimiter) Release(ctx context.Context, conversationID, sessionID string) error {
	return nil
}

// RedisLimiter holds the active-call slot in Redis so coordinators on
// different nodes agree on which conversation is busy. The TTL bounds leaked
// slots if a process dies mid-call.
type RedisLimiter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLimiter(rdb *redis.Client, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, conversationID, sessionID string) (bool, error) {
	if conversationID == "" || sessionID == "" {
		return false, fmt.Errorf("session: conversation and session ids are required")
	}
	return utils.AcquireOwnedLock(ctx, l.rdb, l.key(conversationID), sessionID, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, conversationID, sessionID string) error {
	if conversationID == "" || sessionID == "" {
		return fmt.Errorf("session: conversation and session ids are required")
	}
	return utils.ReleaseOwnedLock(ctx, l.rdb, l.key(conversationID), sessionID)
}

func (l *RedisLimiter) key(conversationID string) string {
	return "calls:active:" + conversationID
}
