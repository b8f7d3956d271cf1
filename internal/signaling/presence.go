package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "signaling:presence:"

	// presenceTTL bounds how long a dead node's announcement can linger
	// when it never got to depart.
	presenceTTL = 6 * time.Hour
)

// PresenceTracker reports which users currently hold a live leg of a
// session, as seen from the signaling fabric rather than from any one
// session's local membership view. A session announces itself when it
// joins, departs when it ends, and a resuming session consults Present
// to learn who is still actually there.
type PresenceTracker interface {
	Announce(ctx context.Context, sessionID, userID string) error
	Depart(ctx context.Context, sessionID, userID string) error
	Present(ctx context.Context, sessionID string) ([]string, error)
}

// RedisPresence keeps one presence set per session in Redis. Every node
// announces into the same key, so the set is fabric-wide truth.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) Announce(ctx context.Context, sessionID, userID string) error {
	key := presenceKeyPrefix + sessionID
	if err := p.rdb.SAdd(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := p.rdb.Expire(ctx, key, presenceTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *RedisPresence) Depart(ctx context.Context, sessionID, userID string) error {
	if err := p.rdb.SRem(ctx, presenceKeyPrefix+sessionID, userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *RedisPresence) Present(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := p.rdb.SMembers(ctx, presenceKeyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}
