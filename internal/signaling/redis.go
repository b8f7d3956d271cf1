package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "signaling:conversation:"

// RedisTransport moves signaling envelopes over Redis pub/sub, one channel
// per conversation. It is used when multiple coordinator processes must
// exchange signaling for users connected to different nodes.
//
// Delivery is at-most-once, in publish order per channel, which matches the
// Transport contract; the session state machine tolerates loss via its
// timeout and reconnection paths.
type RedisTransport struct {
	rdb      *redis.Client
	selfID   string
	log      *slog.Logger
	clock    func() time.Time
	presence *RedisPresence

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   []chan Envelope
	pubsub *redis.PubSub
	closed bool
}

// NewRedisTransport subscribes to the conversation channel pattern and
// starts delivering inbound envelopes. selfID identifies the local sender;
// envelopes published by selfID are filtered out on receive.
func NewRedisTransport(ctx context.Context, rdb *redis.Client, selfID string, log *slog.Logger) (*RedisTransport, error) {
	if rdb == nil {
		return nil, fmt.Errorf("signaling: redis client is required")
	}
	if selfID == "" {
		return nil, fmt.Errorf("signaling: self id is required")
	}
	if log == nil {
		log = slog.Default()
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &RedisTransport{
		rdb:      rdb,
		selfID:   selfID,
		log:      log,
		clock:    time.Now,
		presence: NewRedisPresence(rdb),
		ctx:      tctx,
		cancel:   cancel,
	}

	t.pubsub = rdb.PSubscribe(tctx, channelPrefix+"*")
	// Force the subscription to establish before we report ready.
	if _, err := t.pubsub.Receive(tctx); err != nil {
		cancel()
		_ = t.pubsub.Close()
		return nil, fmt.Errorf("signaling: subscribe failed: %w", err)
	}

	go t.receiveLoop()
	return t, nil
}

func (t *RedisTransport) Send(conversationID string, ev Event) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrUnavailable
	}

	env := Envelope{
		ConversationID: conversationID,
		From:           t.selfID,
		Event:          ev,
		OccurredAt:     t.clock().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("signaling: encode envelope: %w", err)
	}
	if err := t.rdb.Publish(t.ctx, channelPrefix+conversationID, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Announce, Depart and Present delegate to the shared per-session presence
// sets; every node writes into the same keys.
func (t *RedisTransport) Announce(ctx context.Context, sessionID, userID string) error {
	return t.presence.Announce(ctx, sessionID, userID)
}

func (t *RedisTransport) Depart(ctx context.Context, sessionID, userID string) error {
	return t.presence.Depart(ctx, sessionID, userID)
}

func (t *RedisTransport) Present(ctx context.Context, sessionID string) ([]string, error) {
	return t.presence.Present(ctx, sessionID)
}

func (t *RedisTransport) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, 64)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			for i, sub := range t.subs {
				if sub == ch {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	t.cancel()
	err := t.pubsub.Close()
	for _, sub := range subs {
		close(sub)
	}
	return err
}

func (t *RedisTransport) receiveLoop() {
	msgs := t.pubsub.Channel()
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.log.Warn("signaling: dropping malformed envelope", "channel", msg.Channel, "err", err)
				continue
			}
			if env.From == t.selfID {
				continue
			}
			t.fanout(env)
		}
	}
}

func (t *RedisTransport) fanout(env Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		select {
		case sub <- env:
		default:
			t.log.Warn("signaling: subscriber full, dropping envelope",
				"conversation_id", env.ConversationID, "type", env.Event.Type)
		}
	}
}
