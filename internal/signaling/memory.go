package signaling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryHub is an in-process signaling fabric. Each participant obtains an
// endpoint; an event sent from one endpoint is delivered to every other
// endpoint's subscribers in send order.
//
// The hub also supports simulating an outage (SetDown), which makes every
// endpoint's Send fail with ErrUnavailable until the fabric comes back.
// Tests for the reconnection supervisor rely on this.
type MemoryHub struct {
	mu        sync.RWMutex
	endpoints map[string]*memoryEndpoint
	presence  map[string]map[string]struct{}
	down      bool
	clock     func() time.Time
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		endpoints: make(map[string]*memoryEndpoint),
		presence:  make(map[string]map[string]struct{}),
		clock:     time.Now,
	}
}

// Announce records userID as holding a live leg of sessionID. Presence is
// hub state, not endpoint state: it mirrors how the Redis fabric keeps one
// shared set per session.
func (h *MemoryHub) Announce(_ context.Context, sessionID, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return ErrUnavailable
	}
	set, ok := h.presence[sessionID]
	if !ok {
		set = make(map[string]struct{})
		h.presence[sessionID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (h *MemoryHub) Depart(_ context.Context, sessionID, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return ErrUnavailable
	}
	if set, ok := h.presence[sessionID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(h.presence, sessionID)
		}
	}
	return nil
}

func (h *MemoryHub) Present(_ context.Context, sessionID string) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.down {
		return nil, ErrUnavailable
	}
	ids := make([]string, 0, len(h.presence[sessionID]))
	for id := range h.presence[sessionID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Endpoint returns the transport bound to userID, creating it on first use.
func (h *MemoryHub) Endpoint(userID string) Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.endpoints[userID]; ok {
		return ep
	}
	ep := &memoryEndpoint{hub: h, userID: userID}
	h.endpoints[userID] = ep
	return ep
}

// SetDown toggles the simulated outage state.
func (h *MemoryHub) SetDown(down bool) {
	h.mu.Lock()
	h.down = down
	h.mu.Unlock()
}

func (h *MemoryHub) deliver(fromUserID, conversationID string, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.down {
		return ErrUnavailable
	}
	env := Envelope{
		ConversationID: conversationID,
		From:           fromUserID,
		Event:          ev,
		OccurredAt:     h.clock(),
	}
	for id, ep := range h.endpoints {
		if id == fromUserID {
			continue
		}
		ep.publish(env)
	}
	return nil
}

type memoryEndpoint struct {
	hub    *MemoryHub
	userID string

	mu     sync.Mutex
	subs   []chan Envelope
	closed bool
}

func (e *memoryEndpoint) Send(conversationID string, ev Event) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrUnavailable
	}
	return e.hub.deliver(e.userID, conversationID, ev)
}

func (e *memoryEndpoint) Announce(ctx context.Context, sessionID, userID string) error {
	return e.hub.Announce(ctx, sessionID, userID)
}

func (e *memoryEndpoint) Depart(ctx context.Context, sessionID, userID string) error {
	return e.hub.Depart(ctx, sessionID, userID)
}

func (e *memoryEndpoint) Present(ctx context.Context, sessionID string) ([]string, error) {
	return e.hub.Present(ctx, sessionID)
}

func (e *memoryEndpoint) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, 64)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			for i, sub := range e.subs {
				if sub == ch {
					e.subs = append(e.subs[:i], e.subs[i+1:]...)
					break
				}
			}
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (e *memoryEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, sub := range e.subs {
		close(sub)
	}
	e.subs = nil
	return nil
}

func (e *memoryEndpoint) publish(env Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, sub := range e.subs {
		// Non-blocking: a stalled subscriber drops events rather than
		// stalling every session on the hub.
		select {
		case sub <- env:
		default:
		}
	}
}
