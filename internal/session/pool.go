package session

import "sync"

// Pool lazily creates one Coordinator per local user. The API layer acts on
// behalf of whichever authenticated user a request carries, so coordinators
// are keyed by user id and live until the pool closes.
type Pool struct {
	factory func(selfID string) *Coordinator

	mu     sync.Mutex
	coords map[string]*Coordinator
	closed bool
}

func NewPool(factory func(selfID string) *Coordinator) *Pool {
	return &Pool{factory: factory, coords: make(map[string]*Coordinator)}
}

// For returns the user's coordinator, creating it on first use. Returns nil
// after Close.
func (p *Pool) For(userID string) *Coordinator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if c, ok := p.coords[userID]; ok {
		return c
	}
	c := p.factory(userID)
	p.coords[userID] = c
	return c
}

// Find locates a session by id across every coordinator. Used for
// admin-initiated teardown, where the caller does not own the session.
func (p *Pool) Find(sessionID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.coords {
		if s, ok := c.Get(sessionID); ok {
			return s, true
		}
	}
	return nil, false
}

// Close shuts down every coordinator, hanging up their sessions.
func (p *Pool) Close() {
	p.mu.Lock()
	coords := p.coords
	p.coords = make(map[string]*Coordinator)
	p.closed = true
	p.mu.Unlock()

	for _, c := range coords {
		c.Close()
	}
}
