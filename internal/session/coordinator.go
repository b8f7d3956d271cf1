package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/internal/signaling"
)

// Coordinator owns the active sessions of one local user and bridges
// signaling to them. Distinct sessions are independent actors; the
// coordinator only routes.
type Coordinator struct {
	transport signaling.Transport
	selfID    string
	cfg       Config
	negotiate Negotiator
	sink      RecordSink
	limiter   ConversationLimiter
	clock     func() time.Time
	log       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	incomingMu sync.RWMutex
	incoming   []func(*IncomingCall)

	done     chan struct{}
	stopOnce sync.Once
}

// CoordinatorConfig bundles the coordinator dependencies.
type CoordinatorConfig struct {
	SelfID     string
	Session    Config
	Negotiator Negotiator
	Sink       RecordSink
	Limiter    ConversationLimiter
	Clock      func() time.Time
	Logger     *slog.Logger
}

// IncomingCall notifies the application layer of a ringing inbound session.
type IncomingCall struct {
	SessionID      string
	ConversationID string
	From           string
	CallType       calls.CallType
	IsGroupCall    bool

	// Session is the handle to answer with Accept/Reject.
	Session *Session
}

// InitiateRequest starts an outbound call or huddle.
type InitiateRequest struct {
	WorkspaceID    string
	ConversationID string
	TargetIDs      []string
	Kind           calls.CallType
	Mode           Mode
}

// NewCoordinator attaches to the transport and starts dispatching inbound
// signaling immediately.
func NewCoordinator(transport signaling.Transport, cfg CoordinatorConfig) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NoopLimiter{}
	}
	c := &Coordinator{
		transport: transport,
		selfID:    cfg.SelfID,
		cfg:       cfg.Session.withDefaults(),
		negotiate: cfg.Negotiator,
		sink:      cfg.Sink,
		limiter:   cfg.Limiter,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		sessions:  make(map[string]*Session),
		done:      make(chan struct{}),
	}
	// Subscribe before returning so no invite can slip past between
	// construction and the first dispatch.
	ch, cancel := transport.Subscribe()
	go c.dispatchLoop(ch, cancel)
	return c
}

// OnIncoming registers a callback fired for each inbound invite. Multiple
// handlers may register; each receives every incoming call.
func (c *Coordinator) OnIncoming(fn func(*IncomingCall)) {
	c.incomingMu.Lock()
	c.incoming = append(c.incoming, fn)
	c.incomingMu.Unlock()
}

// Initiate starts an outbound session. Valid only when the conversation has
// no active session; a second attempt returns ErrBusy.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (*Session, error) {
	if req.ConversationID == "" || len(req.TargetIDs) == 0 {
		return nil, fmt.Errorf("%w: conversation and targets are required", ErrInvalidRequest)
	}
	if req.Kind != calls.CallTypeAudio && req.Kind != calls.CallTypeVideo {
		return nil, fmt.Errorf("%w: unknown call type %q", ErrInvalidRequest, req.Kind)
	}
	if req.Mode == "" {
		req.Mode = ModeRegular
	}
	if req.Mode == ModeRegular && len(req.TargetIDs) > 1 {
		return nil, fmt.Errorf("%w: a regular call has exactly one target", ErrInvalidRequest)
	}
	if limit := c.cfg.HuddleMaxParticipants; req.Mode == ModeHuddle && limit > 0 && len(req.TargetIDs)+1 > limit {
		return nil, fmt.Errorf("%w: limit %d", ErrHuddleFull, limit)
	}

	sessionID := uuid.NewString()
	ok, err := c.limiter.Acquire(ctx, req.ConversationID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: active-call check failed: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}

	sess := newSession(sessionParams{
		id:             sessionID,
		workspaceID:    req.WorkspaceID,
		conversationID: req.ConversationID,
		selfID:         c.selfID,
		initiatorID:    c.selfID,
		kind:           req.Kind,
		mode:           req.Mode,
		targets:        req.TargetIDs,
		incoming:       false,
		transport:      c.transport,
		negotiate:      c.negotiate,
		sink:           c.sink,
		cfg:            c.cfg,
		clock:          c.clock,
		log:            c.log,
		onRetire:       c.removeSession,
	})

	c.mu.Lock()
	c.sessions[sess.ID()] = sess
	c.mu.Unlock()

	ev := signaling.Event{
		Type:        signaling.EventInvite,
		SessionID:   sess.ID(),
		WorkspaceID: req.WorkspaceID,
		CallType:    req.Kind,
		IsGroupCall: req.Mode == ModeHuddle,
		TargetIDs:   req.TargetIDs,
	}
	if err := c.transport.Send(req.ConversationID, ev); err != nil {
		// Nobody was reached: fold the session without a history record.
		c.mu.Lock()
		delete(c.sessions, sess.ID())
		c.mu.Unlock()

		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if relErr := c.limiter.Release(releaseCtx, req.ConversationID, sess.ID()); relErr != nil {
			c.log.Warn("active-call slot release failed",
				"conversation_id", req.ConversationID, "err", relErr)
		}
		cancel()
		sess.discard()
		return nil, fmt.Errorf("session: invite send failed: %w", err)
	}

	c.log.Info("call initiated",
		"session_id", sess.ID(),
		"conversation_id", req.ConversationID,
		"kind", req.Kind,
		"mode", req.Mode,
	)
	return sess, nil
}

// Get returns the session for id, if it is still active.
func (c *Coordinator) Get(sessionID string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// Close hangs up every active session and stops dispatching.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Hangup()
		s.retire()
	}
}

func (c *Coordinator) removeSession(s *Session) {
	c.mu.Lock()
	_, ok := c.sessions[s.ID()]
	delete(c.sessions, s.ID())
	c.mu.Unlock()
	if !ok {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.limiter.Release(releaseCtx, s.ConversationID(), s.ID()); err != nil {
		c.log.Warn("active-call slot release failed",
			"conversation_id", s.ConversationID(), "err", err)
	}
	s.retire()
}

func (c *Coordinator) dispatchLoop(ch <-chan signaling.Envelope, cancel func()) {
	defer cancel()

	for {
		select {
		case <-c.done:
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			c.dispatch(env)
		}
	}
}

func (c *Coordinator) dispatch(env signaling.Envelope) {
	c.mu.RLock()
	sess, ok := c.sessions[env.Event.SessionID]
	c.mu.RUnlock()
	if ok {
		sess.deliver(env)
		return
	}

	if env.Event.Type != signaling.EventInvite {
		// Stale signal for a session already retired; terminal semantics
		// make dropping it safe.
		return
	}
	if len(env.Event.TargetIDs) > 0 && !contains(env.Event.TargetIDs, c.selfID) {
		return
	}
	c.handleInvite(env)
}

func (c *Coordinator) handleInvite(env signaling.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := c.limiter.Acquire(ctx, env.ConversationID, env.Event.SessionID)
	if err != nil {
		c.log.Warn("active-call check failed on invite", "conversation_id", env.ConversationID, "err", err)
		return
	}
	if !ok {
		// Another call is live in this conversation: report busy.
		busy := signaling.Event{
			Type:      signaling.EventReject,
			SessionID: env.Event.SessionID,
			Reason:    "busy",
		}
		if sendErr := c.transport.Send(env.ConversationID, busy); sendErr != nil {
			c.log.Warn("busy reject send failed", "conversation_id", env.ConversationID, "err", sendErr)
		}
		return
	}

	mode := ModeRegular
	if env.Event.IsGroupCall {
		mode = ModeHuddle
	}
	targets := append([]string{}, env.Event.TargetIDs...)
	if !contains(targets, c.selfID) {
		targets = append(targets, c.selfID)
	}

	sess := newSession(sessionParams{
		id:             env.Event.SessionID,
		workspaceID:    env.Event.WorkspaceID,
		conversationID: env.ConversationID,
		selfID:         c.selfID,
		initiatorID:    env.From,
		kind:           env.Event.CallType,
		mode:           mode,
		targets:        targets,
		incoming:       true,
		transport:      c.transport,
		negotiate:      c.negotiate,
		sink:           c.sink,
		cfg:            c.cfg,
		clock:          c.clock,
		log:            c.log,
		onRetire:       c.removeSession,
	})

	c.mu.Lock()
	c.sessions[sess.ID()] = sess
	c.mu.Unlock()

	ic := &IncomingCall{
		SessionID:      sess.ID(),
		ConversationID: env.ConversationID,
		From:           env.From,
		CallType:       env.Event.CallType,
		IsGroupCall:    env.Event.IsGroupCall,
		Session:        sess,
	}

	c.incomingMu.RLock()
	handlers := make([]func(*IncomingCall), len(c.incoming))
	copy(handlers, c.incoming)
	c.incomingMu.RUnlock()
	for _, fn := range handlers {
		fn(ic)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
