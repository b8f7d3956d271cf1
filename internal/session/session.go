// Package session owns the call/huddle lifecycle: one actor per session
// serializes local commands, transport events and timer fires into a single
// ordered queue, so no intra-session race can reorder the state machine.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/internal/signaling"
)

// Config holds the per-session timers.
type Config struct {
	// RingTimeout bounds how long an Outgoing/Incoming session rings before
	// it ends as missed.
	RingTimeout time.Duration

	// NegotiationTimeout bounds media-path establishment once a call is
	// accepted.
	NegotiationTimeout time.Duration

	// HuddleMaxParticipants caps huddle membership, counting everyone not
	// yet left (invited included). 0 means unlimited.
	HuddleMaxParticipants int
}

func (c Config) withDefaults() Config {
	out := c
	if out.RingTimeout <= 0 {
		out.RingTimeout = 40 * time.Second
	}
	if out.NegotiationTimeout <= 0 {
		out.NegotiationTimeout = 20 * time.Second
	}
	return out
}

// Negotiator establishes the media path after a call is accepted. The
// mechanics (offer/answer/ICE) are outside this core; only the outcome
// matters. A nil Negotiator succeeds immediately.
type Negotiator func(ctx context.Context) error

// RecordSink receives the flattened CallRecord when a session reaches a
// terminal state. Delivery is best-effort and runs off the session actor.
type RecordSink func(ctx context.Context, rec calls.CallRecord)

type op int

const (
	opAccept op = iota
	opReject
	opCancel
	opHangup
	opToggleMute
	opAddParticipant
	opEnvelope
	opRingTimeout
	opNegotiationDone
	opTransportLost
	opReconnectOK
	opReconnectFailed
)

type message struct {
	op      op
	env     signaling.Envelope
	userID  string
	present []string
	err     error
	reply   chan result
}

type result struct {
	muted bool
	err   error
}

// Session is one call or huddle lifecycle, owned by exactly one Coordinator.
// All mutation happens on the actor goroutine; public methods enqueue and
// wait for the actor's short, non-blocking reply.
type Session struct {
	id             string
	workspaceID    string
	conversationID string
	selfID         string
	initiatorID    string
	kind           calls.CallType
	mode           Mode

	transport signaling.Transport
	negotiate Negotiator
	sink      RecordSink
	cfg       Config
	clock     func() time.Time
	log       *slog.Logger
	onRetire  func(*Session)

	inbox chan message
	done  chan struct{}
	stop  sync.Once

	members *Registry

	// Snapshot fields, guarded by mu, written only by the actor.
	mu           sync.RWMutex
	state        State
	reconnecting bool
	status       calls.CallStatus
	localMuted   bool
	startedAt    time.Time
	connectedAt  time.Time
	endedAt      time.Time

	subMu sync.Mutex
	subs  []chan StateChange

	ringTimer *time.Timer
	negCancel context.CancelFunc
}

type sessionParams struct {
	id             string
	workspaceID    string
	conversationID string
	selfID         string
	initiatorID    string
	kind           calls.CallType
	mode           Mode
	targets        []string
	incoming       bool

	transport signaling.Transport
	negotiate Negotiator
	sink      RecordSink
	cfg       Config
	clock     func() time.Time
	log       *slog.Logger
	onRetire  func(*Session)
}

func newSession(p sessionParams) *Session {
	now := p.clock()
	s := &Session{
		id:             p.id,
		workspaceID:    p.workspaceID,
		conversationID: p.conversationID,
		selfID:         p.selfID,
		initiatorID:    p.initiatorID,
		kind:           p.kind,
		mode:           p.mode,
		transport:      p.transport,
		negotiate:      p.negotiate,
		sink:           p.sink,
		cfg:            p.cfg.withDefaults(),
		clock:          p.clock,
		log:            p.log,
		onRetire:       p.onRetire,
		inbox:          make(chan message, 64),
		done:           make(chan struct{}),
		members:        NewRegistry(),
		startedAt:      now,
	}

	_ = s.members.Add(p.initiatorID, true, now)
	for _, id := range p.targets {
		if id == p.initiatorID {
			continue
		}
		_ = s.members.Add(id, false, time.Time{})
	}

	if p.incoming {
		s.state = StateIncoming
	} else {
		s.state = StateOutgoing
		s.announcePresence()
	}

	s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() {
		s.post(message{op: opRingTimeout})
	})

	go s.run()
	return s
}

// --- public handle ---

func (s *Session) ID() string             { return s.id }
func (s *Session) ConversationID() string { return s.conversationID }
func (s *Session) WorkspaceID() string    { return s.workspaceID }
func (s *Session) InitiatorID() string    { return s.initiatorID }
func (s *Session) Kind() calls.CallType   { return s.kind }
func (s *Session) Mode() Mode             { return s.mode }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot is a read-only view of the session for the API layer.
type Snapshot struct {
	ID             string              `json:"id"`
	WorkspaceID    string              `json:"workspace_id"`
	ConversationID string              `json:"conversation_id"`
	InitiatorID    string              `json:"initiator_id"`
	Kind           calls.CallType      `json:"kind"`
	Mode           Mode                `json:"mode"`
	State          State               `json:"state"`
	Reconnecting   bool                `json:"reconnecting,omitempty"`
	Status         calls.CallStatus    `json:"status,omitempty"`
	LocalMuted     bool                `json:"local_muted"`
	Participants   []calls.Participant `json:"participants"`
	StartedAt      time.Time           `json:"started_at"`
	EndedAt        *time.Time          `json:"ended_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:             s.id,
		WorkspaceID:    s.workspaceID,
		ConversationID: s.conversationID,
		InitiatorID:    s.initiatorID,
		Kind:           s.kind,
		Mode:           s.mode,
		State:          s.state,
		Reconnecting:   s.reconnecting,
		Status:         s.status,
		LocalMuted:     s.localMuted,
		Participants:   s.members.List(),
		StartedAt:      s.startedAt,
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// Accept answers an incoming session and begins media-path establishment.
func (s *Session) Accept() error {
	return s.do(message{op: opAccept}).err
}

// Reject declines an incoming session.
func (s *Session) Reject() error {
	return s.do(message{op: opReject}).err
}

// Cancel withdraws a session that has not connected yet. Once the call is
// connecting or active, Cancel is redefined as a hangup.
func (s *Session) Cancel() error {
	return s.do(message{op: opCancel}).err
}

// Hangup ends the session from any non-terminal state.
func (s *Session) Hangup() error {
	return s.do(message{op: opHangup}).err
}

// ToggleLocalMute flips the local mute flag and announces the change.
// It returns the new muted state. Remote participants' own flags are
// unaffected; the signal only informs their rendering.
func (s *Session) ToggleLocalMute() (bool, error) {
	r := s.do(message{op: opToggleMute})
	return r.muted, r.err
}

// AddParticipant invites one more user into a huddle. Only the new
// participant is signaled; established links are not renegotiated.
func (s *Session) AddParticipant(userID string) error {
	return s.do(message{op: opAddParticipant, userID: userID}).err
}

// Participants returns the current membership set.
func (s *Session) Participants() []calls.Participant {
	return s.members.List()
}

// Subscribe registers for state-change notifications. Slow subscribers drop
// events rather than stalling the actor.
func (s *Session) Subscribe() (<-chan StateChange, func()) {
	ch := make(chan StateChange, 16)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			for i, sub := range s.subs {
				if sub == ch {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

// deliver routes one inbound signaling envelope into the session queue.
func (s *Session) deliver(env signaling.Envelope) {
	s.post(message{op: opEnvelope, env: env})
}

// BeginReconnecting moves an Active session into the reconnecting sub-state
// without discarding session or membership state. It reports whether the
// session accepted the transition; only Active sessions do.
func (s *Session) BeginReconnecting() bool {
	return s.do(message{op: opTransportLost}).err == nil
}

// CompleteReconnect returns a reconnecting session to Active, marking as
// left anyone absent from the transport-reported participant set.
func (s *Session) CompleteReconnect(present []string) {
	s.do(message{op: opReconnectOK, present: present})
}

// FailReconnect gives up on a reconnecting session.
func (s *Session) FailReconnect(err error) {
	s.do(message{op: opReconnectFailed, err: err})
}

// retire stops the actor goroutine. Called by the Coordinator once the
// session is terminal and deregistered; late callers get no-op results.
func (s *Session) retire() {
	s.stop.Do(func() { close(s.done) })
}

// discard folds a session whose invite never reached anyone. Nothing was
// signaled, so no record is sunk and no end event is sent. Only the
// Coordinator calls this, before the session handle escapes.
func (s *Session) discard() {
	s.stopRingTimer()
	s.mu.Lock()
	s.state = StateFailed
	s.status = calls.CallStatusFailed
	s.endedAt = s.clock()
	s.mu.Unlock()
	s.departPresence()
	s.retire()
}

// --- actor ---

func (s *Session) do(msg message) result {
	msg.reply = make(chan result, 1)
	select {
	case <-s.done:
		return result{muted: s.snapshotMuted()}
	case s.inbox <- msg:
	}
	select {
	case <-s.done:
		return result{muted: s.snapshotMuted()}
	case r := <-msg.reply:
		return r
	}
}

func (s *Session) post(msg message) {
	select {
	case <-s.done:
	case s.inbox <- msg:
	}
}

func (s *Session) snapshotMuted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localMuted
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.inbox:
			r := s.handle(msg)
			if msg.reply != nil {
				msg.reply <- r
			}
		}
	}
}

func (s *Session) handle(msg message) result {
	if s.State().IsTerminal() {
		// Guard rule: terminal sessions absorb everything. This resolves
		// the race between a local hangup and a concurrently arriving
		// remote accept/end.
		return result{muted: s.snapshotMuted()}
	}

	switch msg.op {
	case opAccept:
		return s.handleAccept()
	case opReject:
		return s.handleReject()
	case opCancel:
		return s.handleCancel()
	case opHangup:
		return s.handleHangup()
	case opToggleMute:
		return s.handleToggleMute()
	case opAddParticipant:
		return s.handleAddParticipant(msg.userID)
	case opEnvelope:
		s.handleEnvelope(msg.env)
	case opRingTimeout:
		s.handleRingTimeout()
	case opNegotiationDone:
		s.handleNegotiationDone(msg.err)
	case opTransportLost:
		return s.handleTransportLost()
	case opReconnectOK:
		s.handleReconnectOK(msg.present)
	case opReconnectFailed:
		s.handleReconnectFailed(msg.err)
	}
	return result{}
}

func (s *Session) handleAccept() result {
	if s.State() != StateIncoming {
		return result{err: fmt.Errorf("%w: accept in %s", ErrInvalidTransition, s.State())}
	}
	s.stopRingTimer()
	_ = s.members.MarkJoined(s.selfID, s.clock())
	s.announcePresence()
	s.setState(StateConnecting)
	s.send(signaling.Event{Type: signaling.EventAccept, SessionID: s.id})
	s.startNegotiation()
	return result{}
}

func (s *Session) handleReject() result {
	if s.State() != StateIncoming {
		return result{err: fmt.Errorf("%w: reject in %s", ErrInvalidTransition, s.State())}
	}
	s.send(signaling.Event{Type: signaling.EventReject, SessionID: s.id})
	s.toTerminal(StateEnded, calls.CallStatusRejected)
	return result{}
}

func (s *Session) handleCancel() result {
	switch s.State() {
	case StateOutgoing, StateIncoming:
		s.send(signaling.Event{Type: signaling.EventCancel, SessionID: s.id})
		s.toTerminal(StateEnded, calls.CallStatusCancelled)
		return result{}
	case StateConnecting, StateActive:
		// Too late to cancel; this is a hangup now.
		return s.handleHangup()
	default:
		return result{err: fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, s.State())}
	}
}

func (s *Session) handleHangup() result {
	st := s.State()
	s.send(signaling.Event{Type: signaling.EventEnd, SessionID: s.id})
	if st == StateActive {
		s.toTerminal(StateEnded, calls.CallStatusCompleted)
	} else {
		s.toTerminal(StateEnded, calls.CallStatusCancelled)
	}
	return result{}
}

func (s *Session) handleToggleMute() result {
	st := s.State()
	if st != StateConnecting && st != StateActive {
		return result{muted: s.snapshotMuted(), err: fmt.Errorf("%w: mute toggle in %s", ErrInvalidTransition, st)}
	}

	s.mu.Lock()
	s.localMuted = !s.localMuted
	muted := s.localMuted
	s.mu.Unlock()

	_ = s.members.SetMuted(s.selfID, muted)
	s.send(signaling.Event{Type: signaling.EventMuteChanged, SessionID: s.id, Muted: muted})
	return result{muted: muted}
}

func (s *Session) handleAddParticipant(userID string) result {
	if s.mode != ModeHuddle {
		return result{err: ErrNotHuddle}
	}
	st := s.State()
	if st != StateConnecting && st != StateActive {
		return result{err: fmt.Errorf("%w: add participant in %s", ErrInvalidTransition, st)}
	}
	if limit := s.cfg.HuddleMaxParticipants; limit > 0 && len(s.members.Present()) >= limit {
		return result{err: fmt.Errorf("%w: limit %d", ErrHuddleFull, limit)}
	}
	if err := s.members.Add(userID, false, time.Time{}); err != nil {
		return result{err: err}
	}

	// Invite only the newcomer; established links stay as they are.
	ev := signaling.Event{
		Type:        signaling.EventInvite,
		SessionID:   s.id,
		CallType:    s.kind,
		IsGroupCall: true,
		TargetIDs:   []string{userID},
	}
	if err := s.transport.Send(s.conversationID, ev); err != nil {
		_ = s.members.MarkLeft(userID, s.clock())
		return result{err: fmt.Errorf("%w: %s: %v", ErrParticipantInvite, userID, err)}
	}

	// Let the rest of the huddle know who is joining.
	s.send(signaling.Event{Type: signaling.EventAddParticipant, SessionID: s.id, UserID: userID})
	return result{}
}

func (s *Session) handleEnvelope(env signaling.Envelope) {
	from := env.From
	switch env.Event.Type {
	case signaling.EventAccept:
		_ = s.members.MarkJoined(from, s.clock())
		if s.State() == StateOutgoing {
			s.stopRingTimer()
			s.setState(StateConnecting)
			s.startNegotiation()
		}

	case signaling.EventReject:
		_ = s.members.MarkLeft(from, s.clock())
		if s.State() == StateOutgoing && s.remotePresent() == 0 {
			s.toTerminal(StateEnded, calls.CallStatusRejected)
		}

	case signaling.EventCancel:
		// Caller withdrew before we answered: our side records a missed call.
		if s.State() == StateIncoming {
			s.toTerminal(StateEnded, calls.CallStatusMissed)
		}

	case signaling.EventEnd:
		switch s.State() {
		case StateActive:
			_ = s.members.MarkLeft(from, s.clock())
			if s.mode == ModeHuddle && s.remotePresent() > 0 {
				// Huddles outlive individual departures.
				return
			}
			s.toTerminal(StateEnded, calls.CallStatusCompleted)
		case StateConnecting:
			s.toTerminal(StateEnded, calls.CallStatusFailed)
		case StateIncoming:
			s.toTerminal(StateEnded, calls.CallStatusMissed)
		case StateOutgoing:
			s.toTerminal(StateEnded, calls.CallStatusRejected)
		}

	case signaling.EventMuteChanged:
		// Applied as an explicit remote report, never inferred.
		if err := s.members.SetMuted(from, env.Event.Muted); err != nil {
			s.log.Warn("mute change for unknown participant", "session_id", s.id, "user_id", from)
		}

	case signaling.EventAddParticipant:
		if err := s.members.Add(env.Event.UserID, false, time.Time{}); err != nil && err != ErrAlreadyParticipant {
			s.log.Warn("add-participant event dropped", "session_id", s.id, "user_id", env.Event.UserID, "err", err)
		}

	case signaling.EventInvite:
		// A session already exists; a duplicate invite is stale. Ignore.

	default:
		s.log.Debug("ignoring unknown signaling event", "session_id", s.id, "type", env.Event.Type)
	}
}

func (s *Session) handleRingTimeout() {
	switch s.State() {
	case StateOutgoing:
		// Nobody answered. Tell the callee side to stop ringing.
		s.send(signaling.Event{Type: signaling.EventCancel, SessionID: s.id, Reason: "ring-timeout"})
		s.toTerminal(StateEnded, calls.CallStatusMissed)
	case StateIncoming:
		s.toTerminal(StateEnded, calls.CallStatusMissed)
	}
}

func (s *Session) handleNegotiationDone(err error) {
	if s.State() != StateConnecting {
		return
	}
	s.mu.RLock()
	reconnecting := s.reconnecting
	s.mu.RUnlock()
	if reconnecting {
		// Resumption outcomes arrive via the reconnection supervisor.
		return
	}

	if err != nil {
		s.log.Warn("negotiation failed", "session_id", s.id, "err", err)
		s.toTerminal(StateFailed, calls.CallStatusFailed)
		return
	}

	s.mu.Lock()
	s.connectedAt = s.clock()
	s.mu.Unlock()
	s.setState(StateActive)
}

func (s *Session) handleTransportLost() result {
	if s.State() != StateActive {
		// Pre-active transport loss is covered by ring/negotiation timeouts.
		return result{err: fmt.Errorf("%w: transport loss in %s", ErrInvalidTransition, s.State())}
	}
	s.mu.Lock()
	s.state = StateConnecting
	s.reconnecting = true
	s.mu.Unlock()
	s.publish()
	s.log.Info("transport lost, reconnecting", "session_id", s.id, "conversation_id", s.conversationID)
	return result{}
}

func (s *Session) handleReconnectOK(present []string) {
	s.mu.RLock()
	reconnecting := s.reconnecting
	s.mu.RUnlock()
	if !reconnecting {
		return
	}

	// Our own leg is present by definition once the resume succeeded, even
	// if the fabric's claim for it lapsed during the outage.
	removed := s.members.RetainPresent(append(append([]string{}, present...), s.selfID), s.clock())
	if len(removed) > 0 {
		s.log.Info("participants left during outage", "session_id", s.id, "user_ids", removed)
	}

	s.mu.Lock()
	s.reconnecting = false
	s.state = StateActive
	s.mu.Unlock()
	// Re-assert our own leg; the outage may have outlived the old claim.
	s.announcePresence()
	s.publish()
}

func (s *Session) handleReconnectFailed(err error) {
	s.mu.RLock()
	reconnecting := s.reconnecting
	s.mu.RUnlock()
	if !reconnecting {
		return
	}
	s.log.Warn("reconnection exhausted", "session_id", s.id, "err", err)
	s.toTerminal(StateFailed, calls.CallStatusFailed)
}

// --- internals ---

func (s *Session) startNegotiation() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NegotiationTimeout)
	s.negCancel = cancel
	go func() {
		defer cancel()
		var err error
		if s.negotiate != nil {
			err = s.negotiate(ctx)
		}
		if err == nil {
			err = ctx.Err()
		}
		s.post(message{op: opNegotiationDone, err: err})
	}()
}

// announcePresence claims our leg of the session in the fabric's presence
// set, when the transport keeps one. Best-effort and off the actor.
func (s *Session) announcePresence() {
	pt, ok := s.transport.(signaling.PresenceTracker)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pt.Announce(ctx, s.id, s.selfID); err != nil {
			s.log.Warn("presence announce failed", "session_id", s.id, "err", err)
		}
	}()
}

func (s *Session) departPresence() {
	pt, ok := s.transport.(signaling.PresenceTracker)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pt.Depart(ctx, s.id, s.selfID); err != nil {
			s.log.Warn("presence depart failed", "session_id", s.id, "err", err)
		}
	}()
}

func (s *Session) remotePresent() int {
	n := 0
	for _, id := range s.members.Present() {
		if id != s.selfID {
			n++
		}
	}
	return n
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.reconnecting = false
	s.mu.Unlock()
	s.publish()
}

func (s *Session) toTerminal(st State, status calls.CallStatus) {
	s.stopRingTimer()
	if s.negCancel != nil {
		s.negCancel()
		s.negCancel = nil
	}

	now := s.clock()
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.reconnecting = false
	s.status = status
	s.endedAt = now
	s.mu.Unlock()

	if p, ok := s.members.Get(s.selfID); ok && p.JoinedAt != nil {
		_ = s.members.MarkLeft(s.selfID, now)
	}
	s.departPresence()
	s.publish()

	rec := s.buildRecord()
	if s.sink != nil {
		go s.sink(context.Background(), rec)
	}
	if s.onRetire != nil {
		go s.onRetire(s)
	}
	s.log.Info("session ended",
		"session_id", s.id,
		"conversation_id", s.conversationID,
		"state", st,
		"status", status,
		"duration_s", rec.DurationSeconds,
	)
}

// buildRecord flattens the finished session into its durable history form.
func (s *Session) buildRecord() calls.CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := calls.CallRecord{
		ID:             s.id,
		WorkspaceID:    s.workspaceID,
		ConversationID: s.conversationID,
		InitiatorID:    s.initiatorID,
		Type:           s.kind,
		Status:         s.status,
		IsGroupCall:    s.mode == ModeHuddle,
		Participants:   s.members.List(),
		StartedAt:      s.startedAt,
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		rec.EndedAt = &t
	}
	if s.status == calls.CallStatusCompleted && !s.connectedAt.IsZero() {
		if d := int(s.endedAt.Sub(s.connectedAt).Seconds()); d > 0 {
			rec.DurationSeconds = d
		}
	}
	return rec
}

func (s *Session) publish() {
	s.mu.RLock()
	change := StateChange{
		SessionID:      s.id,
		ConversationID: s.conversationID,
		State:          s.state,
		Reconnecting:   s.reconnecting,
		Status:         s.status,
		At:             s.clock(),
	}
	s.mu.RUnlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub <- change:
		default:
		}
	}
}

func (s *Session) send(ev signaling.Event) {
	if err := s.transport.Send(s.conversationID, ev); err != nil {
		s.log.Warn("signal send failed",
			"session_id", s.id, "type", ev.Type, "err", err)
	}
}

func (s *Session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
}
