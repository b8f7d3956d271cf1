package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type recordCollector struct {
	mu   sync.Mutex
	recs []calls.CallRecord
}

func (c *recordCollector) sink(ctx context.Context, rec calls.CallRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *recordCollector) all() []calls.CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]calls.CallRecord, len(c.recs))
	copy(out, c.recs)
	return out
}

// memoryLimiter mirrors the Redis owner-lock semantics for tests: the slot
// is shared by acquisitions with the same session id, refused otherwise.
type memoryLimiter struct {
	mu     sync.Mutex
	owners map[string]string
}

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{owners: make(map[string]string)}
}

func (l *memoryLimiter) Acquire(ctx context.Context, conversationID, sessionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.owners[conversationID]; ok && cur != sessionID {
		return false, nil
	}
	l.owners[conversationID] = sessionID
	return true, nil
}

func (l *memoryLimiter) Release(ctx context.Context, conversationID, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[conversationID] == sessionID {
		delete(l.owners, conversationID)
	}
	return nil
}

type fixture struct {
	hub   *signaling.MemoryHub
	sink  *recordCollector
	coord map[string]*Coordinator
	ring  map[string]chan *IncomingCall
}

func newFixture(t *testing.T, limiter ConversationLimiter, users ...string) *fixture {
	t.Helper()
	f := &fixture{
		hub:   signaling.NewMemoryHub(),
		sink:  &recordCollector{},
		coord: make(map[string]*Coordinator),
		ring:  make(map[string]chan *IncomingCall),
	}
	for _, u := range users {
		ch := make(chan *IncomingCall, 4)
		c := NewCoordinator(f.hub.Endpoint(u), CoordinatorConfig{
			SelfID:  u,
			Limiter: limiter,
			Sink:    f.sink.sink,
			Logger:  discardLogger(),
		})
		c.OnIncoming(func(ic *IncomingCall) { ch <- ic })
		f.coord[u] = c
		f.ring[u] = ch
		t.Cleanup(c.Close)
	}
	return f
}

func (f *fixture) awaitRing(t *testing.T, user string) *IncomingCall {
	t.Helper()
	select {
	case ic := <-f.ring[user]:
		return ic
	case <-time.After(3 * time.Second):
		t.Fatalf("%s never rang", user)
		return nil
	}
}

func TestCallAcceptAndHangup(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if out.State() != StateOutgoing {
		t.Fatalf("caller state = %s, want outgoing", out.State())
	}

	ic := f.awaitRing(t, "bob")
	if ic.From != "alice" || ic.CallType != calls.CallTypeAudio || ic.IsGroupCall {
		t.Fatalf("unexpected incoming call: %+v", ic)
	}
	if ic.Session.State() != StateIncoming {
		t.Fatalf("callee state = %s, want incoming", ic.Session.State())
	}

	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "caller never reached active")
	waitFor(t, func() bool { return ic.Session.State() == StateActive }, "callee never reached active")

	if err := out.Hangup(); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	waitFor(t, func() bool { return out.State().IsTerminal() }, "caller never ended")
	waitFor(t, func() bool { return ic.Session.State().IsTerminal() }, "callee never ended")

	waitFor(t, func() bool { return len(f.sink.all()) == 2 }, "records were not sunk")
	for _, rec := range f.sink.all() {
		if rec.Status != calls.CallStatusCompleted {
			t.Fatalf("record status = %s, want completed", rec.Status)
		}
		if rec.ConversationID != "conv1" || rec.WorkspaceID != "ws1" {
			t.Fatalf("record routing = %s/%s", rec.WorkspaceID, rec.ConversationID)
		}
		if rec.InitiatorID != "alice" {
			t.Fatalf("record initiator = %s, want alice", rec.InitiatorID)
		}
	}
}

func TestCancelBeforeAnswerNeverActivates(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeVideo,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	ic := f.awaitRing(t, "bob")

	if err := out.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	snap := out.Snapshot()
	if snap.State != StateEnded || snap.Status != calls.CallStatusCancelled {
		t.Fatalf("caller = %s/%s, want ended/cancelled", snap.State, snap.Status)
	}

	// The callee side records a missed call, never an active one.
	waitFor(t, func() bool { return ic.Session.State().IsTerminal() }, "callee never ended")
	calleeSnap := ic.Session.Snapshot()
	if calleeSnap.Status != calls.CallStatusMissed {
		t.Fatalf("callee status = %s, want missed", calleeSnap.Status)
	}
}

func TestRejectEndsBothSides(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	ic := f.awaitRing(t, "bob")

	if err := ic.Session.Reject(); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got := ic.Session.Snapshot().Status; got != calls.CallStatusRejected {
		t.Fatalf("callee status = %s, want rejected", got)
	}
	waitFor(t, func() bool { return out.State().IsTerminal() }, "caller never ended")
	if got := out.Snapshot().Status; got != calls.CallStatusRejected {
		t.Fatalf("caller status = %s, want rejected", got)
	}
}

func TestTerminalStateIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	f.awaitRing(t, "bob")

	if err := out.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	first := out.Snapshot()

	// Every later command is absorbed without error or state change.
	if err := out.Hangup(); err != nil {
		t.Fatalf("Hangup after end: %v", err)
	}
	if err := out.Cancel(); err != nil {
		t.Fatalf("Cancel after end: %v", err)
	}
	second := out.Snapshot()
	if second.State != first.State || second.Status != first.Status {
		t.Fatalf("terminal snapshot changed: %+v -> %+v", first, second)
	}
	if first.EndedAt == nil || second.EndedAt == nil || !second.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("EndedAt changed: %v -> %v", first.EndedAt, second.EndedAt)
	}

	time.Sleep(50 * time.Millisecond)
	// One cancelled record from the caller; the callee's is missed.
	var cancelled int
	for _, rec := range f.sink.all() {
		if rec.ID == out.ID() && rec.Status == calls.CallStatusCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Fatalf("cancelled records = %d, want exactly 1", cancelled)
	}
}

func TestAcceptOnlyFromIncoming(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := out.Accept(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Accept on outgoing err = %v, want ErrInvalidTransition", err)
	}
	if err := out.Reject(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Reject on outgoing err = %v, want ErrInvalidTransition", err)
	}
}

func TestMuteToggle(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// Mute is only valid once the call is establishing or live.
	if _, err := out.ToggleLocalMute(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("mute while ringing err = %v, want ErrInvalidTransition", err)
	}

	ic := f.awaitRing(t, "bob")
	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "caller never reached active")

	muted, err := out.ToggleLocalMute()
	if err != nil {
		t.Fatalf("ToggleLocalMute: %v", err)
	}
	if !muted {
		t.Fatal("first toggle should mute")
	}

	// The report reaches the callee's membership view.
	waitFor(t, func() bool {
		for _, p := range ic.Session.Participants() {
			if p.UserID == "alice" && p.Muted {
				return true
			}
		}
		return false
	}, "callee never saw alice muted")

	muted, err = out.ToggleLocalMute()
	if err != nil {
		t.Fatalf("ToggleLocalMute: %v", err)
	}
	if muted {
		t.Fatal("second toggle should unmute")
	}
}

func TestHuddleAddParticipant(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob", "dave")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
		Mode:           ModeHuddle,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	ic := f.awaitRing(t, "bob")
	if !ic.IsGroupCall {
		t.Fatal("huddle invite should carry the group flag")
	}
	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "huddle never reached active")

	if err := out.AddParticipant("dave"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	daveRing := f.awaitRing(t, "dave")
	if daveRing.SessionID != out.ID() {
		t.Fatal("newcomer joined a different session")
	}
	if err := out.AddParticipant("dave"); !errors.Is(err, ErrAlreadyParticipant) {
		t.Fatalf("duplicate add err = %v, want ErrAlreadyParticipant", err)
	}
}

func TestAddParticipantRegularCall(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := out.AddParticipant("dave"); !errors.Is(err, ErrNotHuddle) {
		t.Fatalf("err = %v, want ErrNotHuddle", err)
	}
}

func TestHuddleSurvivesSingleDeparture(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob", "carol")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob", "carol"},
		Kind:           calls.CallTypeAudio,
		Mode:           ModeHuddle,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	bob := f.awaitRing(t, "bob")
	carol := f.awaitRing(t, "carol")
	if err := bob.Session.Accept(); err != nil {
		t.Fatalf("bob Accept: %v", err)
	}
	if err := carol.Session.Accept(); err != nil {
		t.Fatalf("carol Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "huddle never reached active")

	if err := bob.Session.Hangup(); err != nil {
		t.Fatalf("bob Hangup: %v", err)
	}

	// Carol is still in; the huddle keeps going on alice's side.
	waitFor(t, func() bool {
		for _, p := range out.Participants() {
			if p.UserID == "bob" && p.LeftAt != nil {
				return true
			}
		}
		return false
	}, "bob's departure never registered")
	if out.State() != StateActive {
		t.Fatalf("huddle state = %s after one departure, want active", out.State())
	}
}

func TestReconnectLifecycle(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	ic := f.awaitRing(t, "bob")

	// Pre-active sessions refuse the reconnecting transition.
	if out.BeginReconnecting() {
		t.Fatal("outgoing session accepted reconnecting")
	}

	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "caller never reached active")

	if !out.BeginReconnecting() {
		t.Fatal("active session refused reconnecting")
	}
	snap := out.Snapshot()
	if snap.State != StateConnecting || !snap.Reconnecting {
		t.Fatalf("state = %s reconnecting=%v, want connecting/true", snap.State, snap.Reconnecting)
	}

	// Bob dropped during the outage; session resumes with him marked left.
	out.CompleteReconnect([]string{"alice"})
	snap = out.Snapshot()
	if snap.State != StateActive || snap.Reconnecting {
		t.Fatalf("state = %s reconnecting=%v after resume, want active/false", snap.State, snap.Reconnecting)
	}
	for _, p := range snap.Participants {
		if p.UserID == "bob" && p.LeftAt == nil {
			t.Fatal("bob should be marked left after resume")
		}
	}
}

func TestReconnectFailureEndsSession(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	ic := f.awaitRing(t, "bob")
	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "caller never reached active")

	if !out.BeginReconnecting() {
		t.Fatal("active session refused reconnecting")
	}
	out.FailReconnect(errors.New("transport gone"))

	snap := out.Snapshot()
	if snap.State != StateFailed || snap.Status != calls.CallStatusFailed {
		t.Fatalf("state = %s status = %s, want failed/failed", snap.State, snap.Status)
	}
}

func TestNegotiationTimeoutFailsCall(t *testing.T) {
	hub := signaling.NewMemoryHub()
	sink := &recordCollector{}
	stuck := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	mk := func(u string) *Coordinator {
		c := NewCoordinator(hub.Endpoint(u), CoordinatorConfig{
			SelfID:     u,
			Session:    Config{NegotiationTimeout: 50 * time.Millisecond},
			Negotiator: stuck,
			Sink:       sink.sink,
			Logger:     discardLogger(),
		})
		t.Cleanup(c.Close)
		return c
	}
	alice := mk("alice")
	bob := mk("bob")
	ring := make(chan *IncomingCall, 1)
	bob.OnIncoming(func(ic *IncomingCall) { ring <- ic })

	out, err := alice.Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	var ic *IncomingCall
	select {
	case ic = <-ring:
	case <-time.After(3 * time.Second):
		t.Fatal("bob never rang")
	}
	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// The media path never comes up; both legs end failed, never active.
	waitFor(t, func() bool { return out.State().IsTerminal() }, "caller never ended")
	waitFor(t, func() bool { return ic.Session.State().IsTerminal() }, "callee never ended")
	for name, snap := range map[string]Snapshot{"caller": out.Snapshot(), "callee": ic.Session.Snapshot()} {
		if snap.State != StateFailed || snap.Status != calls.CallStatusFailed {
			t.Fatalf("%s = %s/%s, want failed/failed", name, snap.State, snap.Status)
		}
	}
}

func TestHuddleParticipantCap(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob", "dave")
	f.coord["alice"].cfg.HuddleMaxParticipants = 2

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
		Mode:           ModeHuddle,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	ic := f.awaitRing(t, "bob")
	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "huddle never reached active")

	if err := out.AddParticipant("dave"); !errors.Is(err, ErrHuddleFull) {
		t.Fatalf("add beyond cap err = %v, want ErrHuddleFull", err)
	}

	// The cap also bounds the initial target list.
	_, err = f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv2",
		TargetIDs:      []string{"bob", "dave"},
		Kind:           calls.CallTypeAudio,
		Mode:           ModeHuddle,
	})
	if !errors.Is(err, ErrHuddleFull) {
		t.Fatalf("oversized initiate err = %v, want ErrHuddleFull", err)
	}
}

func TestFailedInviteLeavesNoRecord(t *testing.T) {
	limiter := newMemoryLimiter()
	f := newFixture(t, limiter, "alice", "bob")
	f.hub.SetDown(true)

	_, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if !errors.Is(err, signaling.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}

	// Nobody was signaled, so no history record is written.
	time.Sleep(50 * time.Millisecond)
	if got := len(f.sink.all()); got != 0 {
		t.Fatalf("records sunk = %d, want 0", got)
	}

	// The busy slot was released; the conversation is callable again.
	f.hub.SetDown(false)
	if _, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	}); err != nil {
		t.Fatalf("second Initiate: %v", err)
	}
}

func TestPresenceFollowsSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")
	ctx := context.Background()

	out, err := f.coord["alice"].Initiate(ctx, InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	present := func() []string {
		ids, _ := f.hub.Present(ctx, out.ID())
		return ids
	}
	waitFor(t, func() bool {
		ids := present()
		return len(ids) == 1 && ids[0] == "alice"
	}, "caller never announced presence")

	ic := f.awaitRing(t, "bob")
	if err := ic.Session.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, func() bool { return len(present()) == 2 }, "callee never announced presence")

	if err := out.Hangup(); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	waitFor(t, func() bool { return ic.Session.State().IsTerminal() }, "callee never ended")
	waitFor(t, func() bool { return len(present()) == 0 }, "presence not cleared after end")
}

func TestReconnectPrunesByFabricPresence(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob", "carol")
	ctx := context.Background()

	out, err := f.coord["alice"].Initiate(ctx, InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob", "carol"},
		Kind:           calls.CallTypeAudio,
		Mode:           ModeHuddle,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	bob := f.awaitRing(t, "bob")
	carol := f.awaitRing(t, "carol")
	if err := bob.Session.Accept(); err != nil {
		t.Fatalf("bob Accept: %v", err)
	}
	if err := carol.Session.Accept(); err != nil {
		t.Fatalf("carol Accept: %v", err)
	}
	waitFor(t, func() bool { return out.State() == StateActive }, "huddle never reached active")

	if err := carol.Session.Hangup(); err != nil {
		t.Fatalf("carol Hangup: %v", err)
	}
	waitFor(t, func() bool {
		ids, _ := f.hub.Present(ctx, out.ID())
		return len(ids) == 2
	}, "carol never departed the fabric presence set")

	// Resume against what the fabric reports, not the local view.
	if !out.BeginReconnecting() {
		t.Fatal("active session refused reconnecting")
	}
	ids, err := f.hub.Present(ctx, out.ID())
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	out.CompleteReconnect(ids)

	snap := out.Snapshot()
	if snap.State != StateActive {
		t.Fatalf("state = %s after resume, want active", snap.State)
	}
	for _, p := range snap.Participants {
		if p.UserID == "carol" && p.LeftAt == nil {
			t.Fatal("carol should be marked left after resume")
		}
	}
}

func TestRingTimeoutRecordsMissed(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob")
	f.coord["alice"].cfg.RingTimeout = 50 * time.Millisecond

	out, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	waitFor(t, func() bool { return out.State().IsTerminal() }, "caller never timed out")
	if got := out.Snapshot().Status; got != calls.CallStatusMissed {
		t.Fatalf("caller status = %s, want missed", got)
	}

	// The cancel propagated, so the callee side also ends missed.
	ic := f.awaitRing(t, "bob")
	waitFor(t, func() bool { return ic.Session.State().IsTerminal() }, "callee never ended")
	if got := ic.Session.Snapshot().Status; got != calls.CallStatusMissed {
		t.Fatalf("callee status = %s, want missed", got)
	}
}
