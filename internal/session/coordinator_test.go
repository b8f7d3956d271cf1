package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/internal/signaling"
)

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t, nil, "alice")
	c := f.coord["alice"]
	ctx := context.Background()

	cases := []struct {
		name string
		req  InitiateRequest
	}{
		{"no conversation", InitiateRequest{TargetIDs: []string{"bob"}, Kind: calls.CallTypeAudio}},
		{"no targets", InitiateRequest{ConversationID: "conv1", Kind: calls.CallTypeAudio}},
		{"bad kind", InitiateRequest{ConversationID: "conv1", TargetIDs: []string{"bob"}, Kind: "screen"}},
		{"regular with two targets", InitiateRequest{ConversationID: "conv1", TargetIDs: []string{"bob", "carol"}, Kind: calls.CallTypeAudio}},
	}
	for _, tc := range cases {
		if _, err := c.Initiate(ctx, tc.req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: err = %v, want ErrInvalidRequest", tc.name, err)
		}
	}
}

func TestConversationBusy(t *testing.T) {
	limiter := newMemoryLimiter()
	f := newFixture(t, limiter, "alice", "bob", "carol")
	ctx := context.Background()

	first, err := f.coord["alice"].Initiate(ctx, InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	ic := f.awaitRing(t, "bob")

	// The callee's coordinator shares the slot for the same session, so
	// ringing did not tie up a second slot in the conversation.
	if _, err := f.coord["carol"].Initiate(ctx, InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"alice"},
		Kind:           calls.CallTypeAudio,
	}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second call err = %v, want ErrBusy", err)
	}

	// A different conversation is unaffected.
	if _, err := f.coord["carol"].Initiate(ctx, InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv2",
		TargetIDs:      []string{"alice"},
		Kind:           calls.CallTypeAudio,
	}); err != nil {
		t.Fatalf("other conversation Initiate: %v", err)
	}

	// Ending the first call frees the slot.
	if err := first.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, func() bool { return ic.Session.State().IsTerminal() }, "callee never ended")
	waitFor(t, func() bool {
		ok, _ := limiter.Acquire(ctx, "conv1", "probe")
		if ok {
			_ = limiter.Release(ctx, "conv1", "probe")
		}
		return ok
	}, "conversation slot never released")
}

func TestIncomingCallTargeting(t *testing.T) {
	f := newFixture(t, nil, "alice", "bob", "carol")

	_, err := f.coord["alice"].Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	f.awaitRing(t, "bob")

	// Carol was not a target; her coordinator must stay silent.
	select {
	case <-f.ring["carol"]:
		t.Fatal("untargeted user rang")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCoordinatorGet(t *testing.T) {
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

	got, ok := f.coord["alice"].Get(out.ID())
	if !ok || got != out {
		t.Fatal("Get did not return the active session")
	}
	if _, ok := f.coord["alice"].Get("missing"); ok {
		t.Fatal("Get returned a session for an unknown id")
	}

	// Retired sessions disappear from the coordinator.
	if err := out.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := f.coord["alice"].Get(out.ID())
		return !ok
	}, "ended session never deregistered")
}

func TestCloseEndsSessions(t *testing.T) {
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

	f.coord["alice"].Close()
	if !out.State().IsTerminal() {
		t.Fatalf("state = %s after Close, want terminal", out.State())
	}
}

func TestPool(t *testing.T) {
	hub := signaling.NewMemoryHub()
	sink := &recordCollector{}
	pool := NewPool(func(selfID string) *Coordinator {
		return NewCoordinator(hub.Endpoint(selfID), CoordinatorConfig{
			SelfID: selfID,
			Sink:   sink.sink,
			Logger: discardLogger(),
		})
	})
	defer pool.Close()

	a := pool.For("alice")
	if a == nil {
		t.Fatal("no coordinator for alice")
	}
	if pool.For("alice") != a {
		t.Fatal("coordinator not reused for the same user")
	}

	out, err := a.Initiate(context.Background(), InitiateRequest{
		WorkspaceID:    "ws1",
		ConversationID: "conv1",
		TargetIDs:      []string{"bob"},
		Kind:           calls.CallTypeAudio,
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if got, ok := pool.Find(out.ID()); !ok || got != out {
		t.Fatal("Find did not locate the session across coordinators")
	}
	if _, ok := pool.Find("missing"); ok {
		t.Fatal("Find returned a session for an unknown id")
	}

	pool.Close()
	if pool.For("alice") != nil {
		t.Fatal("closed pool must not hand out coordinators")
	}
}
