package calls

import "testing"

func TestClassify_ViewerInitiatedIsAlwaysOutgoing(t *testing.T) {
	statuses := []CallStatus{
		CallStatusOngoing,
		CallStatusCompleted,
		CallStatusMissed,
		CallStatusRejected,
		CallStatusFailed,
		CallStatusCancelled,
	}
	for _, s := range statuses {
		rec := CallRecord{InitiatorID: "user-a", Status: s}
		if got := Classify(rec, "user-a"); got != DirectionOutgoing {
			t.Fatalf("status %q: expected outgoing, got %q", s, got)
		}
	}
}

func TestClassify_UnansweredFromOtherUserIsMissed(t *testing.T) {
	for _, s := range []CallStatus{CallStatusMissed, CallStatusRejected, CallStatusFailed} {
		rec := CallRecord{InitiatorID: "user-b", Status: s}
		if got := Classify(rec, "user-a"); got != DirectionMissed {
			t.Fatalf("status %q: expected missed, got %q", s, got)
		}
	}
}

func TestClassify_CompletedFromOtherUserIsIncoming(t *testing.T) {
	rec := CallRecord{InitiatorID: "user-b", Status: CallStatusCompleted}
	if got := Classify(rec, "user-a"); got != DirectionIncoming {
		t.Fatalf("expected incoming, got %q", got)
	}
}

func TestClassify_SameRecordsDifferentViewers(t *testing.T) {
	records := []CallRecord{
		{InitiatorID: "A", Status: CallStatusCompleted},
		{InitiatorID: "B", Status: CallStatusMissed},
	}

	// A's record was completed, B's went unanswered: A sees its own call
	// outgoing and B's as missed; B sees the inverse.
	wantA := []Direction{DirectionOutgoing, DirectionMissed}
	wantB := []Direction{DirectionIncoming, DirectionOutgoing}

	for i, rec := range records {
		if got := Classify(rec, "A"); got != wantA[i] {
			t.Fatalf("viewer A record %d: expected %q, got %q", i, wantA[i], got)
		}
		if got := Classify(rec, "B"); got != wantB[i] {
			t.Fatalf("viewer B record %d: expected %q, got %q", i, wantB[i], got)
		}
	}
}

func TestClassify_MalformedInitiatorDefaultsToIncoming(t *testing.T) {
	rec := CallRecord{InitiatorID: "   ", Status: CallStatusCompleted}
	if got := Classify(rec, "user-a"); got != DirectionIncoming {
		t.Fatalf("expected incoming for malformed initiator, got %q", got)
	}
}

func TestClassify_EmptyViewerNeverMatchesEmptyInitiator(t *testing.T) {
	rec := CallRecord{InitiatorID: "", Status: CallStatusCompleted}
	if got := Classify(rec, ""); got != DirectionIncoming {
		t.Fatalf("expected incoming, got %q", got)
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	rec := CallRecord{InitiatorID: "user-b", Status: CallStatusRejected}
	first := Classify(rec, "user-a")
	for i := 0; i < 100; i++ {
		if got := Classify(rec, "user-a"); got != first {
			t.Fatalf("classification changed between identical calls: %q vs %q", first, got)
		}
	}
}
