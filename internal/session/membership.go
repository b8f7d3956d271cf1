package session

import (
	"sync"
	"time"

	"github.com/quckchat/call-service/internal/calls"
)

// Registry tracks the participant set of one session: join/leave times and
// mute flags. It is scoped to its owning session and discarded with it; the
// participant list survives only as part of the flattened CallRecord.
//
// Rules:
// - A participant cannot be added twice.
// - Removal during an active session marks LeftAt rather than deleting,
//   preserving history for the eventual record.
// - Mute state is applied only from explicit reports (the local toggle or a
//   remote mute-changed event), never inferred.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*calls.Participant
	ordered []string
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*calls.Participant)}
}

// Add registers a participant. joinedAt may be zero for an invited
// participant that has not joined yet.
func (r *Registry) Add(userID string, isInitiator bool, joinedAt time.Time) error {
	if userID == "" {
		return ErrUnknownParticipant
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[userID]; ok {
		return ErrAlreadyParticipant
	}
	p := &calls.Participant{UserID: userID, IsInitiator: isInitiator}
	if !joinedAt.IsZero() {
		t := joinedAt
		p.JoinedAt = &t
	}
	r.byID[userID] = p
	r.ordered = append(r.ordered, userID)
	return nil
}

// MarkJoined stamps the join time for an invited participant. Joining twice
// keeps the first timestamp.
func (r *Registry) MarkJoined(userID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[userID]
	if !ok {
		return ErrUnknownParticipant
	}
	if p.JoinedAt == nil {
		t := now
		p.JoinedAt = &t
	}
	return nil
}

// MarkLeft stamps the leave time. The entry is retained for the record.
func (r *Registry) MarkLeft(userID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[userID]
	if !ok {
		return ErrUnknownParticipant
	}
	if p.LeftAt == nil {
		t := now
		p.LeftAt = &t
	}
	return nil
}

// SetMuted applies a reported mute change.
func (r *Registry) SetMuted(userID string, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[userID]
	if !ok {
		return ErrUnknownParticipant
	}
	p.Muted = muted
	return nil
}

// Get returns a copy of one participant.
func (r *Registry) Get(userID string) (calls.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[userID]
	if !ok {
		return calls.Participant{}, false
	}
	return *p, true
}

// List returns copies of all participants in insertion order.
func (r *Registry) List() []calls.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Participant, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, *r.byID[id])
	}
	return out
}

// Present returns ids of participants that have not left.
func (r *Registry) Present() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ordered))
	for _, id := range r.ordered {
		if r.byID[id].LeftAt == nil {
			out = append(out, id)
		}
	}
	return out
}

// RetainPresent marks as left every participant not found in present. Used
// after a reconnect to re-validate membership against transport-reported
// truth. Returns the ids that were marked left.
func (r *Registry) RetainPresent(present []string, now time.Time) []string {
	keep := make(map[string]struct{}, len(present))
	for _, id := range present {
		keep[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for _, id := range r.ordered {
		p := r.byID[id]
		if p.LeftAt != nil {
			continue
		}
		if _, ok := keep[id]; !ok {
			t := now
			p.LeftAt = &t
			removed = append(removed, id)
		}
	}
	return removed
}
