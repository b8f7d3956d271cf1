package session

import (
	"errors"
	"time"

	"github.com/quckchat/call-service/internal/calls"
)

// State is the lifecycle position of one call/huddle session.
//
// Transitions: Idle -> Outgoing -> Connecting -> Active -> Ended, with
// Incoming as the parallel entry state for callee sessions and Failed as a
// terminal state reachable from Connecting/Active. Transitions are
// monotonic; once a session reaches a terminal state every further inbound
// event is a no-op.
type State string

const (
	StateIdle       State = "idle"
	StateOutgoing   State = "outgoing"
	StateIncoming   State = "incoming"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// IsTerminal reports whether the state is an idempotent sink.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// Mode distinguishes a standard call from an inline huddle.
type Mode string

const (
	ModeRegular Mode = "regular"
	ModeHuddle  Mode = "huddle"
)

// StateChange is published to session subscribers on every transition.
type StateChange struct {
	SessionID      string           `json:"session_id"`
	ConversationID string           `json:"conversation_id"`
	State          State            `json:"state"`
	Reconnecting   bool             `json:"reconnecting,omitempty"`
	Status         calls.CallStatus `json:"status,omitempty"`
	At             time.Time        `json:"at"`
}

var (
	// ErrInvalidTransition is returned when an operation is attempted in a
	// state that does not allow it. Operations on terminal sessions do not
	// return it; they are silent no-ops.
	ErrInvalidTransition = errors.New("session: operation not valid in current state")

	// ErrBusy indicates the conversation already has an active session.
	ErrBusy = errors.New("session: conversation already has an active call")

	// ErrNotHuddle is returned when adding a participant to a regular call.
	ErrNotHuddle = errors.New("session: participants can only be added to huddles")

	// ErrAlreadyParticipant is returned when a participant is added twice.
	ErrAlreadyParticipant = errors.New("session: participant already present")

	// ErrUnknownParticipant is returned for operations on an id the
	// membership registry has never seen.
	ErrUnknownParticipant = errors.New("session: unknown participant")

	// ErrParticipantInvite wraps a failed invite to an additional huddle
	// participant. Already-connected participants are unaffected.
	ErrParticipantInvite = errors.New("session: participant invite failed")

	// ErrHuddleFull is returned when adding a participant would exceed the
	// configured huddle size.
	ErrHuddleFull = errors.New("session: huddle is full")

	// ErrInvalidRequest covers malformed initiate requests.
	ErrInvalidRequest = errors.New("session: invalid request")
)
