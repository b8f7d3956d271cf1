package signaling

import (
	"time"

	"github.com/quckchat/call-service/internal/calls"
)

// EventType discriminates control-plane messages. Keep these stable; they
// are part of the client signaling contract.
type EventType string

const (
	EventInvite         EventType = "call-invite"
	EventAccept         EventType = "call-accept"
	EventReject         EventType = "call-reject"
	EventCancel         EventType = "call-cancel"
	EventEnd            EventType = "call-end"
	EventMuteChanged    EventType = "call-mute-changed"
	EventAddParticipant EventType = "call-add-participant"
)

// Event is one signaling message. Fields beyond Type and SessionID are
// populated per event type; unused fields stay zero and are omitted on the
// wire.
//
// Signaling is control-plane only. Offer/answer/ICE negotiation happens on
// the media path, which this package never sees.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`

	// Invite fields.
	WorkspaceID string         `json:"workspace_id,omitempty"`
	CallType    calls.CallType `json:"call_type,omitempty"`
	IsGroupCall bool           `json:"is_group_call,omitempty"`
	TargetIDs   []string       `json:"target_ids,omitempty"`

	// MuteChanged fields.
	Muted bool `json:"muted,omitempty"`

	// AddParticipant fields.
	UserID string `json:"user_id,omitempty"`

	// Reject/End fields.
	Reason string `json:"reason,omitempty"`
}

// Envelope wraps an event with its routing metadata.
type Envelope struct {
	ConversationID string    `json:"conversation_id"`
	From           string    `json:"from"`
	Event          Event     `json:"event"`
	OccurredAt     time.Time `json:"occurred_at"`
}
