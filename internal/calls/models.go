package calls

import "time"

// CallRecord is the durable, terminal representation of a call or huddle,
// used for history display and reporting.
//
// Invariants:
// - InitiatorID is always a raw user id. Normalization from resolved
//   references happens once at the ingestion boundary (NormalizeInitiatorID);
//   nothing below that boundary branches on identifier shape.
// - DurationSeconds > 0 only when Status == completed.
//   missed/rejected/failed/cancelled imply DurationSeconds == 0.
// - Records are append-only; a record is never updated after ingestion.
type CallRecord struct {
	ID             string `json:"id" db:"id"`
	WorkspaceID    string `json:"workspace_id" db:"workspace_id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`

	InitiatorID string `json:"initiator_id" db:"initiator_id"`

	Type   CallType   `json:"type" db:"type"`
	Status CallStatus `json:"status" db:"status"`

	// IsGroupCall distinguishes an inline huddle from a standard 1:1 call.
	IsGroupCall bool `json:"is_group_call" db:"is_group_call"`

	Participants []Participant `json:"participants,omitempty" db:"-"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is the call duration in seconds.
	// Keep as an int for JSON friendliness; store as INT in Postgres.
	DurationSeconds int `json:"duration" db:"duration"`
}

// Participant captures one user's involvement in a session. It is preserved
// on the record so history rendering can show who joined and when.
type Participant struct {
	UserID      string     `json:"user_id" db:"user_id"`
	IsInitiator bool       `json:"is_initiator" db:"is_initiator"`
	Muted       bool       `json:"muted" db:"muted"`
	JoinedAt    *time.Time `json:"joined_at,omitempty" db:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty" db:"left_at"`
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

type CallStatus string

const (
	CallStatusOngoing   CallStatus = "ongoing"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusFailed    CallStatus = "failed"
	CallStatusCancelled CallStatus = "cancelled"
)

// IsTerminal reports whether the status represents a finished call.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusMissed, CallStatusRejected, CallStatusFailed, CallStatusCancelled:
		return true
	default:
		return false
	}
}

// IsUnanswered reports whether the call never reached an active media path.
func (s CallStatus) IsUnanswered() bool {
	switch s {
	case CallStatusMissed, CallStatusRejected, CallStatusFailed:
		return true
	default:
		return false
	}
}
