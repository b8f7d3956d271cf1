package calls

// Direction is a call record's classification relative to the viewing user.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionMissed   Direction = "missed"
)

// Classify maps a historical record plus the viewer's identity to a direction.
//
// Rules, in order:
//  1. Viewer initiated the call -> Outgoing, regardless of status.
//  2. Otherwise, unanswered statuses (missed/rejected/failed) -> Missed.
//  3. Otherwise -> Incoming.
//
// Pure, total, deterministic. A record with a malformed or missing initiator
// classifies as Incoming rather than failing the history view.
func Classify(record CallRecord, viewerUserID string) Direction {
	initiator := NormalizeInitiatorID(record.InitiatorID)
	if initiator != "" && viewerUserID != "" && initiator == viewerUserID {
		return DirectionOutgoing
	}
	if record.Status.IsUnanswered() {
		return DirectionMissed
	}
	return DirectionIncoming
}
