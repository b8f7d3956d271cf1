package timeline

import (
	"time"

	"github.com/quckchat/call-service/internal/calls"
)

// EntryKind discriminates the timeline entry union.
type EntryKind string

const (
	EntryKindCall          EntryKind = "call"
	EntryKindGroupSummary  EntryKind = "call_group_summary"
	EntryKindDateSeparator EntryKind = "date_separator"
	// EntryKindOther covers message/system entries that are opaque to the
	// call core. They pass through grouping unchanged and break call runs.
	EntryKindOther EntryKind = "other"
)

// Entry is one element of a conversation timeline.
// Exactly one of Call/Summary is set, matching Kind.
type Entry struct {
	Kind EntryKind `json:"kind"`

	Call    *calls.CallRecord `json:"call,omitempty"`
	Summary *GroupSummary     `json:"summary,omitempty"`

	// Date is set for date separators (truncated to day granularity).
	Date time.Time `json:"date,omitempty"`

	// OccurredAt lets opaque entries participate in date segmentation.
	// Zero means unknown; such entries never trigger a separator.
	OccurredAt time.Time `json:"occurred_at,omitempty"`

	// Payload carries the opaque entry body for EntryKindOther.
	Payload any `json:"payload,omitempty"`
}

// GroupSummary is the bounded rendering of a long run of consecutive
// call/huddle entries. It is a terminal, non-call entry: re-grouping a
// timeline that already contains summaries never collapses them further.
type GroupSummary struct {
	TotalCount     int `json:"total_count"`
	MissedCount    int `json:"missed_count"`
	CompletedCount int `json:"completed_count"`
	HuddleCount    int `json:"huddle_count"`
	CallCount      int `json:"call_count"`

	FirstCallDate time.Time `json:"first_call_date"`
	LastCallDate  time.Time `json:"last_call_date"`
}

// CallEntry wraps a record as a timeline entry.
func CallEntry(rec calls.CallRecord) Entry {
	r := rec
	return Entry{Kind: EntryKindCall, Call: &r, OccurredAt: rec.StartedAt}
}

// OtherEntry wraps an opaque non-call entry.
func OtherEntry(occurredAt time.Time, payload any) Entry {
	return Entry{Kind: EntryKindOther, OccurredAt: occurredAt, Payload: payload}
}
