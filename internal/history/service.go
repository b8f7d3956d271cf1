package history

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/internal/timeline"
)

var (
	ErrInvalidRecord = errors.New("history: invalid call record")
	ErrNotConfigured = errors.New("history: repository not configured")
)

// Service ingests finished call records and serves the conversation
// timeline built from them.
//
// Ingestion is best-effort from the session's point of view: a failed write
// must never block call teardown. Callers log and move on.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Record validates, normalizes and appends one finished call.
//
// Invariants enforced here rather than trusted from callers:
// - status must be terminal; in-flight sessions have no record yet.
// - duration is only meaningful for completed calls; it is zeroed otherwise.
// - initiator id is normalized, whatever shape upstream produced.
func (s *Service) Record(ctx context.Context, rec calls.CallRecord) error {
	if s.repo == nil {
		return ErrNotConfigured
	}
	if rec.WorkspaceID == "" || rec.ConversationID == "" {
		return ErrInvalidRecord
	}
	if !rec.Status.IsTerminal() {
		return ErrInvalidRecord
	}
	if rec.Type != calls.CallTypeAudio && rec.Type != calls.CallTypeVideo {
		return ErrInvalidRecord
	}

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.InitiatorID = calls.NormalizeInitiatorID(rec.InitiatorID)

	if rec.Status != calls.CallStatusCompleted {
		rec.DurationSeconds = 0
	}
	if rec.DurationSeconds < 0 {
		rec.DurationSeconds = 0
	}
	if rec.EndedAt != nil && rec.EndedAt.Before(rec.StartedAt) {
		rec.EndedAt = &rec.StartedAt
	}

	return s.repo.Append(ctx, rec)
}

// ListRecords returns the raw records of one conversation, oldest first.
func (s *Service) ListRecords(ctx context.Context, workspaceID, conversationID string, limit int) ([]calls.CallRecord, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	recs, err := s.repo.ListByConversation(ctx, workspaceID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	// Repositories promise ascending order; re-sort defensively since the
	// grouping pass depends on it.
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })
	return recs, nil
}

// TimelineItem is one rendered row of a conversation's call timeline.
// Direction is only set for individual call rows.
type TimelineItem struct {
	Entry     timeline.Entry  `json:"entry"`
	Direction calls.Direction `json:"direction,omitempty"`
}

// FetchTimeline builds the viewer-facing timeline for a conversation:
// consecutive call runs collapsed, date separators inserted, and each
// surviving call row classified from the viewer's perspective.
func (s *Service) FetchTimeline(ctx context.Context, workspaceID, conversationID, viewerUserID string, limit int) ([]TimelineItem, error) {
	recs, err := s.ListRecords(ctx, workspaceID, conversationID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]timeline.Entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, timeline.CallEntry(rec))
	}
	grouped := timeline.Group(entries)

	items := make([]TimelineItem, 0, len(grouped))
	for _, e := range grouped {
		item := TimelineItem{Entry: e}
		if e.Kind == timeline.EntryKindCall && e.Call != nil {
			item.Direction = calls.Classify(*e.Call, viewerUserID)
		}
		items = append(items, item)
	}
	return items, nil
}
