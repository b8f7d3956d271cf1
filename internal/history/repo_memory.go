package history

import (
	"context"
	"sort"
	"sync"

	"github.com/quckchat/call-service/internal/calls"
)

// MemoryRepo is a simple in-memory repository useful for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu      sync.Mutex
	records []calls.CallRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, rec calls.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) ListByConversation(ctx context.Context, workspaceID, conversationID string, limit int) ([]calls.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []calls.CallRecord
	for _, rec := range r.records {
		if rec.WorkspaceID == workspaceID && rec.ConversationID == conversationID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Records returns a copy of everything appended, in insertion order.
func (r *MemoryRepo) Records() []calls.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallRecord, len(r.records))
	copy(out, r.records)
	return out
}
