package history

import (
	"context"

	"github.com/quckchat/call-service/internal/calls"
)

// Repository is the persistence contract for call records.
//
// It is append-only from the service's point of view: a record is written
// once, at the moment its session reaches a terminal state, and is never
// rewritten afterwards.

type Repository interface {
	Append(ctx context.Context, rec calls.CallRecord) error
	// ListByConversation returns records for one conversation ordered by
	// StartedAt ascending.
	ListByConversation(ctx context.Context, workspaceID, conversationID string, limit int) ([]calls.CallRecord, error)
}
