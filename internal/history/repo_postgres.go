package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/pkg/utils"
)

// NOTE: This repository assumes the following table exists:
//
//   CREATE TABLE call_records (
//     id               TEXT PRIMARY KEY,
//     workspace_id     TEXT NOT NULL,
//     conversation_id  TEXT NOT NULL,
//     initiator_id     TEXT NOT NULL,
//     call_type        TEXT NOT NULL,
//     status           TEXT NOT NULL,
//     is_group_call    BOOLEAN NOT NULL,
//     participants     JSONB NOT NULL,
//     started_at       TIMESTAMPTZ NOT NULL,
//     ended_at         TIMESTAMPTZ,
//     duration_seconds INT NOT NULL DEFAULT 0
//   );
//   CREATE INDEX call_records_conv_idx
//     ON call_records (workspace_id, conversation_id, started_at);

// PostgresRepo persists call records via database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, rec calls.CallRecord) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("history: encode participants: %w", err)
	}

	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_records (
  id, workspace_id, conversation_id, initiator_id, call_type, status,
  is_group_call, participants, started_at, ended_at, duration_seconds
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO NOTHING
`
		_, err := tx.ExecContext(ctx, q,
			rec.ID,
			rec.WorkspaceID,
			rec.ConversationID,
			rec.InitiatorID,
			rec.Type,
			rec.Status,
			rec.IsGroupCall,
			participants,
			rec.StartedAt,
			rec.EndedAt,
			rec.DurationSeconds,
		)
		return err
	})
}

func (r *PostgresRepo) ListByConversation(ctx context.Context, workspaceID, conversationID string, limit int) ([]calls.CallRecord, error) {
	const q = `
SELECT id, workspace_id, conversation_id, initiator_id, call_type, status,
       is_group_call, participants, started_at, ended_at, duration_seconds
FROM (
  SELECT * FROM call_records
  WHERE workspace_id = $1 AND conversation_id = $2
  ORDER BY started_at DESC
  LIMIT $3
) recent
ORDER BY started_at ASC
`
	lim := limit
	if lim <= 0 {
		lim = 200
	}

	rows, err := r.db.QueryContext(ctx, q, workspaceID, conversationID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.CallRecord
	for rows.Next() {
		var (
			rec          calls.CallRecord
			participants []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.WorkspaceID,
			&rec.ConversationID,
			&rec.InitiatorID,
			&rec.Type,
			&rec.Status,
			&rec.IsGroupCall,
			&participants,
			&rec.StartedAt,
			&rec.EndedAt,
			&rec.DurationSeconds,
		); err != nil {
			return nil, err
		}
		if len(participants) > 0 {
			if err := json.Unmarshal(participants, &rec.Participants); err != nil {
				return nil, fmt.Errorf("history: decode participants for %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
