package postgres

import (
	"context"

	"qms/counter-console/internal/journal"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS console_actions (
	entry_id UUID PRIMARY KEY,
	session_id TEXT NOT NULL,
	counter_id TEXT NOT NULL,
	token_id TEXT,
	action TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS console_actions_counter_idx ON console_actions (counter_id, occurred_at DESC);
`

type Journal struct {
	pool *pgxpool.Pool
}

func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, schemaSQL)
	return err
}

func (j *Journal) Record(ctx context.Context, entry journal.Entry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	_, err := j.pool.Exec(ctx, `
		INSERT INTO console_actions (entry_id, session_id, counter_id, token_id, action, outcome, error, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (entry_id) DO NOTHING
	`, entry.EntryID, entry.SessionID, entry.CounterID, entry.TokenID, entry.Action, entry.Outcome, entry.Error, entry.OccurredAt.UTC())
	return err
}

func (j *Journal) Recent(ctx context.Context, counterID string, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.pool.Query(ctx, `
		SELECT entry_id::text, session_id, counter_id, COALESCE(token_id, ''), action, outcome, COALESCE(error, ''), occurred_at
		FROM console_actions
		WHERE counter_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, counterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var entry journal.Entry
		if err := rows.Scan(&entry.EntryID, &entry.SessionID, &entry.CounterID, &entry.TokenID, &entry.Action, &entry.Outcome, &entry.Error, &entry.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
