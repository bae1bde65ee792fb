// Package journal keeps a trail of the commands an officer issued and how
// the queue service answered them.
package journal

import (
	"context"
	"time"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)

type Entry struct {
	EntryID    string    `json:"entry_id"`
	SessionID  string    `json:"session_id"`
	CounterID  string    `json:"counter_id"`
	TokenID    string    `json:"token_id,omitempty"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, counterID string, limit int) ([]Entry, error)
}

// Nop discards entries. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]Entry, error) { return nil, nil }
