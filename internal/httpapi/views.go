package httpapi

import (
	"time"

	"qms/counter-console/internal/models"
	"qms/counter-console/internal/servicetimer"
	"qms/counter-console/internal/state"
)

// StateView is the JSON form of a store snapshot.
type StateView struct {
	Session           *models.Session            `json:"session"`
	ActiveSlot        *models.Slot               `json:"active_slot"`
	WaitingList       []models.Token             `json:"waiting_list"`
	CurrentToken      *models.Token              `json:"current_token"`
	SessionCustomers  []models.Token             `json:"session_customers"`
	NotArrived        []models.BookedAppointment `json:"not_arrived"`
	ClaimDraft        *models.Claim              `json:"claim_draft"`
	Timer             *TimerView                 `json:"timer"`
	LastError         string                     `json:"last_error,omitempty"`
	Notice            string                     `json:"notice,omitempty"`
	OverrideAvailable bool                       `json:"override_available"`
	Processing        bool                       `json:"processing"`
	SyncedAt          *time.Time                 `json:"synced_at,omitempty"`
	Version           uint64                     `json:"version"`
}

type TimerView struct {
	TokenID     string    `json:"token_id"`
	TotalMs     int64     `json:"total_ms"`
	StartedAt   time.Time `json:"started_at"`
	EndsAt      time.Time `json:"ends_at"`
	RemainingMs int64     `json:"remaining_ms"`
	Overdue     bool      `json:"overdue"`
	OverdueByMs int64     `json:"overdue_by_ms"`
	Display     string    `json:"display"`
}

func NewStateView(snap state.Snapshot, now time.Time) StateView {
	view := StateView{
		Session:           snap.Session,
		WaitingList:       nonNilTokens(snap.WaitingList),
		CurrentToken:      snap.CurrentToken,
		SessionCustomers:  nonNilTokens(snap.SessionCustomers),
		NotArrived:        snap.NotArrived,
		ClaimDraft:        snap.ClaimDraft,
		LastError:         snap.LastError,
		Notice:            snap.Notice,
		OverrideAvailable: snap.OverrideAvailable,
		Processing:        snap.Processing,
		Version:           snap.Version,
	}
	if view.NotArrived == nil {
		view.NotArrived = []models.BookedAppointment{}
	}
	if slot, ok := snap.ActiveSlot(); ok {
		view.ActiveSlot = &slot
	}
	if snap.Timer != nil {
		timer := NewTimerView(*snap.Timer, snap.Timer.Read(now))
		view.Timer = &timer
	}
	if !snap.SyncedAt.IsZero() {
		at := snap.SyncedAt
		view.SyncedAt = &at
	}
	return view
}

func NewTimerView(countdown servicetimer.Countdown, reading servicetimer.Reading) TimerView {
	return TimerView{
		TokenID:     countdown.TokenID,
		TotalMs:     countdown.Total.Milliseconds(),
		StartedAt:   countdown.StartedAt,
		EndsAt:      countdown.EndsAt,
		RemainingMs: reading.Remaining.Milliseconds(),
		Overdue:     reading.Overdue,
		OverdueByMs: reading.OverdueBy.Milliseconds(),
		Display:     reading.String(),
	}
}

func nonNilTokens(tokens []models.Token) []models.Token {
	if tokens == nil {
		return []models.Token{}
	}
	return tokens
}
