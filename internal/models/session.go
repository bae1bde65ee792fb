package models

import "time"

type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionRunning   SessionStatus = "RUNNING"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
)

type Slot struct {
	SlotID        string    `json:"_id"`
	StartAt       time.Time `json:"startTime"`
	EndAt         time.Time `json:"endTime"`
	BookedCount   int       `json:"bookedCount"`
	OverbookCount int       `json:"overbookCount"`
}

func (s Slot) Duration() time.Duration {
	if !s.EndAt.After(s.StartAt) {
		return 0
	}
	return s.EndAt.Sub(s.StartAt)
}

type SlotMetrics struct {
	SlotID  string `json:"slotId"`
	Booked  int    `json:"booked"`
	Arrived int    `json:"arrived"`
	Served  int    `json:"served"`
}

type SessionMetrics struct {
	TokensIssued int           `json:"tokensIssued"`
	Waiting      int           `json:"waiting"`
	Served       int           `json:"served"`
	Skipped      int           `json:"skipped"`
	Slots        []SlotMetrics `json:"slots,omitempty"`
}

type Session struct {
	SessionID    string         `json:"_id"`
	Status       SessionStatus  `json:"status"`
	Slots        []Slot         `json:"slots"`
	ActiveSlotID *string        `json:"activeSlotId"`
	Metrics      SessionMetrics `json:"metrics"`
}

// ActiveSlot returns the slot referenced by ActiveSlotID. A dangling or
// absent reference yields false.
func (s Session) ActiveSlot() (Slot, bool) {
	if s.ActiveSlotID == nil || *s.ActiveSlotID == "" {
		return Slot{}, false
	}
	for _, slot := range s.Slots {
		if slot.SlotID == *s.ActiveSlotID {
			return slot, true
		}
	}
	return Slot{}, false
}

func (s Session) ArrivedForSlot(slotID string) int {
	for _, m := range s.Metrics.Slots {
		if m.SlotID == slotID {
			return m.Arrived
		}
	}
	return 0
}
