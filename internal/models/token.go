package models

import "time"

type TokenStatus string

const (
	StatusWaiting    TokenStatus = "waiting"
	StatusCalled     TokenStatus = "called"
	StatusServing    TokenStatus = "serving"
	StatusCompleted  TokenStatus = "completed"
	StatusSkipped    TokenStatus = "skipped"
	StatusNotArrived TokenStatus = "not_arrived"
)

const (
	PriorityNormal = "normal"
)

var AllTokenStatuses = []TokenStatus{
	StatusWaiting,
	StatusCalled,
	StatusServing,
	StatusCompleted,
	StatusSkipped,
}

type Customer struct {
	Name       string `json:"name"`
	NationalID string `json:"nic,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type TokenTiming struct {
	ArrivedAt      *time.Time `json:"arrivedAt,omitempty"`
	ServiceStartAt *time.Time `json:"serviceStartAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

type Token struct {
	TokenID   string      `json:"_id"`
	Number    string      `json:"tokenNo"`
	SessionID string      `json:"sessionId,omitempty"`
	SlotID    string      `json:"slotId,omitempty"`
	CounterID string      `json:"counterId,omitempty"`
	Customer  Customer    `json:"customer"`
	Status    TokenStatus `json:"status"`
	Priority  string      `json:"priority,omitempty"`
	Source    string      `json:"source,omitempty"`
	Timing    TokenTiming `json:"timing"`
}

func (t Token) Elevated() bool {
	return t.Priority != "" && t.Priority != PriorityNormal
}

type BookedAppointment struct {
	AppointmentID string    `json:"_id"`
	SessionID     string    `json:"sessionId,omitempty"`
	SlotID        string    `json:"slotId,omitempty"`
	Customer      Customer  `json:"customer"`
	Status        string    `json:"status"`
	BookedAt      time.Time `json:"createdAt"`
}
