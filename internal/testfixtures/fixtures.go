package testfixtures

import (
	"time"

	"qms/counter-console/internal/models"
)

// Session returns a session with one 45 minute slot starting at
// ReferenceTime. When active is true the slot is running with nine arrivals.
func Session(status models.SessionStatus, active bool) models.Session {
	slotID := "slot-0900"
	session := models.Session{
		SessionID: "session-1",
		Status:    status,
		Slots: []models.Slot{{
			SlotID:      slotID,
			StartAt:     ReferenceTime(),
			EndAt:       ReferenceTime().Add(45 * time.Minute),
			BookedCount: 10,
		}},
		Metrics: models.SessionMetrics{
			Slots: []models.SlotMetrics{{SlotID: slotID, Booked: 10, Arrived: 9}},
		},
	}
	if active {
		session.ActiveSlotID = &slotID
	}
	return session
}

func Token(id string, status models.TokenStatus) models.Token {
	return models.Token{
		TokenID:   id,
		Number:    "A-" + id,
		SessionID: "session-1",
		SlotID:    "slot-0900",
		Customer:  models.Customer{Name: "Customer " + id, Phone: "0771234567"},
		Status:    status,
		Priority:  models.PriorityNormal,
		Source:    "kiosk",
	}
}

func TokenPtr(id string, status models.TokenStatus) *models.Token {
	t := Token(id, status)
	return &t
}
