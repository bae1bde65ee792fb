package state

import (
	"time"

	"qms/counter-console/internal/models"
)

func (s Snapshot) clone() Snapshot {
	out := s
	out.Session = cloneSession(s.Session)
	out.WaitingList = cloneTokens(s.WaitingList)
	out.CurrentToken = cloneToken(s.CurrentToken)
	out.SessionCustomers = cloneTokens(s.SessionCustomers)
	out.NotArrived = append([]models.BookedAppointment(nil), s.NotArrived...)
	out.ClaimDraft = cloneClaim(s.ClaimDraft)
	if s.Timer != nil {
		timer := *s.Timer
		out.Timer = &timer
	}
	return out
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Slots = append([]models.Slot(nil), s.Slots...)
	out.Metrics.Slots = append([]models.SlotMetrics(nil), s.Metrics.Slots...)
	if s.ActiveSlotID != nil {
		id := *s.ActiveSlotID
		out.ActiveSlotID = &id
	}
	return &out
}

func cloneToken(t *models.Token) *models.Token {
	if t == nil {
		return nil
	}
	out := *t
	out.Timing = models.TokenTiming{
		ArrivedAt:      cloneTime(t.Timing.ArrivedAt),
		ServiceStartAt: cloneTime(t.Timing.ServiceStartAt),
		EndedAt:        cloneTime(t.Timing.EndedAt),
	}
	return &out
}

func cloneTokens(tokens []models.Token) []models.Token {
	if tokens == nil {
		return nil
	}
	out := make([]models.Token, len(tokens))
	for i := range tokens {
		out[i] = *cloneToken(&tokens[i])
	}
	return out
}

func cloneClaim(c *models.Claim) *models.Claim {
	if c == nil {
		return nil
	}
	out := *c
	out.Documents = append([]models.ClaimDocument(nil), c.Documents...)
	if c.EstimatedAmount != nil {
		v := *c.EstimatedAmount
		out.EstimatedAmount = &v
	}
	if c.ApprovedAmount != nil {
		v := *c.ApprovedAmount
		out.ApprovedAmount = &v
	}
	if c.UpdatedAt != nil {
		v := *c.UpdatedAt
		out.UpdatedAt = &v
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
