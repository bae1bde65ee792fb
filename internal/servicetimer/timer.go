// Package servicetimer derives the per-customer service countdown shown to
// the counter officer.
package servicetimer

import (
	"fmt"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Countdown is anchored to the instant the token started being served.
type Countdown struct {
	TokenID   string
	Total     time.Duration
	StartedAt time.Time
	EndsAt    time.Time
}

type Reading struct {
	Remaining time.Duration
	Overdue   bool
	OverdueBy time.Duration
}

// PerCustomer splits a slot evenly across its expected arrivals. It reports
// false when there is nothing to split.
func PerCustomer(slotDuration time.Duration, expected int) (time.Duration, bool) {
	if expected <= 0 || slotDuration <= 0 {
		return 0, false
	}
	perMs := slotDuration.Milliseconds() / int64(expected)
	if perMs <= 0 {
		return 0, false
	}
	return time.Duration(perMs) * time.Millisecond, true
}

func Start(tokenID string, startedAt time.Time, slotDuration time.Duration, expected int) (Countdown, bool) {
	per, ok := PerCustomer(slotDuration, expected)
	if !ok {
		return Countdown{}, false
	}
	return Countdown{
		TokenID:   tokenID,
		Total:     per,
		StartedAt: startedAt,
		EndsAt:    startedAt.Add(per),
	}, true
}

func (c Countdown) Read(now time.Time) Reading {
	remaining := c.EndsAt.Sub(now)
	if remaining < 0 {
		return Reading{Overdue: true, OverdueBy: -remaining}
	}
	return Reading{Remaining: remaining}
}

func (r Reading) String() string {
	if r.Overdue {
		return "-" + clock(r.OverdueBy) + " overdue"
	}
	return clock(r.Remaining)
}

func clock(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
