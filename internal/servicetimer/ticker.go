package servicetimer

import (
	"context"
	"time"
)

// Source yields the countdown currently in force, if any.
type Source interface {
	Countdown() (Countdown, bool)
}

type Ticker struct {
	source   Source
	clock    Clock
	interval time.Duration
}

func NewTicker(source Source, clock Clock) *Ticker {
	if clock == nil {
		clock = SystemClock
	}
	return &Ticker{source: source, clock: clock, interval: time.Second}
}

// Run invokes onTick every second with the current reading until ctx is done.
// Ticks without an active countdown are not reported.
func (t *Ticker) Run(ctx context.Context, onTick func(Countdown, Reading)) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.emit(onTick)
		}
	}
}

func (t *Ticker) emit(onTick func(Countdown, Reading)) {
	countdown, ok := t.source.Countdown()
	if !ok {
		return
	}
	onTick(countdown, countdown.Read(t.clock.Now()))
}
