package servicetimer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerCustomer(t *testing.T) {
	cases := []struct {
		name     string
		duration time.Duration
		expected int
		want     time.Duration
		ok       bool
	}{
		{"45 minutes over 9", 45 * time.Minute, 9, 5 * time.Minute, true},
		{"floors to the millisecond", 10 * time.Second, 3, 3333 * time.Millisecond, true},
		{"zero arrivals", 45 * time.Minute, 0, 0, false},
		{"negative arrivals", 45 * time.Minute, -2, 0, false},
		{"empty slot", 0, 9, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PerCustomer(tc.duration, tc.expected)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCountdownReadings(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	countdown, ok := Start("T1", started, 2700000*time.Millisecond, 9)
	require.True(t, ok)
	assert.Equal(t, 300000*time.Millisecond, countdown.Total)
	assert.Equal(t, started.Add(5*time.Minute), countdown.EndsAt)

	reading := countdown.Read(started.Add(2 * time.Minute))
	assert.False(t, reading.Overdue)
	assert.InDelta(t, 180000, reading.Remaining.Milliseconds(), 1000)
	assert.Equal(t, "03:00", reading.String())

	reading = countdown.Read(started.Add(6 * time.Minute))
	assert.True(t, reading.Overdue)
	assert.Zero(t, reading.Remaining)
	assert.InDelta(t, 60000, reading.OverdueBy.Milliseconds(), 1000)
	assert.Equal(t, "-01:00 overdue", reading.String())
}

func TestStartWithoutArrivals(t *testing.T) {
	_, ok := Start("T1", time.Now(), 45*time.Minute, 0)
	assert.False(t, ok)
}

// Reconstructing from the server's service-start timestamp keeps the
// original deadline instead of granting a fresh full allotment.
func TestCountdownReconstructedFromServiceStart(t *testing.T) {
	serviceStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reloadedAt := serviceStart.Add(4 * time.Minute)

	countdown, ok := Start("T1", serviceStart, 45*time.Minute, 9)
	require.True(t, ok)
	reading := countdown.Read(reloadedAt)
	assert.Equal(t, time.Minute, reading.Remaining)
}

type fixedSource struct {
	countdown Countdown
	ok        bool
}

func (f fixedSource) Countdown() (Countdown, bool) { return f.countdown, f.ok }

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestTickerEmitsReadings(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	countdown, _ := Start("T1", started, 45*time.Minute, 9)
	ticker := NewTicker(fixedSource{countdown: countdown, ok: true}, &stepClock{now: started})
	ticker.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	readings := make(chan Reading, 8)
	done := make(chan struct{})
	go func() {
		ticker.Run(ctx, func(_ Countdown, r Reading) {
			select {
			case readings <- r:
			default:
			}
		})
		close(done)
	}()

	select {
	case r := <-readings:
		assert.False(t, r.Overdue)
		assert.Less(t, r.Remaining, 5*time.Minute)
	case <-time.After(2 * time.Second):
		t.Fatal("no reading emitted")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop after cancel")
	}
}

func TestTickerSilentWithoutCountdown(t *testing.T) {
	ticker := NewTicker(fixedSource{}, nil)
	called := false
	ticker.emit(func(Countdown, Reading) { called = true })
	assert.False(t, called)
}
