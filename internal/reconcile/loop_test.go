package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"qms/counter-console/internal/models"
	"qms/counter-console/internal/queueapi"
	"qms/counter-console/internal/servicetimer"
	"qms/counter-console/internal/state"
	"qms/counter-console/internal/testfixtures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoop(api *testfixtures.QueueAPI, st *state.Store, clock *testfixtures.Clock) *Loop {
	return New(api, st, Options{
		SessionID: "session-1",
		CounterID: "counter-7",
		Interval:  time.Hour,
		Clock:     clock,
	})
}

func runningAPI() *testfixtures.QueueAPI {
	return &testfixtures.QueueAPI{
		FetchSessionFn: func(ctx context.Context, sessionID string) (models.Session, error) {
			return testfixtures.Session(models.SessionRunning, true), nil
		},
		FetchWaitingFn: func(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error) {
			return []models.Token{testfixtures.Token("T2", models.StatusWaiting), testfixtures.Token("T3", models.StatusWaiting)}, nil
		},
		FetchSessionTokensFn: func(ctx context.Context, sessionID, slotID string, statuses []models.TokenStatus) ([]models.Token, error) {
			return []models.Token{
				testfixtures.Token("T1", models.StatusCalled),
				testfixtures.Token("T2", models.StatusWaiting),
				testfixtures.Token("T3", models.StatusWaiting),
			}, nil
		},
		FetchNotArrivedFn: func(ctx context.Context, sessionID, slotID string) ([]models.BookedAppointment, error) {
			return []models.BookedAppointment{{AppointmentID: "A9", SlotID: slotID, Status: "booked"}}, nil
		},
		FetchCurrentTokenFn: func(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
			return testfixtures.TokenPtr("T1", models.StatusCalled), nil
		},
	}
}

func TestTickMergesServerSnapshot(t *testing.T) {
	api := runningAPI()
	var gotSlot, gotCounter string
	var gotLimit int
	api.FetchWaitingFn = func(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error) {
		gotSlot, gotLimit = slotID, limit
		return []models.Token{testfixtures.Token("T2", models.StatusWaiting)}, nil
	}
	api.FetchCurrentTokenFn = func(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
		gotCounter = counterID
		return testfixtures.TokenPtr("T1", models.StatusCalled), nil
	}
	st := state.NewStore()
	clock := testfixtures.NewClock(time.Time{})

	require.NoError(t, newLoop(api, st, clock).Tick(context.Background()))

	snap := st.Get()
	require.NotNil(t, snap.Session)
	assert.Equal(t, models.SessionRunning, snap.Session.Status)
	assert.Equal(t, "slot-0900", gotSlot)
	assert.Equal(t, 50, gotLimit)
	assert.Equal(t, "counter-7", gotCounter)
	assert.Len(t, snap.WaitingList, 1)
	assert.Len(t, snap.SessionCustomers, 3)
	assert.Len(t, snap.NotArrived, 1)
	require.NotNil(t, snap.CurrentToken)
	assert.Equal(t, "T1", snap.CurrentToken.TokenID)
	assert.Equal(t, clock.Now(), snap.SyncedAt)
	assert.Empty(t, snap.LastError)
	assert.False(t, api.Called("GetOrCreateClaim"), "claim is only loaded for a serving token")
}

func TestTickWithoutActiveSlotSkipsNotArrived(t *testing.T) {
	api := runningAPI()
	api.FetchSessionFn = func(ctx context.Context, sessionID string) (models.Session, error) {
		return testfixtures.Session(models.SessionScheduled, false), nil
	}
	st := state.NewStore()

	require.NoError(t, newLoop(api, st, testfixtures.NewClock(time.Time{})).Tick(context.Background()))

	assert.False(t, api.Called("FetchNotArrived"))
	assert.Empty(t, st.Get().NotArrived)
}

func TestTickFailureRetainsPreviousSnapshot(t *testing.T) {
	api := runningAPI()
	st := state.NewStore()
	loop := newLoop(api, st, testfixtures.NewClock(time.Time{}))
	require.NoError(t, loop.Tick(context.Background()))
	before := st.Get()

	api.FetchWaitingFn = func(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error) {
		return nil, nil
	}
	api.FetchCurrentTokenFn = func(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
		return nil, nil
	}
	api.FetchSessionTokensFn = func(ctx context.Context, sessionID, slotID string, statuses []models.TokenStatus) ([]models.Token, error) {
		return nil, &queueapi.APIError{Kind: queueapi.KindNetwork, Op: "fetch session tokens", Message: "unable to reach queue service, try refreshing"}
	}

	err := loop.Tick(context.Background())
	require.ErrorIs(t, err, queueapi.ErrNetwork)

	after := st.Get()
	assert.Equal(t, before.Session, after.Session)
	assert.Equal(t, before.WaitingList, after.WaitingList)
	assert.Equal(t, before.SessionCustomers, after.SessionCustomers)
	assert.Equal(t, before.CurrentToken, after.CurrentToken)
	assert.Equal(t, "unable to reach queue service, try refreshing", after.LastError)

	api.FetchSessionTokensFn = nil
	require.NoError(t, loop.Tick(context.Background()))
	assert.Empty(t, st.Get().LastError)
	assert.Nil(t, st.Get().CurrentToken)
}

func TestTickKeepsClaimDraftForSameClaim(t *testing.T) {
	api := runningAPI()
	serving := testfixtures.TokenPtr("T1", models.StatusServing)
	api.FetchCurrentTokenFn = func(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
		return serving, nil
	}
	claimID := "C"
	api.GetOrCreateClaimFn = func(ctx context.Context, tokenID string) (models.Claim, error) {
		return models.Claim{ClaimID: claimID, TokenID: tokenID, Message: "server text"}, nil
	}
	st := state.NewStore()
	loop := newLoop(api, st, testfixtures.NewClock(time.Time{}))

	require.NoError(t, loop.Tick(context.Background()))
	_, err := st.EditClaim(func(c *models.Claim) { c.Message = "draft text" })
	require.NoError(t, err)

	require.NoError(t, loop.Tick(context.Background()))
	assert.Equal(t, "draft text", st.Get().ClaimDraft.Message)

	claimID = "C2"
	require.NoError(t, loop.Tick(context.Background()))
	snap := st.Get()
	assert.Equal(t, "C2", snap.LoadedClaimID)
	assert.Equal(t, "server text", snap.ClaimDraft.Message)
}

func TestTickClearsDraftWhenCurrentTokenChanges(t *testing.T) {
	api := runningAPI()
	st := state.NewStore()
	st.Apply(state.Patch{Claim: &models.Claim{ClaimID: "C", TokenID: "T0"}, ClaimSource: state.ClaimLoaded})

	require.NoError(t, newLoop(api, st, testfixtures.NewClock(time.Time{})).Tick(context.Background()))

	assert.Nil(t, st.Get().ClaimDraft)
}

func TestTickWithoutCurrentTokenClearsClaimAndTimer(t *testing.T) {
	api := runningAPI()
	api.FetchCurrentTokenFn = func(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
		return nil, nil
	}
	st := state.NewStore()
	started := testfixtures.ReferenceTime()
	st.Apply(state.Patch{
		Claim: &models.Claim{ClaimID: "C", TokenID: "T1"},
		Timer: state.Set(&servicetimer.Countdown{TokenID: "T1", Total: 5 * time.Minute, StartedAt: started, EndsAt: started.Add(5 * time.Minute)}),
	})

	require.NoError(t, newLoop(api, st, testfixtures.NewClock(time.Time{})).Tick(context.Background()))

	snap := st.Get()
	assert.Nil(t, snap.CurrentToken)
	assert.Nil(t, snap.ClaimDraft)
	assert.Nil(t, snap.Timer)
}

func TestTickReconstructsTimerFromServiceStart(t *testing.T) {
	api := runningAPI()
	serviceStart := testfixtures.ReferenceTime().Add(2 * time.Minute)
	serving := testfixtures.TokenPtr("T1", models.StatusServing)
	serving.Timing.ServiceStartAt = &serviceStart
	api.FetchCurrentTokenFn = func(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
		return serving, nil
	}
	st := state.NewStore()
	clock := testfixtures.NewClock(testfixtures.ReferenceTime().Add(4 * time.Minute))

	require.NoError(t, newLoop(api, st, clock).Tick(context.Background()))

	snap := st.Get()
	require.NotNil(t, snap.Timer)
	assert.Equal(t, "T1", snap.Timer.TokenID)
	assert.Equal(t, 5*time.Minute, snap.Timer.Total)
	assert.Equal(t, serviceStart.Add(5*time.Minute), snap.Timer.EndsAt)
	assert.Equal(t, 3*time.Minute, snap.Timer.Read(clock.Now()).Remaining)
}

func TestTickKeepsExistingTimerForSameToken(t *testing.T) {
	api := runningAPI()
	serviceStart := testfixtures.ReferenceTime()
	serving := testfixtures.TokenPtr("T1", models.StatusServing)
	serving.Timing.ServiceStartAt = &serviceStart
	api.FetchCurrentTokenFn = func(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
		return serving, nil
	}
	st := state.NewStore()
	local := servicetimer.Countdown{TokenID: "T1", Total: 5 * time.Minute, StartedAt: serviceStart.Add(time.Second), EndsAt: serviceStart.Add(5*time.Minute + time.Second)}
	st.Apply(state.Patch{Timer: state.Set(&local)})

	require.NoError(t, newLoop(api, st, testfixtures.NewClock(time.Time{})).Tick(context.Background()))

	assert.Equal(t, local.EndsAt, st.Get().Timer.EndsAt)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	api := runningAPI()
	entered := make(chan struct{})
	release := make(chan struct{})
	api.FetchSessionFn = func(ctx context.Context, sessionID string) (models.Session, error) {
		close(entered)
		<-release
		return testfixtures.Session(models.SessionRunning, true), nil
	}
	st := state.NewStore()
	loop := newLoop(api, st, testfixtures.NewClock(time.Time{}))

	done := make(chan error, 1)
	go func() { done <- loop.Tick(context.Background()) }()
	<-entered

	assert.ErrorIs(t, loop.Tick(context.Background()), ErrTickInFlight)
	close(release)
	require.NoError(t, <-done)
}

func TestTickOvertakenByCommandIsDiscarded(t *testing.T) {
	api := runningAPI()
	st := state.NewStore()
	api.FetchSessionFn = func(ctx context.Context, sessionID string) (models.Session, error) {
		st.ApplyCommand(state.Patch{CurrentToken: state.Set[*models.Token](nil)})
		return testfixtures.Session(models.SessionRunning, true), nil
	}

	require.NoError(t, newLoop(api, st, testfixtures.NewClock(time.Time{})).Tick(context.Background()))

	snap := st.Get()
	assert.Nil(t, snap.CurrentToken)
	assert.Nil(t, snap.Session)
}

func TestRunStopsWithoutWritingAfterCancel(t *testing.T) {
	api := runningAPI()
	api.FetchSessionFn = func(ctx context.Context, sessionID string) (models.Session, error) {
		<-ctx.Done()
		return models.Session{}, &queueapi.APIError{Kind: queueapi.KindNetwork, Op: "fetch session", Message: "cancelled", Err: ctx.Err()}
	}
	st := state.NewStore()
	loop := newLoop(api, st, testfixtures.NewClock(time.Time{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return api.Called("FetchSession") }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	snap := st.Get()
	assert.Empty(t, snap.LastError)
	assert.Zero(t, snap.Version)
}

func TestRefreshTriggersImmediateTick(t *testing.T) {
	api := runningAPI()
	var sessions int32
	api.FetchSessionFn = func(ctx context.Context, sessionID string) (models.Session, error) {
		atomic.AddInt32(&sessions, 1)
		return testfixtures.Session(models.SessionRunning, true), nil
	}
	st := state.NewStore()
	loop := newLoop(api, st, testfixtures.NewClock(time.Time{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&sessions) == 1 }, time.Second, 5*time.Millisecond)
	loop.Refresh()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sessions) == 2 }, time.Second, 5*time.Millisecond)
}

func TestTickSurfacesNotFound(t *testing.T) {
	api := runningAPI()
	api.FetchSessionFn = func(ctx context.Context, sessionID string) (models.Session, error) {
		return models.Session{}, &queueapi.APIError{Kind: queueapi.KindNotFound, Status: 404, Op: "fetch session", Message: "Session not found"}
	}
	st := state.NewStore()

	err := newLoop(api, st, testfixtures.NewClock(time.Time{})).Tick(context.Background())
	assert.True(t, errors.Is(err, queueapi.ErrNotFound))
	assert.Equal(t, "Session not found", st.Get().LastError)
}

func TestTickClearsQueueEmptyNoticeOnceCustomersWait(t *testing.T) {
	st := state.NewStore()
	st.Apply(state.Patch{Notice: state.Set(state.NoticeQueueEmpty)})
	clock := testfixtures.NewClock(time.Time{})

	api := runningAPI()
	api.FetchWaitingFn = func(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error) {
		return nil, nil
	}
	require.NoError(t, newLoop(api, st, clock).Tick(context.Background()))
	assert.Equal(t, state.NoticeQueueEmpty, st.Get().Notice)

	require.NoError(t, newLoop(runningAPI(), st, clock).Tick(context.Background()))
	assert.Empty(t, st.Get().Notice)
}

func TestTickKeepsUnrelatedNotice(t *testing.T) {
	st := state.NewStore()
	st.Apply(state.Patch{Notice: state.Set("session paused by supervisor")})

	require.NoError(t, newLoop(runningAPI(), st, testfixtures.NewClock(time.Time{})).Tick(context.Background()))
	assert.Equal(t, "session paused by supervisor", st.Get().Notice)
}
