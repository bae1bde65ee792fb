// Package reconcile keeps the local store eventually consistent with the
// queue service by polling it on a fixed interval.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"qms/counter-console/internal/logging"
	"qms/counter-console/internal/metrics"
	"qms/counter-console/internal/models"
	"qms/counter-console/internal/queueapi"
	"qms/counter-console/internal/servicetimer"
	"qms/counter-console/internal/state"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var ErrTickInFlight = errors.New("reconciliation tick already in flight")

type Options struct {
	SessionID    string
	CounterID    string
	Interval     time.Duration
	TickTimeout  time.Duration
	WaitingLimit int
	Statuses     []models.TokenStatus
	Clock        servicetimer.Clock
}

type Loop struct {
	api          queueapi.Client
	store        *state.Store
	sessionID    string
	counterID    string
	interval     time.Duration
	tickTimeout  time.Duration
	waitingLimit int
	statuses     []models.TokenStatus
	clock        servicetimer.Clock
	running      int32
	refresh      chan struct{}
	logger       zerolog.Logger
	tracer       trace.Tracer
}

func New(api queueapi.Client, store *state.Store, opts Options) *Loop {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := opts.TickTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := opts.WaitingLimit
	if limit <= 0 {
		limit = 50
	}
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = models.AllTokenStatuses
	}
	clock := opts.Clock
	if clock == nil {
		clock = servicetimer.SystemClock
	}
	return &Loop{
		api:          api,
		store:        store,
		sessionID:    opts.SessionID,
		counterID:    opts.CounterID,
		interval:     interval,
		tickTimeout:  timeout,
		waitingLimit: limit,
		statuses:     statuses,
		clock:        clock,
		refresh:      make(chan struct{}, 1),
		logger: logging.Component("reconcile").With().
			Str("session_id", opts.SessionID).
			Str("counter_id", opts.CounterID).
			Logger(),
		tracer: otel.Tracer("qms/counter-console/reconcile"),
	}
}

// Run ticks once immediately, then on every interval and every Refresh, until
// ctx is cancelled. It returns only after the last tick has finished, so
// nothing is merged into the store once Run has returned.
func (l *Loop) Run(ctx context.Context) {
	l.runTick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runTick(ctx)
		case <-l.refresh:
			l.runTick(ctx)
		}
	}
}

// Refresh asks Run for an immediate tick. Requests made while one is already
// pending collapse into it.
func (l *Loop) Refresh() {
	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

func (l *Loop) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := l.Tick(ctx)
	if err == nil || errors.Is(err, ErrTickInFlight) || ctx.Err() != nil {
		return
	}
	l.logger.Warn().Err(err).Msg("reconcile tick failed")
}

// Tick fetches one authoritative snapshot and merges it in a single step. On
// any fetch failure the previous snapshot is kept and only LastError changes.
func (l *Loop) Tick(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		metrics.ObserveTick("skipped", 0)
		return ErrTickInFlight
	}
	defer atomic.StoreInt32(&l.running, 0)

	started := time.Now()
	ctx, span := l.tracer.Start(ctx, "reconcile.tick", trace.WithAttributes(
		attribute.String("session.id", l.sessionID),
		attribute.String("counter.id", l.counterID),
	))
	defer span.End()

	seq := l.store.CommandSeq()
	tickCtx, cancel := context.WithTimeout(ctx, l.tickTimeout)
	result, err := l.fetch(tickCtx)
	cancel()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		metrics.ObserveTick("error", time.Since(started))
		l.store.Apply(state.Patch{LastError: state.Set(queueapi.Message(err))})
		return err
	}

	patch := buildPatch(result, l.store.Get(), l.clock.Now())
	if _, applied := l.store.ApplyIfCurrent(seq, patch); !applied {
		l.logger.Debug().Msg("discarded tick overtaken by a command")
		metrics.ObserveTick("stale", time.Since(started))
		return nil
	}
	metrics.ObserveTick("ok", time.Since(started))
	return nil
}

type snapshot struct {
	session    models.Session
	slot       models.Slot
	hasSlot    bool
	waiting    []models.Token
	tokens     []models.Token
	notArrived []models.BookedAppointment
	current    *models.Token
	claim      *models.Claim
}

func (l *Loop) fetch(ctx context.Context) (snapshot, error) {
	var out snapshot

	session, err := l.api.FetchSession(ctx, l.sessionID)
	if err != nil {
		return snapshot{}, err
	}
	out.session = session
	out.slot, out.hasSlot = session.ActiveSlot()
	slotID := ""
	if out.hasSlot {
		slotID = out.slot.SlotID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		waiting, err := l.api.FetchWaiting(gctx, l.sessionID, slotID, l.waitingLimit)
		out.waiting = waiting
		return err
	})
	g.Go(func() error {
		tokens, err := l.api.FetchSessionTokens(gctx, l.sessionID, slotID, l.statuses)
		out.tokens = tokens
		return err
	})
	if out.hasSlot {
		g.Go(func() error {
			notArrived, err := l.api.FetchNotArrived(gctx, l.sessionID, slotID)
			out.notArrived = notArrived
			return err
		})
	}
	g.Go(func() error {
		current, err := l.api.FetchCurrentToken(gctx, l.sessionID, l.counterID)
		out.current = current
		return err
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}

	if out.current != nil && out.current.Status == models.StatusServing {
		claim, err := l.api.GetOrCreateClaim(ctx, out.current.TokenID)
		if err != nil {
			return snapshot{}, err
		}
		if claim.TokenID == "" {
			claim.TokenID = out.current.TokenID
		}
		out.claim = &claim
	}
	return out, nil
}

func buildPatch(s snapshot, prev state.Snapshot, now time.Time) state.Patch {
	notArrived := s.notArrived
	if notArrived == nil {
		notArrived = []models.BookedAppointment{}
	}
	session := s.session
	patch := state.Patch{
		Session:          state.Set(&session),
		WaitingList:      state.Set(s.waiting),
		SessionCustomers: state.Set(s.tokens),
		NotArrived:       state.Set(notArrived),
		CurrentToken:     state.Set(s.current),
		LastError:        state.Set(""),
		SyncedAt:         state.Set(now),
	}
	if len(s.waiting) > 0 && prev.Notice == state.NoticeQueueEmpty {
		patch.Notice = state.Set("")
	}

	if s.current == nil {
		patch.ClearClaim = true
		patch.Timer = state.Set[*servicetimer.Countdown](nil)
		return patch
	}

	if s.claim != nil {
		patch.Claim = s.claim
		patch.ClaimSource = state.ClaimRefreshed
	} else if prev.ClaimDraft != nil && prev.ClaimDraft.TokenID != s.current.TokenID {
		patch.ClearClaim = true
	}

	if s.current.Status != models.StatusServing {
		if prev.Timer != nil {
			patch.Timer = state.Set[*servicetimer.Countdown](nil)
		}
		return patch
	}
	if prev.Timer != nil && prev.Timer.TokenID == s.current.TokenID {
		return patch
	}
	if countdown, ok := reconstructTimer(s); ok {
		patch.Timer = state.Set(&countdown)
	} else if prev.Timer != nil {
		patch.Timer = state.Set[*servicetimer.Countdown](nil)
	}
	return patch
}

// reconstructTimer rebuilds the countdown from the server's service start so
// a reload mid-service shows the real remaining time.
func reconstructTimer(s snapshot) (servicetimer.Countdown, bool) {
	start := s.current.Timing.ServiceStartAt
	if start == nil || !s.hasSlot {
		return servicetimer.Countdown{}, false
	}
	return servicetimer.Start(s.current.TokenID, *start, s.slot.Duration(), s.session.ArrivedForSlot(s.slot.SlotID))
}
