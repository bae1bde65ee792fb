// Package dispatch turns officer commands into queue service calls and
// merges their acknowledged results into the store.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"qms/counter-console/internal/journal"
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
)

var ErrNoCurrentToken = errors.New("no token is currently called")

type Options struct {
	SessionID string
	CounterID string
	Journal   journal.Recorder
	Clock     servicetimer.Clock
}

type Dispatcher struct {
	api       queueapi.Client
	store     *state.Store
	journal   journal.Recorder
	clock     servicetimer.Clock
	sessionID string
	counterID string
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func New(api queueapi.Client, store *state.Store, opts Options) *Dispatcher {
	rec := opts.Journal
	if rec == nil {
		rec = journal.Nop{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = servicetimer.SystemClock
	}
	return &Dispatcher{
		api:       api,
		store:     store,
		journal:   rec,
		clock:     clock,
		sessionID: opts.SessionID,
		counterID: opts.CounterID,
		logger: logging.Component("dispatch").With().
			Str("session_id", opts.SessionID).
			Str("counter_id", opts.CounterID).
			Logger(),
		tracer: otel.Tracer("qms/counter-console/dispatch"),
	}
}

// step is the acknowledged result of one remote call.
type step struct {
	patch   state.Patch
	tokenID string
	empty   bool
}

// CallNext pops the next token for this counter. A nil token with a nil
// error means the queue is empty; the current token is left as it was.
func (d *Dispatcher) CallNext(ctx context.Context) (*models.Token, error) {
	return d.callNext(ctx, "call_next", true)
}

// callNext with surface false only logs and journals failures; the
// operator's LastError is left alone.
func (d *Dispatcher) callNext(ctx context.Context, action string, surface bool) (*models.Token, error) {
	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	var called *models.Token
	err := d.exec(ctx, action, "", surface, func(ctx context.Context) (step, error) {
		slotID := ""
		if slot, ok := d.store.Get().ActiveSlot(); ok {
			slotID = slot.SlotID
		}
		next, err := d.api.PopNextToken(ctx, d.sessionID, d.counterID, slotID)
		if err != nil {
			return step{}, err
		}
		if next == nil {
			return step{empty: true, patch: state.Patch{Notice: state.Set(state.NoticeQueueEmpty)}}, nil
		}

		token := *next
		token.Status = resultStatus(state.ActionCall)
		if token.CounterID == "" {
			token.CounterID = d.counterID
		}
		called = &token
		return step{
			tokenID: token.TokenID,
			patch: state.Patch{
				CurrentToken: state.Set(&token),
				ClearClaim:   true,
				Timer:        state.Set[*servicetimer.Countdown](nil),
				Marks:        []state.CustomerMark{{TokenID: token.TokenID, Status: token.Status, Token: &token}},
				Notice:       state.Set(""),
			},
		}, nil
	})
	if err != nil || called == nil {
		return nil, err
	}

	// The call itself has succeeded; a failed claim load is only reported.
	_ = d.loadClaim(ctx, called.TokenID, surface)
	return called, nil
}

func (d *Dispatcher) Recall(ctx context.Context) error {
	current, err := d.requireCurrent("recall", state.ActionRecall)
	if err != nil {
		return err
	}

	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	return d.run(ctx, "recall", current.TokenID, func(ctx context.Context) (step, error) {
		recalled, err := d.api.RecallToken(ctx, current.TokenID, d.counterID)
		if err != nil {
			return step{}, err
		}
		token := recalled
		if token.TokenID == "" {
			// Acknowledged without a body; reload the token instead.
			token = current
			if reloaded, err := d.api.FetchTokenByID(ctx, current.TokenID); err == nil && reloaded != nil {
				token = *reloaded
			}
		}
		token.Status = resultStatus(state.ActionRecall)
		return step{
			tokenID: token.TokenID,
			patch: state.Patch{
				CurrentToken: state.Set(&token),
				Marks:        []state.CustomerMark{{TokenID: token.TokenID, Status: token.Status}},
			},
		}, nil
	})
}

// StartServing acknowledges the customer at the counter and starts the
// service countdown for the active slot.
func (d *Dispatcher) StartServing(ctx context.Context) error {
	current, err := d.requireCurrent("start serving", state.ActionStart)
	if err != nil {
		return err
	}

	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	err = d.run(ctx, "start_serving", current.TokenID, func(ctx context.Context) (step, error) {
		if err := d.api.StartServing(ctx, current.TokenID, d.counterID); err != nil {
			return step{}, err
		}

		now := d.clock.Now()
		snap := d.store.Get()
		timer := state.Set[*servicetimer.Countdown](nil)
		if slot, ok := snap.ActiveSlot(); ok {
			expected := snap.Session.ArrivedForSlot(slot.SlotID)
			if countdown, ok := servicetimer.Start(current.TokenID, now, slot.Duration(), expected); ok {
				timer = state.Set(&countdown)
			}
		}
		return step{
			tokenID: current.TokenID,
			patch: state.Patch{
				Timer: timer,
				Marks: []state.CustomerMark{{TokenID: current.TokenID, Status: resultStatus(state.ActionStart), ServiceStartAt: &now}},
			},
		}, nil
	})
	if err != nil {
		return err
	}

	if draft := d.store.Get().ClaimDraft; draft == nil || draft.TokenID != current.TokenID {
		_ = d.loadClaim(ctx, current.TokenID, true)
	}
	return nil
}

func (d *Dispatcher) Skip(ctx context.Context) error {
	current, err := d.requireCurrent("skip", state.ActionSkip)
	if err != nil {
		return err
	}

	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	return d.run(ctx, "skip", current.TokenID, func(ctx context.Context) (step, error) {
		if err := d.api.SkipToken(ctx, current.TokenID, d.counterID); err != nil {
			return step{}, err
		}
		now := d.clock.Now()
		return step{
			tokenID: current.TokenID,
			patch:   releasePatch(current.TokenID, resultStatus(state.ActionSkip), &now),
		}, nil
	})
}

func (d *Dispatcher) ReturnToWaiting(ctx context.Context) error {
	current, err := d.requireCurrent("return to waiting", state.ActionReturn)
	if err != nil {
		return err
	}

	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	return d.run(ctx, "return_to_waiting", current.TokenID, func(ctx context.Context) (step, error) {
		if err := d.api.ReturnToWaiting(ctx, current.TokenID); err != nil {
			return step{}, err
		}
		return step{
			tokenID: current.TokenID,
			patch:   releasePatch(current.TokenID, resultStatus(state.ActionReturn), nil),
		}, nil
	})
}

// Complete finishes the current token. With processClaim the claim is saved
// first, from payload or from the local draft when payload is nil, and a
// failed save leaves the token open.
func (d *Dispatcher) Complete(ctx context.Context, processClaim bool, payload *models.ClaimUpdate) error {
	current, err := d.requireCurrent("complete", state.ActionComplete)
	if err != nil {
		return err
	}

	var update models.ClaimUpdate
	if processClaim {
		switch {
		case payload != nil:
			update = *payload
		case d.store.Get().ClaimDraft != nil:
			draft := d.store.Get().ClaimDraft
			if draft.TokenID != "" && draft.TokenID != current.TokenID {
				return d.reject("complete", current.TokenID, queueapi.NewValidationError("complete", "the loaded claim belongs to another token, reload it first"))
			}
			update = models.UpdateFromDraft(*draft)
		default:
			return d.reject("complete", current.TokenID, queueapi.NewValidationError("complete", "no claim loaded for this token"))
		}
		if err := ValidateClaim(update, true); err != nil {
			return d.reject("complete", current.TokenID, err)
		}
	}

	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	return d.run(ctx, "complete", current.TokenID, func(ctx context.Context) (step, error) {
		if processClaim {
			saved, err := d.api.UpdateClaim(ctx, current.TokenID, update)
			if err != nil {
				return step{}, err
			}
			if err := d.api.CompleteToken(ctx, current.TokenID, d.counterID); err != nil {
				// The claim is stored remotely even though the token stays open.
				if saved.TokenID == "" {
					saved.TokenID = current.TokenID
				}
				d.store.Apply(state.Patch{Claim: &saved, ClaimSource: state.ClaimLoaded})
				return step{}, err
			}
		} else if err := d.api.CompleteToken(ctx, current.TokenID, d.counterID); err != nil {
			return step{}, err
		}

		now := d.clock.Now()
		return step{
			tokenID: current.TokenID,
			patch:   releasePatch(current.TokenID, resultStatus(state.ActionComplete), &now),
		}, nil
	})
}

// SaveClaim persists the local claim draft without completing the token.
func (d *Dispatcher) SaveClaim(ctx context.Context) error {
	snap := d.store.Get()
	if snap.ClaimDraft == nil {
		return d.reject("save_claim", "", queueapi.NewValidationError("save claim", state.ErrNoClaimDraft.Error()))
	}
	draft := *snap.ClaimDraft
	tokenID := draft.TokenID
	if tokenID == "" && snap.CurrentToken != nil {
		tokenID = snap.CurrentToken.TokenID
	}
	update := models.UpdateFromDraft(draft)
	if err := ValidateClaim(update, false); err != nil {
		return d.reject("save_claim", tokenID, err)
	}

	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	return d.run(ctx, "save_claim", tokenID, func(ctx context.Context) (step, error) {
		saved, err := d.api.UpdateClaim(ctx, tokenID, update)
		if err != nil {
			return step{}, err
		}
		if saved.TokenID == "" {
			saved.TokenID = tokenID
		}
		if saved.ClaimID == "" {
			saved.ClaimID = draft.ClaimID
		}
		return step{tokenID: tokenID, patch: state.Patch{Claim: &saved, ClaimSource: state.ClaimLoaded}}, nil
	})
}

// SessionControl starts or pauses the session. A start refused because the
// session cannot normally be started offers an override to the officer; an
// accepted start immediately calls the next token.
func (d *Dispatcher) SessionControl(ctx context.Context, action string, override bool, slotID string) error {
	name := "session_" + action
	if action != queueapi.ActionStart && action != queueapi.ActionPause {
		return d.reject(name, "", queueapi.NewValidationError("session control", "unknown session action "+action))
	}

	d.store.BeginProcessing()
	defer d.store.EndProcessing()

	err := d.run(ctx, name, "", func(ctx context.Context) (step, error) {
		err := d.api.ControlSession(ctx, d.sessionID, queueapi.ControlRequest{
			Action:   action,
			Override: override,
			SlotID:   slotID,
		})
		if err != nil {
			if action == queueapi.ActionStart && !override && errors.Is(err, queueapi.ErrConflict) {
				d.store.Apply(state.Patch{OverrideAvailable: state.Set(true)})
			}
			return step{}, err
		}

		patch := state.Patch{OverrideAvailable: state.Set(false)}
		session, err := d.api.FetchSession(ctx, d.sessionID)
		if err != nil {
			d.logger.Warn().Err(err).Msg("session refresh after control failed")
		} else {
			patch.Session = state.Set(&session)
		}
		return step{patch: patch}, nil
	})
	if err != nil || action != queueapi.ActionStart {
		return err
	}

	if _, err := d.callNext(ctx, "auto_call_next", false); err != nil {
		logging.WithTrace(ctx, d.logger).Warn().Err(err).Msg("auto call next after session start failed")
	}
	return nil
}

// ValidateClaim checks a claim payload before it is sent. requireMessage is
// set when the claim is being finalised with the token.
func ValidateClaim(update models.ClaimUpdate, requireMessage bool) error {
	if requireMessage && (update.Message == nil || strings.TrimSpace(*update.Message) == "") {
		return queueapi.NewValidationError("claim", "a message to the customer is required")
	}
	if update.EstimatedAmount != nil && *update.EstimatedAmount < 0 {
		return queueapi.NewValidationError("claim", "estimated amount cannot be negative")
	}
	if update.ApprovedAmount != nil && *update.ApprovedAmount < 0 {
		return queueapi.NewValidationError("claim", "approved amount cannot be negative")
	}
	for _, doc := range update.Documents {
		if !doc.Status.Valid() {
			return queueapi.NewValidationError("claim", "document "+doc.Name+" has invalid status "+string(doc.Status))
		}
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, action, tokenID string, call func(context.Context) (step, error)) error {
	return d.exec(ctx, action, tokenID, true, call)
}

func (d *Dispatcher) exec(ctx context.Context, action, tokenID string, surface bool, call func(context.Context) (step, error)) error {
	ctx, span := d.tracer.Start(ctx, "dispatch."+action, trace.WithAttributes(
		attribute.String("session.id", d.sessionID),
		attribute.String("counter.id", d.counterID),
		attribute.String("token.id", tokenID),
	))
	defer span.End()

	result, err := call(ctx)
	metrics.ObserveCommand(action, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, queueapi.Message(err))
		if surface {
			d.store.Apply(state.Patch{LastError: state.Set(queueapi.Message(err))})
		}
		logging.WithTrace(ctx, d.logger).Warn().Err(err).Str("action", action).Str("token_id", tokenID).Msg("command failed")
		d.record(ctx, action, tokenID, journal.OutcomeError, err)
		return err
	}

	patch := result.patch
	if surface {
		patch.LastError = state.Set("")
	}
	d.store.ApplyCommand(patch)

	if result.tokenID != "" {
		tokenID = result.tokenID
	}
	outcome := journal.OutcomeOK
	if result.empty {
		outcome = journal.OutcomeEmpty
	}
	logging.WithTrace(ctx, d.logger).Info().Str("action", action).Str("token_id", tokenID).Str("outcome", outcome).Msg("command applied")
	d.record(ctx, action, tokenID, outcome, nil)
	return nil
}

// reject surfaces an error raised before any remote call was made.
func (d *Dispatcher) reject(action, tokenID string, err error) error {
	metrics.ObserveCommand(action, err)
	d.store.Apply(state.Patch{LastError: state.Set(queueapi.Message(err))})
	return err
}

func (d *Dispatcher) requireCurrent(op, transition string) (models.Token, error) {
	current := d.store.Get().CurrentToken
	if current == nil {
		err := &queueapi.APIError{
			Kind:    queueapi.KindValidation,
			Op:      op,
			Message: ErrNoCurrentToken.Error(),
			Err:     ErrNoCurrentToken,
		}
		return models.Token{}, d.reject(strings.ReplaceAll(op, " ", "_"), "", err)
	}
	if !state.ValidTransition(transition, current.Status) {
		d.logger.Debug().
			Str("token_id", current.TokenID).
			Str("status", string(current.Status)).
			Str("action", transition).
			Msg("command issued against unexpected token status")
	}
	return *current, nil
}

// loadClaim fetches the claim for tokenID and installs it only while that
// token is still current; a token released in the meantime drops the result.
func (d *Dispatcher) loadClaim(ctx context.Context, tokenID string, surface bool) error {
	claim, err := d.api.GetOrCreateClaim(ctx, tokenID)
	if err != nil {
		logging.WithTrace(ctx, d.logger).Warn().Err(err).Str("token_id", tokenID).Msg("claim load failed")
		if surface {
			d.store.ApplyIfToken(tokenID, state.Patch{LastError: state.Set(queueapi.Message(err))})
		}
		return err
	}
	if claim.TokenID == "" {
		claim.TokenID = tokenID
	}
	if _, applied := d.store.ApplyIfToken(tokenID, state.Patch{Claim: &claim, ClaimSource: state.ClaimLoaded}); !applied {
		d.logger.Debug().Str("token_id", tokenID).Msg("discarded claim for released token")
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, action, tokenID, outcome string, cause error) {
	entry := journal.Entry{
		SessionID:  d.sessionID,
		CounterID:  d.counterID,
		TokenID:    tokenID,
		Action:     action,
		Outcome:    outcome,
		OccurredAt: d.clock.Now(),
	}
	if cause != nil {
		entry.Error = queueapi.Message(cause)
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := d.journal.Record(recordCtx, entry); err != nil {
		d.logger.Warn().Err(err).Str("action", action).Msg("journal record failed")
	}
}

// releasePatch ends this counter's hold on tokenID.
func releasePatch(tokenID string, status models.TokenStatus, endedAt *time.Time) state.Patch {
	return state.Patch{
		CurrentToken: state.Set[*models.Token](nil),
		ClearClaim:   true,
		Timer:        state.Set[*servicetimer.Countdown](nil),
		Marks:        []state.CustomerMark{{TokenID: tokenID, Status: status, EndedAt: endedAt}},
	}
}

func resultStatus(action string) models.TokenStatus {
	status, _ := state.ResultStatus(action)
	return status
}
