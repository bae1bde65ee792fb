// Package testfixtures provides fakes shared by package tests.
package testfixtures

import (
	"context"
	"sync"

	"qms/counter-console/internal/models"
	"qms/counter-console/internal/queueapi"
)

// QueueAPI is a queueapi.Client whose behaviour is set per test through the
// function fields. Unset operations succeed with zero values. Every call is
// recorded by operation name in call order.
type QueueAPI struct {
	FetchSessionFn       func(ctx context.Context, sessionID string) (models.Session, error)
	FetchWaitingFn       func(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error)
	FetchSessionTokensFn func(ctx context.Context, sessionID, slotID string, statuses []models.TokenStatus) ([]models.Token, error)
	FetchCurrentTokenFn  func(ctx context.Context, sessionID, counterID string) (*models.Token, error)
	FetchTokenByIDFn     func(ctx context.Context, tokenID string) (*models.Token, error)
	FetchNotArrivedFn    func(ctx context.Context, sessionID, slotID string) ([]models.BookedAppointment, error)
	ControlSessionFn     func(ctx context.Context, sessionID string, req queueapi.ControlRequest) error
	PopNextTokenFn       func(ctx context.Context, sessionID, counterID, slotID string) (*models.Token, error)
	RecallTokenFn        func(ctx context.Context, tokenID, counterID string) (models.Token, error)
	StartServingFn       func(ctx context.Context, tokenID, counterID string) error
	SkipTokenFn          func(ctx context.Context, tokenID, counterID string) error
	ReturnToWaitingFn    func(ctx context.Context, tokenID string) error
	CompleteTokenFn      func(ctx context.Context, tokenID, counterID string) error
	GetOrCreateClaimFn   func(ctx context.Context, tokenID string) (models.Claim, error)
	UpdateClaimFn        func(ctx context.Context, tokenID string, update models.ClaimUpdate) (models.Claim, error)

	mu    sync.Mutex
	calls []string
}

var _ queueapi.Client = (*QueueAPI)(nil)

func (f *QueueAPI) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

// Calls returns the recorded operation names.
func (f *QueueAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Called reports whether op was invoked at least once.
func (f *QueueAPI) Called(op string) bool {
	for _, call := range f.Calls() {
		if call == op {
			return true
		}
	}
	return false
}

func (f *QueueAPI) FetchSession(ctx context.Context, sessionID string) (models.Session, error) {
	f.record("FetchSession")
	if f.FetchSessionFn == nil {
		return models.Session{SessionID: sessionID}, nil
	}
	return f.FetchSessionFn(ctx, sessionID)
}

func (f *QueueAPI) FetchWaiting(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error) {
	f.record("FetchWaiting")
	if f.FetchWaitingFn == nil {
		return nil, nil
	}
	return f.FetchWaitingFn(ctx, sessionID, slotID, limit)
}

func (f *QueueAPI) FetchSessionTokens(ctx context.Context, sessionID, slotID string, statuses []models.TokenStatus) ([]models.Token, error) {
	f.record("FetchSessionTokens")
	if f.FetchSessionTokensFn == nil {
		return nil, nil
	}
	return f.FetchSessionTokensFn(ctx, sessionID, slotID, statuses)
}

func (f *QueueAPI) FetchCurrentToken(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
	f.record("FetchCurrentToken")
	if f.FetchCurrentTokenFn == nil {
		return nil, nil
	}
	return f.FetchCurrentTokenFn(ctx, sessionID, counterID)
}

func (f *QueueAPI) FetchTokenByID(ctx context.Context, tokenID string) (*models.Token, error) {
	f.record("FetchTokenByID")
	if f.FetchTokenByIDFn == nil {
		return nil, nil
	}
	return f.FetchTokenByIDFn(ctx, tokenID)
}

func (f *QueueAPI) FetchNotArrived(ctx context.Context, sessionID, slotID string) ([]models.BookedAppointment, error) {
	f.record("FetchNotArrived")
	if f.FetchNotArrivedFn == nil {
		return nil, nil
	}
	return f.FetchNotArrivedFn(ctx, sessionID, slotID)
}

func (f *QueueAPI) ControlSession(ctx context.Context, sessionID string, req queueapi.ControlRequest) error {
	f.record("ControlSession")
	if f.ControlSessionFn == nil {
		return nil
	}
	return f.ControlSessionFn(ctx, sessionID, req)
}

func (f *QueueAPI) PopNextToken(ctx context.Context, sessionID, counterID, slotID string) (*models.Token, error) {
	f.record("PopNextToken")
	if f.PopNextTokenFn == nil {
		return nil, nil
	}
	return f.PopNextTokenFn(ctx, sessionID, counterID, slotID)
}

func (f *QueueAPI) RecallToken(ctx context.Context, tokenID, counterID string) (models.Token, error) {
	f.record("RecallToken")
	if f.RecallTokenFn == nil {
		return models.Token{TokenID: tokenID, Status: models.StatusCalled}, nil
	}
	return f.RecallTokenFn(ctx, tokenID, counterID)
}

func (f *QueueAPI) StartServing(ctx context.Context, tokenID, counterID string) error {
	f.record("StartServing")
	if f.StartServingFn == nil {
		return nil
	}
	return f.StartServingFn(ctx, tokenID, counterID)
}

func (f *QueueAPI) SkipToken(ctx context.Context, tokenID, counterID string) error {
	f.record("SkipToken")
	if f.SkipTokenFn == nil {
		return nil
	}
	return f.SkipTokenFn(ctx, tokenID, counterID)
}

func (f *QueueAPI) ReturnToWaiting(ctx context.Context, tokenID string) error {
	f.record("ReturnToWaiting")
	if f.ReturnToWaitingFn == nil {
		return nil
	}
	return f.ReturnToWaitingFn(ctx, tokenID)
}

func (f *QueueAPI) CompleteToken(ctx context.Context, tokenID, counterID string) error {
	f.record("CompleteToken")
	if f.CompleteTokenFn == nil {
		return nil
	}
	return f.CompleteTokenFn(ctx, tokenID, counterID)
}

func (f *QueueAPI) GetOrCreateClaim(ctx context.Context, tokenID string) (models.Claim, error) {
	f.record("GetOrCreateClaim")
	if f.GetOrCreateClaimFn == nil {
		return models.Claim{ClaimID: "claim-" + tokenID, TokenID: tokenID}, nil
	}
	return f.GetOrCreateClaimFn(ctx, tokenID)
}

func (f *QueueAPI) UpdateClaim(ctx context.Context, tokenID string, update models.ClaimUpdate) (models.Claim, error) {
	f.record("UpdateClaim")
	if f.UpdateClaimFn == nil {
		return models.Claim{ClaimID: "claim-" + tokenID, TokenID: tokenID}.Merge(update), nil
	}
	return f.UpdateClaimFn(ctx, tokenID, update)
}
