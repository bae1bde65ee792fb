// Package state holds the in-memory snapshot the console renders from.
//
// Every mutation goes through Apply, which merges a Patch into the latest
// state under the store lock. Claim drafts are protected by an edit-session
// identity: a periodic refresh of the claim that is already loaded never
// overwrites what the officer is typing.
package state

import (
	"errors"
	"sync"
	"time"

	"qms/counter-console/internal/models"
	"qms/counter-console/internal/servicetimer"
)

var ErrNoClaimDraft = errors.New("no claim loaded")

// NoticeQueueEmpty is shown after a call finds no waiting token.
const NoticeQueueEmpty = "queue empty"

// Opt is a patch field. The zero value leaves the stored field alone; Set
// replaces it, including with a nil or empty value.
type Opt[T any] struct {
	Value T
	Set   bool
}

func Set[T any](value T) Opt[T] {
	return Opt[T]{Value: value, Set: true}
}

type ClaimSource int

const (
	// ClaimLoaded comes from a command and always replaces the draft.
	ClaimLoaded ClaimSource = iota
	// ClaimRefreshed comes from a reconciliation tick and is ignored when
	// the same claim is already being edited.
	ClaimRefreshed
)

// CustomerMark updates one entry of the denormalized status view.
type CustomerMark struct {
	TokenID        string
	Status         models.TokenStatus
	ServiceStartAt *time.Time
	EndedAt        *time.Time
	// Token is appended to the view when no entry with TokenID exists.
	Token *models.Token
}

type Patch struct {
	Session           Opt[*models.Session]
	WaitingList       Opt[[]models.Token]
	SessionCustomers  Opt[[]models.Token]
	NotArrived        Opt[[]models.BookedAppointment]
	CurrentToken      Opt[*models.Token]
	Claim             *models.Claim
	ClaimSource       ClaimSource
	ClearClaim        bool
	Timer             Opt[*servicetimer.Countdown]
	Marks             []CustomerMark
	LastError         Opt[string]
	Notice            Opt[string]
	OverrideAvailable Opt[bool]
	SyncedAt          Opt[time.Time]
}

type Snapshot struct {
	Session           *models.Session
	WaitingList       []models.Token
	CurrentToken      *models.Token
	SessionCustomers  []models.Token
	NotArrived        []models.BookedAppointment
	ClaimDraft        *models.Claim
	LoadedClaimID     string
	Timer             *servicetimer.Countdown
	LastError         string
	Notice            string
	OverrideAvailable bool
	Processing        bool
	SyncedAt          time.Time
	Version           uint64
}

// ActiveSlot resolves the session's active slot.
func (s Snapshot) ActiveSlot() (models.Slot, bool) {
	if s.Session == nil {
		return models.Slot{}, false
	}
	return s.Session.ActiveSlot()
}

type Store struct {
	mu         sync.RWMutex
	snap       Snapshot
	inflight   int
	commandSeq uint64
	nextSubID  int
	subs       map[int]func(Snapshot)

	// notifyMu orders delivery; lastNotified is guarded by it.
	notifyMu     sync.Mutex
	lastNotified uint64
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Countdown exposes the active service timer to servicetimer.Ticker.
func (s *Store) Countdown() (servicetimer.Countdown, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.Timer == nil {
		return servicetimer.Countdown{}, false
	}
	return *s.snap.Timer, true
}

func (s *Store) Apply(p Patch) Snapshot {
	s.mu.Lock()
	s.merge(p)
	out := s.snap.clone()
	s.mu.Unlock()
	s.notify(out)
	return out
}

// ApplyCommand applies the success patch of an operator command. Ticks
// started before it are stale and will be discarded by ApplyIfCurrent.
func (s *Store) ApplyCommand(p Patch) Snapshot {
	s.mu.Lock()
	s.commandSeq++
	s.merge(p)
	out := s.snap.clone()
	s.mu.Unlock()
	s.notify(out)
	return out
}

// CommandSeq is read by a tick before it starts fetching.
func (s *Store) CommandSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commandSeq
}

// ApplyIfCurrent applies p only when no command has been applied since seq
// was read.
func (s *Store) ApplyIfCurrent(seq uint64, p Patch) (Snapshot, bool) {
	s.mu.Lock()
	if s.commandSeq != seq {
		out := s.snap.clone()
		s.mu.Unlock()
		return out, false
	}
	s.merge(p)
	out := s.snap.clone()
	s.mu.Unlock()
	s.notify(out)
	return out, true
}

// ApplyIfToken applies a command patch only while tokenID is still the
// current token. It is used for follow-up loads that must not outlive the
// token they were started for.
func (s *Store) ApplyIfToken(tokenID string, p Patch) (Snapshot, bool) {
	s.mu.Lock()
	if s.snap.CurrentToken == nil || s.snap.CurrentToken.TokenID != tokenID {
		out := s.snap.clone()
		s.mu.Unlock()
		return out, false
	}
	s.commandSeq++
	s.merge(p)
	out := s.snap.clone()
	s.mu.Unlock()
	s.notify(out)
	return out, true
}

// EditClaim applies a local draft edit. The loaded claim identity is kept so
// later refreshes of the same claim leave the edit in place.
func (s *Store) EditClaim(edit func(*models.Claim)) (Snapshot, error) {
	s.mu.Lock()
	if s.snap.ClaimDraft == nil {
		s.mu.Unlock()
		return Snapshot{}, ErrNoClaimDraft
	}
	draft := cloneClaim(s.snap.ClaimDraft)
	edit(draft)
	draft.ClaimID = s.snap.LoadedClaimID
	s.snap.ClaimDraft = draft
	s.snap.Version++
	out := s.snap.clone()
	s.mu.Unlock()
	s.notify(out)
	return out, nil
}

func (s *Store) BeginProcessing() {
	s.mu.Lock()
	s.inflight++
	s.snap.Processing = true
	s.snap.Version++
	out := s.snap.clone()
	s.mu.Unlock()
	s.notify(out)
}

func (s *Store) EndProcessing() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.snap.Processing = s.inflight > 0
	s.snap.Version++
	out := s.snap.clone()
	s.mu.Unlock()
	s.notify(out)
}

// Subscribe registers fn for every change. fn runs on the mutating
// goroutine, outside the store lock, and never sees a version older than
// one it was already given. fn must not mutate the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(snap Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.lastNotified {
		return
	}
	s.lastNotified = snap.Version

	s.mu.RLock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) merge(p Patch) {
	snap := &s.snap
	if p.Session.Set {
		snap.Session = cloneSession(p.Session.Value)
	}
	if p.WaitingList.Set {
		snap.WaitingList = cloneTokens(p.WaitingList.Value)
	}
	if p.SessionCustomers.Set {
		snap.SessionCustomers = cloneTokens(p.SessionCustomers.Value)
	}
	if p.NotArrived.Set {
		snap.NotArrived = append([]models.BookedAppointment(nil), p.NotArrived.Value...)
	}
	if p.CurrentToken.Set {
		snap.CurrentToken = cloneToken(p.CurrentToken.Value)
	}

	if p.ClearClaim {
		snap.ClaimDraft = nil
		snap.LoadedClaimID = ""
	}
	if p.Claim != nil {
		sameClaim := snap.ClaimDraft != nil && snap.LoadedClaimID == p.Claim.ClaimID
		if p.ClaimSource == ClaimLoaded || !sameClaim {
			snap.ClaimDraft = cloneClaim(p.Claim)
			snap.LoadedClaimID = p.Claim.ClaimID
		}
	}

	if p.Timer.Set {
		if p.Timer.Value == nil {
			snap.Timer = nil
		} else {
			timer := *p.Timer.Value
			snap.Timer = &timer
		}
	}

	for _, mark := range p.Marks {
		applyMark(snap, mark)
	}

	if p.LastError.Set {
		snap.LastError = p.LastError.Value
	}
	if p.Notice.Set {
		snap.Notice = p.Notice.Value
	}
	if p.OverrideAvailable.Set {
		snap.OverrideAvailable = p.OverrideAvailable.Value
	}
	if p.SyncedAt.Set {
		snap.SyncedAt = p.SyncedAt.Value
	}
	snap.Version++
}

func applyMark(snap *Snapshot, mark CustomerMark) {
	update := func(token *models.Token) {
		token.Status = mark.Status
		if mark.ServiceStartAt != nil {
			at := *mark.ServiceStartAt
			token.Timing.ServiceStartAt = &at
		}
		if mark.EndedAt != nil {
			at := *mark.EndedAt
			token.Timing.EndedAt = &at
		}
	}

	found := false
	for i := range snap.SessionCustomers {
		if snap.SessionCustomers[i].TokenID == mark.TokenID {
			update(&snap.SessionCustomers[i])
			found = true
		}
	}
	if !found && mark.Token != nil {
		token := *cloneToken(mark.Token)
		update(&token)
		snap.SessionCustomers = append(snap.SessionCustomers, token)
	}

	if snap.CurrentToken != nil && snap.CurrentToken.TokenID == mark.TokenID {
		update(snap.CurrentToken)
	}

	if mark.Status != models.StatusWaiting {
		kept := snap.WaitingList[:0]
		for _, token := range snap.WaitingList {
			if token.TokenID != mark.TokenID {
				kept = append(kept, token)
			}
		}
		snap.WaitingList = kept
	}
}
