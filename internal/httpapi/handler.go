package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"qms/counter-console/internal/dispatch"
	"qms/counter-console/internal/hub"
	"qms/counter-console/internal/journal"
	"qms/counter-console/internal/metrics"
	"qms/counter-console/internal/models"
	"qms/counter-console/internal/queueapi"
	"qms/counter-console/internal/servicetimer"
	"qms/counter-console/internal/state"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Commands is the set of officer commands the console exposes.
type Commands interface {
	CallNext(ctx context.Context) (*models.Token, error)
	Recall(ctx context.Context) error
	StartServing(ctx context.Context) error
	Skip(ctx context.Context) error
	ReturnToWaiting(ctx context.Context) error
	Complete(ctx context.Context, processClaim bool, payload *models.ClaimUpdate) error
	SessionControl(ctx context.Context, action string, override bool, slotID string) error
	SaveClaim(ctx context.Context) error
}

type Refresher interface {
	Refresh()
}

type Handler struct {
	commands  Commands
	store     *state.Store
	refresher Refresher
	journal   journal.Recorder
	hub       *hub.Hub
	clock     servicetimer.Clock
	counterID string
}

type Options struct {
	Refresher Refresher
	Journal   journal.Recorder
	Hub       *hub.Hub
	Clock     servicetimer.Clock
	CounterID string
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type completeRequest struct {
	ProcessClaim bool                `json:"process_claim"`
	Claim        *models.ClaimUpdate `json:"claim"`
}

type sessionRequest struct {
	Override bool   `json:"override"`
	SlotID   string `json:"slot_id"`
}

type actionResponse struct {
	RequestID string    `json:"request_id"`
	Token     *tokenRef `json:"token,omitempty"`
	State     StateView `json:"state"`
}

type tokenRef struct {
	TokenID string `json:"token_id"`
	Number  string `json:"number"`
}

func NewHandler(commands Commands, store *state.Store, options Options) *Handler {
	rec := options.Journal
	if rec == nil {
		rec = journal.Nop{}
	}
	clock := options.Clock
	if clock == nil {
		clock = servicetimer.SystemClock
	}
	return &Handler{
		commands:  commands,
		store:     store,
		refresher: options.Refresher,
		journal:   rec,
		hub:       options.Hub,
		clock:     clock,
		counterID: options.CounterID,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/console/state", h.handleState)
	mux.HandleFunc("/api/console/actions/", h.handleAction)
	mux.HandleFunc("/api/console/session/", h.handleSession)
	mux.HandleFunc("/api/console/claim", h.handleClaimEdit)
	mux.HandleFunc("/api/console/claim/save", h.handleClaimSave)
	mux.HandleFunc("/api/console/journal", h.handleJournal)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	if h.hub != nil {
		mux.Handle("/console/", h.consoleSocket())
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(h.store.Get(), h.clock.Now()))
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)
	action := strings.TrimPrefix(r.URL.Path, "/api/console/actions/")

	var (
		token *models.Token
		err   error
	)
	ctx := r.Context()
	switch action {
	case "call-next":
		token, err = h.commands.CallNext(ctx)
	case "recall":
		err = h.commands.Recall(ctx)
	case "start":
		err = h.commands.StartServing(ctx)
	case "skip":
		err = h.commands.Skip(ctx)
	case "return-to-waiting":
		err = h.commands.ReturnToWaiting(ctx)
	case "complete":
		var req completeRequest
		if !decodeOptional(w, r, requestID, &req) {
			return
		}
		err = h.commands.Complete(ctx, req.ProcessClaim, req.Claim)
	case "refresh":
		if h.refresher == nil {
			writeError(w, requestID, http.StatusServiceUnavailable, "refresh_unavailable", "reconciliation is not running")
			return
		}
		h.refresher.Refresh()
		writeJSON(w, http.StatusAccepted, actionResponse{RequestID: requestID, State: NewStateView(h.store.Get(), h.clock.Now())})
		return
	default:
		writeError(w, requestID, http.StatusNotFound, "unknown_action", "unknown console action")
		return
	}

	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	resp := actionResponse{RequestID: requestID, State: NewStateView(h.store.Get(), h.clock.Now())}
	if token != nil {
		resp.Token = &tokenRef{TokenID: token.TokenID, Number: token.Number}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)
	action := strings.TrimPrefix(r.URL.Path, "/api/console/session/")
	if action != queueapi.ActionStart && action != queueapi.ActionPause {
		writeError(w, requestID, http.StatusNotFound, "unknown_action", "unknown session action")
		return
	}

	var req sessionRequest
	if !decodeOptional(w, r, requestID, &req) {
		return
	}
	if err := h.commands.SessionControl(r.Context(), action, req.Override, strings.TrimSpace(req.SlotID)); err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{RequestID: requestID, State: NewStateView(h.store.Get(), h.clock.Now())})
}

func (h *Handler) handleClaimEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)

	var edit models.ClaimUpdate
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&edit); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if err := dispatch.ValidateClaim(edit, false); err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}

	snap, err := h.store.EditClaim(func(c *models.Claim) { *c = c.Merge(edit) })
	if err != nil {
		if errors.Is(err, state.ErrNoClaimDraft) {
			writeError(w, requestID, http.StatusConflict, "no_claim", "no claim is loaded for editing")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(snap, h.clock.Now()))
}

func (h *Handler) handleClaimSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)
	if err := h.commands.SaveClaim(r.Context()); err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{RequestID: requestID, State: NewStateView(h.store.Get(), h.clock.Now())})
}

func (h *Handler) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 500 {
			writeError(w, requestIDFrom(r), http.StatusBadRequest, "invalid_request", "limit must be between 1 and 500")
			return
		}
		limit = value
	}
	entries, err := h.journal.Recent(r.Context(), h.counterID, limit)
	if err != nil {
		writeError(w, requestIDFrom(r), http.StatusInternalServerError, "internal_error", "journal unavailable")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, requestID string, out any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func requestIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
		return id
	}
	return uuid.NewString()
}

func mapError(err error) (int, string, string) {
	msg := queueapi.Message(err)
	switch queueapi.KindOf(err) {
	case queueapi.KindValidation:
		return http.StatusBadRequest, string(queueapi.KindValidation), msg
	case queueapi.KindNotFound:
		return http.StatusNotFound, string(queueapi.KindNotFound), msg
	case queueapi.KindConflict:
		return http.StatusConflict, string(queueapi.KindConflict), msg
	case queueapi.KindUnauthorized:
		return http.StatusUnauthorized, string(queueapi.KindUnauthorized), msg
	case queueapi.KindNetwork:
		return http.StatusBadGateway, string(queueapi.KindNetwork), msg
	default:
		return http.StatusBadGateway, string(queueapi.KindServer), msg
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
