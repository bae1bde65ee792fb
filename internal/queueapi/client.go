package queueapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qms/counter-console/internal/metrics"
	"qms/counter-console/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ActionStart = "start"
	ActionPause = "pause"

	codeQueueEmpty = "queue_empty"
)

type Client interface {
	FetchSession(ctx context.Context, sessionID string) (models.Session, error)
	FetchWaiting(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error)
	FetchSessionTokens(ctx context.Context, sessionID, slotID string, statuses []models.TokenStatus) ([]models.Token, error)
	FetchCurrentToken(ctx context.Context, sessionID, counterID string) (*models.Token, error)
	FetchTokenByID(ctx context.Context, tokenID string) (*models.Token, error)
	FetchNotArrived(ctx context.Context, sessionID, slotID string) ([]models.BookedAppointment, error)
	ControlSession(ctx context.Context, sessionID string, req ControlRequest) error
	PopNextToken(ctx context.Context, sessionID, counterID, slotID string) (*models.Token, error)
	RecallToken(ctx context.Context, tokenID, counterID string) (models.Token, error)
	StartServing(ctx context.Context, tokenID, counterID string) error
	SkipToken(ctx context.Context, tokenID, counterID string) error
	ReturnToWaiting(ctx context.Context, tokenID string) error
	CompleteToken(ctx context.Context, tokenID, counterID string) error
	GetOrCreateClaim(ctx context.Context, tokenID string) (models.Claim, error)
	UpdateClaim(ctx context.Context, tokenID string, update models.ClaimUpdate) (models.Claim, error)
}

type ControlRequest struct {
	Action   string `json:"action"`
	Override bool   `json:"override"`
	SlotID   string `json:"slotId,omitempty"`
}

type tokenActionRequest struct {
	TokenID   string `json:"tokenId"`
	CounterID string `json:"counterId,omitempty"`
}

type popNextRequest struct {
	SessionID string `json:"sessionId"`
	CounterID string `json:"counterId"`
	SlotID    string `json:"slotId,omitempty"`
}

type Options struct {
	BaseURL           string
	Timeout           time.Duration
	SessionCookieName string
	SessionCookie     string
	Transport         http.RoundTripper
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(opts Options) (*HTTPClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	base, err := url.Parse(trimmed)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid queue api base url %q", opts.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if opts.SessionCookie != "" {
		name := opts.SessionCookieName
		if name == "" {
			name = "connect.sid"
		}
		jar.SetCookies(base, []*http.Cookie{{Name: name, Value: opts.SessionCookie, Path: "/"}})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &HTTPClient{
		baseURL: trimmed,
		httpClient: &http.Client{
			Timeout:   timeout,
			Jar:       jar,
			Transport: otelhttp.NewTransport(transport),
		},
	}, nil
}

func (c *HTTPClient) FetchSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	endpoint := fmt.Sprintf("%s/api/sessions/%s", c.baseURL, url.PathEscape(sessionID))
	if err := c.doJSON(ctx, "fetch session", http.MethodGet, endpoint, nil, &session); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (c *HTTPClient) FetchWaiting(ctx context.Context, sessionID, slotID string, limit int) ([]models.Token, error) {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	if slotID != "" {
		query.Set("slotId", slotID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var tokens []models.Token
	if err := c.doJSON(ctx, "fetch waiting", http.MethodGet, c.endpoint("/api/tokens/waiting", query), nil, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (c *HTTPClient) FetchSessionTokens(ctx context.Context, sessionID, slotID string, statuses []models.TokenStatus) ([]models.Token, error) {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	if slotID != "" {
		query.Set("slotId", slotID)
	}
	if len(statuses) > 0 {
		parts := make([]string, 0, len(statuses))
		for _, status := range statuses {
			parts = append(parts, string(status))
		}
		query.Set("statuses", strings.Join(parts, ","))
	}
	var tokens []models.Token
	if err := c.doJSON(ctx, "fetch session tokens", http.MethodGet, c.endpoint("/api/tokens/by-session", query), nil, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (c *HTTPClient) FetchCurrentToken(ctx context.Context, sessionID, counterID string) (*models.Token, error) {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	query.Set("counterId", counterID)
	return c.fetchOptionalToken(ctx, "fetch current token", http.MethodGet, c.endpoint("/api/tokens/current", query), nil)
}

func (c *HTTPClient) FetchTokenByID(ctx context.Context, tokenID string) (*models.Token, error) {
	query := url.Values{}
	query.Set("tokenId", tokenID)
	return c.fetchOptionalToken(ctx, "fetch token", http.MethodGet, c.endpoint("/api/tokens/current", query), nil)
}

func (c *HTTPClient) FetchNotArrived(ctx context.Context, sessionID, slotID string) ([]models.BookedAppointment, error) {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	query.Set("slotId", slotID)
	query.Set("statuses", "booked")
	var appointments []models.BookedAppointment
	if err := c.doJSON(ctx, "fetch not arrived", http.MethodGet, c.endpoint("/api/appointments/staff/by-session-slot", query), nil, &appointments); err != nil {
		return nil, err
	}
	return appointments, nil
}

func (c *HTTPClient) ControlSession(ctx context.Context, sessionID string, req ControlRequest) error {
	endpoint := fmt.Sprintf("%s/api/sessions/%s/control", c.baseURL, url.PathEscape(sessionID))
	return c.doJSON(ctx, "control session", http.MethodPost, endpoint, req, nil)
}

func (c *HTTPClient) PopNextToken(ctx context.Context, sessionID, counterID, slotID string) (*models.Token, error) {
	token, err := c.fetchOptionalToken(ctx, "pop next token", http.MethodPost, c.baseURL+"/api/tokens/pop-next", popNextRequest{
		SessionID: sessionID,
		CounterID: counterID,
		SlotID:    slotID,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind == KindConflict && apiErr.Code == codeQueueEmpty {
			return nil, nil
		}
		return nil, err
	}
	return token, nil
}

func (c *HTTPClient) RecallToken(ctx context.Context, tokenID, counterID string) (models.Token, error) {
	var token models.Token
	err := c.doJSON(ctx, "recall token", http.MethodPost, c.baseURL+"/api/tokens/recall", tokenActionRequest{TokenID: tokenID, CounterID: counterID}, &token)
	if err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (c *HTTPClient) StartServing(ctx context.Context, tokenID, counterID string) error {
	return c.doJSON(ctx, "start serving", http.MethodPost, c.baseURL+"/api/tokens/start", tokenActionRequest{TokenID: tokenID, CounterID: counterID}, nil)
}

func (c *HTTPClient) SkipToken(ctx context.Context, tokenID, counterID string) error {
	return c.doJSON(ctx, "skip token", http.MethodPost, c.baseURL+"/api/tokens/skip", tokenActionRequest{TokenID: tokenID, CounterID: counterID}, nil)
}

func (c *HTTPClient) ReturnToWaiting(ctx context.Context, tokenID string) error {
	return c.doJSON(ctx, "return to waiting", http.MethodPost, c.baseURL+"/api/tokens/return-to-waiting", tokenActionRequest{TokenID: tokenID}, nil)
}

func (c *HTTPClient) CompleteToken(ctx context.Context, tokenID, counterID string) error {
	return c.doJSON(ctx, "complete token", http.MethodPost, c.baseURL+"/api/tokens/complete", tokenActionRequest{TokenID: tokenID, CounterID: counterID}, nil)
}

func (c *HTTPClient) GetOrCreateClaim(ctx context.Context, tokenID string) (models.Claim, error) {
	var claim models.Claim
	err := c.doJSON(ctx, "get or create claim", http.MethodPost, c.baseURL+"/api/claims/get-or-create", tokenActionRequest{TokenID: tokenID}, &claim)
	if err != nil {
		return models.Claim{}, err
	}
	return claim, nil
}

func (c *HTTPClient) UpdateClaim(ctx context.Context, tokenID string, update models.ClaimUpdate) (models.Claim, error) {
	var claim models.Claim
	endpoint := fmt.Sprintf("%s/api/claims/%s", c.baseURL, url.PathEscape(tokenID))
	if err := c.doJSON(ctx, "update claim", http.MethodPut, endpoint, update, &claim); err != nil {
		return models.Claim{}, err
	}
	return claim, nil
}

func (c *HTTPClient) endpoint(path string, query url.Values) string {
	if len(query) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + query.Encode()
}

func (c *HTTPClient) fetchOptionalToken(ctx context.Context, op, method, endpoint string, in interface{}) (*models.Token, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, method, endpoint, in, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var token models.Token
	if err := json.Unmarshal(trimmed, &token); err != nil {
		return nil, &APIError{Kind: KindServer, Op: op, Message: "malformed token response", Err: err}
	}
	if token.TokenID == "" {
		return nil, nil
	}
	return &token, nil
}

// doJSON sends in as the JSON body (when non-nil) and decodes a 2xx body
// into out (when non-nil). A 204 leaves out untouched.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, endpoint string, in, out interface{}) error {
	start := time.Now()
	status := 0
	defer func() {
		metrics.ObserveAPICall(op, status, time.Since(start))
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &APIError{Kind: KindValidation, Op: op, Message: "invalid request payload", Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &APIError{Kind: KindValidation, Op: op, Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Kind: KindNetwork, Op: op, Message: "unable to reach queue service, try refreshing", Err: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &APIError{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Message: "connection dropped while reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, message := parseErrorBody(raw)
		if message == "" {
			message = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		return &APIError{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Code:    code,
			Message: message,
			Op:      op,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Kind: KindServer, Op: op, Status: resp.StatusCode, Message: "malformed response from queue service", Err: err}
	}
	return nil
}

// parseErrorBody accepts {"message"}, {"error": "..."} and the
// {"error": {"code", "message"}} envelope.
func parseErrorBody(raw []byte) (string, string) {
	var payload struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		text := strings.TrimSpace(string(raw))
		if len(text) > 200 {
			text = text[:200]
		}
		return "", text
	}
	code := payload.Code
	message := payload.Message
	if len(payload.Error) > 0 {
		var text string
		if err := json.Unmarshal(payload.Error, &text); err == nil {
			if message == "" {
				message = text
			}
		} else {
			var nested struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(payload.Error, &nested); err == nil {
				if code == "" {
					code = nested.Code
				}
				if message == "" {
					message = nested.Message
				}
			}
		}
	}
	return code, message
}
