package queueapi

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNetwork      Kind = "network_error"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation_error"
	KindUnauthorized Kind = "unauthorized"
	KindServer       Kind = "server_error"
)

var (
	ErrNetwork      = errors.New("network error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrServer       = errors.New("server error")
)

var kindSentinels = map[Kind]error{
	KindNetwork:      ErrNetwork,
	KindNotFound:     ErrNotFound,
	KindConflict:     ErrConflict,
	KindValidation:   ErrValidation,
	KindUnauthorized: ErrUnauthorized,
	KindServer:       ErrServer,
}

// APIError is returned by every Client operation. Message is the text the
// operator sees; for non-2xx responses it is the backend's own message.
type APIError struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Op      string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewValidationError is used by callers that reject a payload before it is
// dispatched.
func NewValidationError(op, message string) *APIError {
	return &APIError{Kind: KindValidation, Op: op, Message: message}
}

// Message returns the operator-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// KindOf reports the taxonomy kind of err, defaulting to KindServer.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindServer
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthorized
	default:
		return KindServer
	}
}
