package edgegate

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Stable error codes returned by the gateway and the internal API.
const (
	ErrorCodeBadRequest        = "bad_request"
	ErrorCodeUnauthorized      = "unauthorized"
	ErrorCodeNotFound          = "not_found"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeServerError       = "server_error"
)

// Error is a gateway error response.
type Error struct {
	Code    string // stable machine-readable code
	Message string // human-readable description
	Status  int    // HTTP status code
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a gateway error.
func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Common errors as reusable constructors. Messages stay generic on the
// rejection paths: detection details belong in incidents, not responses.
var (
	ErrBadRequest = func(msg string) *Error {
		return NewError(ErrorCodeBadRequest, msg, http.StatusBadRequest)
	}

	ErrUnauthorized = func(msg string) *Error {
		return NewError(ErrorCodeUnauthorized, msg, http.StatusUnauthorized)
	}

	ErrResourceNotFound = func() *Error {
		return NewError(ErrorCodeNotFound, "resource not found", http.StatusNotFound)
	}

	ErrTooManyRequests = func() *Error {
		return NewError(ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests)
	}

	ErrServerError = func() *Error {
		return NewError(ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
	}
)

// errorBody is the JSON wire shape of an error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError writes e as the JSON response.
func WriteError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: e.Code, Message: e.Message})
}

// NotFoundHandler writes the canonical not-found response. The honeypot
// path uses the same handler, so a probe on a decoy path is
// indistinguishable from a miss on a route that never existed.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, ErrResourceNotFound())
	})
}
