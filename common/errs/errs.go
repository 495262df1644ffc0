package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry decisions and HTTP mapping
type Kind string

const (
	KindInvalidWorkflow     Kind = "InvalidWorkflow"
	KindInvalidInput        Kind = "InvalidInput"
	KindCredentialMissing   Kind = "CredentialMissing"
	KindCredentialInvalid   Kind = "CredentialInvalid"
	KindAuthorizationFailed Kind = "AuthorizationFailed"
	KindInvalidState        Kind = "InvalidState"
	KindUnauthorized        Kind = "Unauthorized"
	KindNotFound            Kind = "NotFound"
	KindRateLimited         Kind = "RateLimited"
	KindUpstreamTransient   Kind = "UpstreamTransient"
	KindUpstreamPermanent   Kind = "UpstreamPermanent"
	KindTimeout             Kind = "Timeout"
	KindCanceled            Kind = "Canceled"
	KindSandboxError        Kind = "SandboxError"
	KindNotImplemented      Kind = "NotImplemented"
	KindInternal            Kind = "Internal"
)

// Error is a classified error. NodeID and Attempt are filled in by the
// executor layer when the error crosses a node boundary.
type Error struct {
	Kind    Kind
	Message string
	NodeID  string
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s (attempt %d): %s", e.Kind, e.NodeID, e.Attempt, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a kind. The wrapped error's message is
// preserved through Unwrap; Message adds context.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithNode attaches node id and attempt number, returning a copy
func WithNode(err error, nodeID string, attempt int) *Error {
	var e *Error
	if errors.As(err, &e) {
		clone := *e
		clone.NodeID = nodeID
		clone.Attempt = attempt
		return &clone
	}
	return &Error{Kind: KindInternal, Message: err.Error(), NodeID: nodeID, Attempt: attempt, Err: err}
}

// KindOf extracts the kind from an error chain; unclassified errors are Internal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retriable reports whether the adapter layer should retry this kind
func Retriable(kind Kind) bool {
	switch kind {
	case KindUpstreamTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error kind to an HTTP status code for the gateway
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidWorkflow, KindInvalidInput, KindInvalidState:
		return http.StatusBadRequest
	case KindUnauthorized, KindAuthorizationFailed:
		return http.StatusUnauthorized
	case KindCredentialMissing, KindCredentialInvalid:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindCanceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
