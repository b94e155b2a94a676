// Package apperr defines the transport-independent error taxonomy of §7:
// every error that crosses a component boundary carries one of these
// kinds so handlers can map it to an HTTP status and a recovery strategy
// without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds from the §7 taxonomy table.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindRateLimited    Kind = "rate_limited"
	KindSourceFailure  Kind = "source_failure"
	KindBreakerOpen    Kind = "breaker_open"
	KindCacheFailure   Kind = "cache_failure"
	KindLLMParse       Kind = "llm_parse"
	KindLLMQuota       Kind = "llm_quota"
	KindTimeout        Kind = "timeout"
	KindInternal       Kind = "internal"

	// Source-adapter failure taxonomy (§4.1). These sit one level below
	// the component-level kinds above: a source adapter reports one of
	// these in SourceResult.ErrorKind, and the orchestrator keeps the
	// reported kind as is (it also labels the per-source call metric).
	KindAuth        Kind = "auth"
	KindParse       Kind = "parse"
	KindNetwork     Kind = "network"
	KindUpstream5xx Kind = "upstream_5xx"
)

// Error wraps an underlying cause with a Kind, a short stable Code
// surfaced to clients, and a correlation id threaded from intake.
type Error struct {
	Kind          Kind
	Code          string
	Message       string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// WithCorrelation attaches a correlation id and returns the same error.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// As is a thin helper over errors.As for pulling an *Error out of a
// wrapped error chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code §7 assigns it. Kinds that
// are "hidden" (never surfaced to the HTTP client because peripheral
// failures degrade silently) fall back to 500 only if they somehow
// reach the edge uncaught.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindLLMParse, KindLLMQuota:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindSourceFailure, KindBreakerOpen, KindCacheFailure, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the LLM client should retry a call that
// failed with this kind (§4.7: timeout, upstream_5xx, rate_limited are
// retryable; auth, parse, not_found are not).
func Retryable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindRateLimited, KindUpstream5xx:
		return true
	default:
		return false
	}
}
