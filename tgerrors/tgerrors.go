package tgerrors

import "fmt"

// Kind is a stable, programmatic error identifier surfaced to clients as the
// response "code" field. The set is closed; new kinds require a protocol
// version bump.
type Kind string

const (
	KindParseError          Kind = "PARSE_ERROR"
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindNotFound            Kind = "NOT_FOUND"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindUnknownOperation    Kind = "UNKNOWN_OPERATION"
	KindRulesNotAvailable   Kind = "RULES_NOT_AVAILABLE"
	KindInternal            Kind = "INTERNAL_ERROR"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindConflict            Kind = "CONFLICT"
	KindTimeout             Kind = "TIMEOUT"
	KindBackpressureDropped Kind = "BACKPRESSURE_DROPPED"
	KindSessionExpired      Kind = "SESSION_EXPIRED"
	KindBufferOverflow      Kind = "BUFFER_OVERFLOW"
)

// Error is a structured, programmatically identifiable error for
// client-facing operations.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind and client-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted client-visible message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails returns a copy of e carrying extra response details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}
