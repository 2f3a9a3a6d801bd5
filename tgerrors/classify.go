package tgerrors

import (
	"context"
	"errors"
)

// internalMessage is the generic client-visible text for unexpected failures.
// Internal error strings never leak to the wire.
const internalMessage = "internal error"

// Classify maps an arbitrary error onto the closed kind set.
//
// A *tgerrors.Error anywhere in the chain passes through unchanged. Context
// errors map to TIMEOUT. Everything else becomes INTERNAL_ERROR with a
// generic client message; the original error stays wrapped for logs and
// audit entries.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) && te != nil {
		return te
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindTimeout, "operation canceled", err)
	default:
		return Wrap(KindInternal, internalMessage, err)
	}
}

// KindOf returns the kind Classify would assign.
func KindOf(err error) Kind {
	te := Classify(err)
	if te == nil {
		return ""
	}
	return te.Kind
}

// InternalText returns the message recorded in audit entries for err: the
// underlying error text for internal failures, the client message otherwise.
func InternalText(err error) string {
	te := Classify(err)
	if te == nil {
		return ""
	}
	if te.Kind == KindInternal && te.Err != nil {
		return te.Err.Error()
	}
	return te.Message
}
