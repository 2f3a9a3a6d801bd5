package tgerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorStringIncludesKindAndMessage(t *testing.T) {
	e := New(KindNotFound, "no such subscription")
	got := e.Error()
	if got != "NOT_FOUND: no such subscription" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestErrorStringIncludesWrappedCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(KindInternal, "store failed", cause)
	got := e.Error()
	if got != "INTERNAL_ERROR: store failed: disk full" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to see the cause")
	}
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	orig := New(KindRateLimited, "slow down")
	wrapped := fmt.Errorf("dispatch: %w", orig)
	got := Classify(wrapped)
	if got != orig {
		t.Fatalf("Classify() = %v, want the original typed error", got)
	}
}

func TestClassifyMapsContextErrors(t *testing.T) {
	if k := KindOf(context.DeadlineExceeded); k != KindTimeout {
		t.Fatalf("KindOf(DeadlineExceeded) = %s", k)
	}
	if k := KindOf(context.Canceled); k != KindTimeout {
		t.Fatalf("KindOf(Canceled) = %s", k)
	}
}

func TestClassifyHidesInternalDetail(t *testing.T) {
	te := Classify(errors.New("pq: connection refused"))
	if te.Kind != KindInternal {
		t.Fatalf("Kind = %s", te.Kind)
	}
	if te.Message != "internal error" {
		t.Fatalf("client message leaked: %q", te.Message)
	}
	if InternalText(te) != "pq: connection refused" {
		t.Fatalf("InternalText() = %q", InternalText(te))
	}
}

func TestInternalTextForExpectedFailures(t *testing.T) {
	if got := InternalText(New(KindUnauthorized, "Authentication required")); got != "Authentication required" {
		t.Fatalf("InternalText() = %q", got)
	}
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	e := New(KindRateLimited, "rate limit exceeded")
	d := e.WithDetails(map[string]any{"retryAfterMs": int64(250)})
	if e.Details != nil {
		t.Fatal("original error mutated")
	}
	if d.Details["retryAfterMs"].(int64) != 250 {
		t.Fatalf("Details = %v", d.Details)
	}
	if d.Kind != e.Kind || d.Message != e.Message {
		t.Fatal("copy lost kind or message")
	}
}
