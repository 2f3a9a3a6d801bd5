// Package store defines the reactive store contract the server consumes.
//
// The store engine itself is external. The server depends only on the Store
// interface: named operations over buckets of records plus a subscription
// primitive that re-emits query results on change. MemStore is an in-memory
// reference implementation used by the standalone binary and the tests.
package store

import "context"

// Subscription binds a query to a caller. Unsubscribe is an opaque thunk the
// caller invokes exactly once; it must be safe to call after the store has
// already dropped the subscription.
type Subscription struct {
	ID          string
	InitialData any
	Unsubscribe func()
}

// EmitFunc delivers a re-evaluated query result to the subscriber. The store
// must never write a transport directly; subscribers forward emissions into
// their own inboxes. Emit must not block.
type EmitFunc func(data any)

// Store is the capability surface of the reactive data store.
//
// Execute runs a named operation ("insert", "update", "delete", "get",
// "all", "query") with its parameters and returns the result payload.
// Client-visible failures are reported as *tgerrors.Error; anything else is
// treated as an internal store failure.
type Store interface {
	Execute(ctx context.Context, op string, params map[string]any) (any, error)

	// Subscribe evaluates the named query and registers emit for subsequent
	// re-evaluations. Concurrent calls from many connections must be safe.
	Subscribe(ctx context.Context, query string, params map[string]any, emit EmitFunc) (*Subscription, error)

	// Settle blocks until every pending query re-evaluation has been
	// delivered. Needed to observe pushes deterministically.
	Settle(ctx context.Context) error
}
