package rpc

import (
	"context"
	"time"
)

// Instrumentation receives engine lifecycle events. Implementations must
// be safe for concurrent use; the engine calls them from dispatch
// goroutines and timer callbacks. The returned completion funcs are
// always non-nil and the engine invokes each exactly once.
type Instrumentation interface {
	// OutboundRequest marks a request being sent. The returned func is
	// called with the terminal outcome ("ok", "error", "invalid",
	// "timeout", "cancelled", "closed") and the request's elapsed time.
	OutboundRequest(method string) func(outcome string, elapsed time.Duration)

	// InboundRequest marks a request handler starting. The returned
	// context is passed to the handler, letting implementations attach
	// trace spans; the returned func is called with the error code sent
	// back, or zero on success or a discarded result.
	InboundRequest(ctx context.Context, method string) (context.Context, func(errorCode int))

	// Notification marks a notification sent (outbound true) or received.
	Notification(method string, outbound bool)

	// PendingRequests reports the outstanding-request table size after a
	// change.
	PendingRequests(n int)
}

// NopInstrumentation discards all events.
type NopInstrumentation struct{}

func (NopInstrumentation) OutboundRequest(string) func(string, time.Duration) {
	return func(string, time.Duration) {}
}

func (NopInstrumentation) InboundRequest(ctx context.Context, _ string) (context.Context, func(int)) {
	return ctx, func(int) {}
}

func (NopInstrumentation) Notification(string, bool) {}

func (NopInstrumentation) PendingRequests(int) {}
