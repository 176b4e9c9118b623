// Package rpc implements the message-layer protocol engine: it frames,
// correlates and dispatches bidirectional requests, notifications and
// responses over any transport.Transport.
//
// The engine owns the outstanding-request table, the per-request timeout
// machinery, cooperative cancellation for inbound handlers, and the
// method-keyed handler registries. Both connection roles build on it: the
// client drives the handshake through it, the server answers the
// handshake with built-in handlers registered on it.
//
// # Lifecycle
//
// Create an engine with New, register handlers, then call Connect exactly
// once with a started-capable transport. Request blocks the calling
// goroutine until its correlation id settles; inbound dispatch never
// blocks on a handler body, so handler invocations may overlap.
//
// # Timeouts
//
// Every request arms a per-attempt timer (default 60s). A progress
// notification matching the request's token resets that timer when the
// request opted in with WithResetTimeoutOnProgress, bounded by
// WithMaxTotalTimeout. The total budget is checked reactively, at the
// moment a progress notification arrives: if progress stops flowing after
// the budget is exceeded, the request runs until the per-attempt timer
// next fires rather than being cut off exactly at the budget, which
// keeps the engine at one timer per request.
package rpc
