package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/modelrpc/mcp-runtime-go/pkg/logging"
	"github.com/modelrpc/mcp-runtime-go/pkg/protocol"
)

// DefaultRequestTimeout is the per-attempt timeout applied when a request
// carries no explicit timeout.
const DefaultRequestTimeout = 60 * time.Second

// RequestHandlerExtra carries per-invocation metadata into a request
// handler. The handler's context is cancelled when the peer sends a
// matching notifications/cancelled; handlers observe it cooperatively.
type RequestHandlerExtra struct {
	// RequestID is the inbound request's correlation id.
	RequestID protocol.RequestID
	// SessionID identifies the transport session, when the transport is
	// session addressed.
	SessionID string
}

// RequestHandler answers one inbound request. The returned value is
// marshaled into the success response; a returned error becomes an error
// response, using the error's JSON-RPC code when it carries one.
type RequestHandler func(ctx context.Context, req *protocol.Request, extra RequestHandlerExtra) (interface{}, error)

// NotificationHandler consumes one inbound notification. Errors have no
// response channel and are only reported through the engine's error
// callback.
type NotificationHandler func(ctx context.Context, n *protocol.Notification) error

// ProgressHandler receives progress payloads for an outstanding request.
type ProgressHandler func(p protocol.ProgressParams)

// ResultValidator checks a success payload before it settles the caller's
// request. A non-nil return settles the request with that error instead.
type ResultValidator func(result json.RawMessage) error

// Gates are the capability-assertion hooks the connection roles install
// on the engine. A nil hook means no check. Hooks run synchronously
// before any bytes are sent (outbound) or before registration succeeds
// (handlers).
type Gates struct {
	OutboundRequest      func(method string) error
	OutboundNotification func(method string) error
	RequestHandler       func(method string) error
	NotificationHandler  func(method string) error
}

// Option configures a Protocol engine.
type Option func(*Protocol)

// WithLogger installs a structured logger. The default discards all output.
func WithLogger(logger logging.Logger) Option {
	return func(p *Protocol) { p.logger = logger }
}

// WithClock substitutes the clock used for timeout bookkeeping. Tests use
// a mock clock so no scenario needs a wall-clock wait.
func WithClock(clk clock.Clock) Option {
	return func(p *Protocol) { p.clock = clk }
}

// WithInstrumentation installs metrics/tracing hooks around the engine's
// request and notification paths.
func WithInstrumentation(instr Instrumentation) Option {
	return func(p *Protocol) { p.instr = instr }
}

// RequestOption configures a single outbound request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout         time.Duration
	maxTotalTimeout time.Duration
	resetOnProgress bool
	onProgress      ProgressHandler
	validator       ResultValidator
}

func newRequestOptions(opts []RequestOption) requestOptions {
	ro := requestOptions{timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// WithTimeout sets the per-attempt timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(ro *requestOptions) { ro.timeout = d }
}

// WithMaxTotalTimeout bounds the cumulative lifetime of a request whose
// per-attempt timer is being reset by progress notifications. The bound is
// enforced reactively, when the next progress notification arrives.
func WithMaxTotalTimeout(d time.Duration) RequestOption {
	return func(ro *requestOptions) { ro.maxTotalTimeout = d }
}

// WithResetTimeoutOnProgress rearms the per-attempt timer each time a
// progress notification for this request arrives.
func WithResetTimeoutOnProgress() RequestOption {
	return func(ro *requestOptions) { ro.resetOnProgress = true }
}

// WithProgressHandler attaches a progress callback. The request's
// correlation id doubles as its progress token on the wire.
func WithProgressHandler(h ProgressHandler) RequestOption {
	return func(ro *requestOptions) { ro.onProgress = h }
}

// WithResultValidator checks the success payload before it reaches the
// caller.
func WithResultValidator(v ResultValidator) RequestOption {
	return func(ro *requestOptions) { ro.validator = v }
}
