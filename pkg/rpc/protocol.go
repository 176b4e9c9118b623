package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	mcperrors "github.com/modelrpc/mcp-runtime-go/pkg/errors"
	"github.com/modelrpc/mcp-runtime-go/pkg/logging"
	"github.com/modelrpc/mcp-runtime-go/pkg/protocol"
	"github.com/modelrpc/mcp-runtime-go/pkg/transport"
)

// Protocol is the message-layer engine for one connection. It owns its
// transport, the outstanding-request table and the handler registries;
// every inbound message is demultiplexed through it.
type Protocol struct {
	logger logging.Logger
	clock  clock.Clock
	instr  Instrumentation

	ctx       context.Context
	cancelCtx context.CancelFunc

	nextID atomic.Int64

	mu        sync.Mutex
	transport transport.Transport
	connected bool
	closed    bool

	pending        map[int64]*pendingRequest
	inboundCancels map[string]context.CancelCauseFunc

	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	builtins             map[string]bool
	fallbackRequest      RequestHandler
	fallbackNotification NotificationHandler

	gates   Gates
	onError func(error)
	onClose func()
}

// pendingRequest tracks one in-flight outbound request. The entry is
// removed from the table by whichever terminal event wins; removal and
// settling happen together, so a second terminal event for the same id is
// structurally impossible.
type pendingRequest struct {
	id        int64
	method    string
	done      chan settleResult
	validator ResultValidator

	onProgress      ProgressHandler
	resetOnProgress bool
	timeout         time.Duration
	maxTotalTimeout time.Duration
	startTime       time.Time
	timer           *clock.Timer
	finish          func(outcome string, elapsed time.Duration)
}

type settleResult struct {
	result json.RawMessage
	err    error
}

// New creates a Protocol engine. The engine is inert until Connect.
func New(opts ...Option) *Protocol {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Protocol{
		logger:               logging.NewNopLogger(),
		clock:                clock.New(),
		instr:                NopInstrumentation{},
		ctx:                  ctx,
		cancelCtx:            cancel,
		pending:              make(map[int64]*pendingRequest),
		inboundCancels:       make(map[string]context.CancelCauseFunc),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		builtins:             make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}

	// ping answers itself unless a handler explicitly overrides it.
	p.requestHandlers[protocol.MethodPing] = func(context.Context, *protocol.Request, RequestHandlerExtra) (interface{}, error) {
		return protocol.PingResult{}, nil
	}
	p.builtins[protocol.MethodPing] = true

	return p
}

// SetGates installs the capability-assertion hooks. Connection roles call
// this before Connect.
func (p *Protocol) SetGates(g Gates) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gates = g
}

// OnError installs the callback for non-fatal anomalies: transport errors,
// responses with unknown correlation ids, notification handler failures.
func (p *Protocol) OnError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// OnClose installs the callback run once when the connection shuts down.
func (p *Protocol) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = fn
}

// Connect wires the engine to t and starts it. Calling Connect twice on
// the same engine is an error.
func (p *Protocol) Connect(ctx context.Context, t transport.Transport) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return errors.New("protocol already connected to a transport")
	}
	if p.closed {
		p.mu.Unlock()
		return mcperrors.ConnectionClosed()
	}
	p.connected = true
	p.transport = t
	p.mu.Unlock()

	t.SetMessageHandler(p.handleMessage)
	t.SetErrorHandler(p.reportError)
	t.SetCloseHandler(p.handleClose)

	if err := t.Start(ctx); err != nil {
		p.mu.Lock()
		p.connected = false
		p.transport = nil
		p.mu.Unlock()
		return fmt.Errorf("transport start failed: %w", err)
	}
	return nil
}

// Close shuts the connection down. All still-outstanding requests settle
// with a ConnectionClosed error. Closing twice has no further effect.
func (p *Protocol) Close() error {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()

	if t != nil {
		// The transport's close handler drives the table cleanup.
		return t.Close()
	}
	p.handleClose()
	return nil
}

// Transport exposes the connected transport, or nil before Connect.
func (p *Protocol) Transport() transport.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport
}

// Request sends a request and blocks until its correlation id settles:
// matching response, matching error, timeout, caller cancellation, or
// connection close. Exactly one of those ever settles it.
//
// On caller cancellation the returned error is context.Cause(ctx)
// verbatim, so callers can tell their own cancellation apart from
// protocol-reported errors.
func (p *Protocol) Request(ctx context.Context, method string, params interface{}, opts ...RequestOption) (json.RawMessage, error) {
	if err := checkGate(p.gateSnapshot().OutboundRequest, method); err != nil {
		return nil, err
	}

	ro := newRequestOptions(opts)
	id := p.nextID.Add(1)

	paramsJSON, err := marshalParams(params, ro.onProgress != nil, id)
	if err != nil {
		return nil, err
	}

	req := &protocol.Request{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	pr, err := p.registerPending(id, method, ro)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("sending request",
		logging.String("method", method), logging.Any("id", id))

	if err := p.send(ctx, data); err != nil {
		p.removePending(id)
		return nil, err
	}

	select {
	case res := <-pr.done:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		cause := context.Cause(ctx)
		if p.removePending(id) != nil {
			pr.finish("cancelled", p.clock.Since(pr.startTime))
			p.notifyCancelled(id, cause.Error())
		}
		return nil, cause
	}
}

// Notification sends a fire-and-forget notification. Nothing is tracked.
func (p *Protocol) Notification(ctx context.Context, method string, params interface{}) error {
	if err := checkGate(p.gateSnapshot().OutboundNotification, method); err != nil {
		return err
	}

	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	p.instr.Notification(method, true)
	return p.send(ctx, data)
}

// NotifyProgress streams a progress update for the given token, usually
// from inside a request handler using the inbound request's id.
func (p *Protocol) NotifyProgress(ctx context.Context, params protocol.ProgressParams) error {
	return p.Notification(ctx, protocol.NotificationProgress, params)
}

// SetRequestHandler registers the sole handler for a request method.
// Re-registering over an existing handler is a usage error surfaced here,
// at registration time; built-in handlers (ping) may be overridden.
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) error {
	if err := checkGate(p.gateSnapshot().RequestHandler, method); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.requestHandlers[method]; exists && !p.builtins[method] {
		return fmt.Errorf("request handler already registered for method %q", method)
	}
	p.requestHandlers[method] = handler
	delete(p.builtins, method)
	return nil
}

// RemoveRequestHandler removes the handler for a request method.
func (p *Protocol) RemoveRequestHandler(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.requestHandlers, method)
	delete(p.builtins, method)
}

// SetNotificationHandler registers the handler for a notification method,
// replacing any previous one.
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) error {
	if err := checkGate(p.gateSnapshot().NotificationHandler, method); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.notificationHandlers[method] = handler
	return nil
}

// RemoveNotificationHandler removes the handler for a notification method.
func (p *Protocol) RemoveNotificationHandler(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.notificationHandlers, method)
}

// SetFallbackRequestHandler handles requests no specific handler matches.
func (p *Protocol) SetFallbackRequestHandler(handler RequestHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallbackRequest = handler
}

// SetFallbackNotificationHandler handles notifications no specific handler
// matches.
func (p *Protocol) SetFallbackNotificationHandler(handler NotificationHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallbackNotification = handler
}

func (p *Protocol) gateSnapshot() Gates {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gates
}

func checkGate(gate func(string) error, method string) error {
	if gate == nil {
		return nil
	}
	return gate(method)
}

func (p *Protocol) send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	t := p.transport
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return mcperrors.ConnectionClosed()
	}
	if t == nil {
		return errors.New("protocol not connected")
	}
	return t.Send(ctx, data)
}

// registerPending creates the table entry and arms the per-attempt timer
// in one critical section, so a racing progress notification can never
// observe an entry without a timer.
func (p *Protocol) registerPending(id int64, method string, ro requestOptions) (*pendingRequest, error) {
	pr := &pendingRequest{
		id:              id,
		method:          method,
		done:            make(chan settleResult, 1),
		validator:       ro.validator,
		onProgress:      ro.onProgress,
		resetOnProgress: ro.resetOnProgress,
		timeout:         ro.timeout,
		maxTotalTimeout: ro.maxTotalTimeout,
		startTime:       p.clock.Now(),
		finish:          p.instr.OutboundRequest(method),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, mcperrors.ConnectionClosed()
	}
	p.pending[id] = pr
	pr.timer = p.clock.AfterFunc(ro.timeout, func() { p.onRequestTimeout(id) })
	p.instr.PendingRequests(len(p.pending))
	return pr, nil
}

// removePending detaches the entry for id, stopping its timer. It returns
// nil when another terminal event already claimed the entry.
func (p *Protocol) removePending(id int64) *pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.pending[id]
	if !ok {
		return nil
	}
	delete(p.pending, id)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	p.instr.PendingRequests(len(p.pending))
	return pr
}

func (pr *pendingRequest) settle(res settleResult) {
	pr.done <- res
}

// onRequestTimeout is the per-attempt timer's firing path. It follows the
// same shape as external cancellation: notify the peer, release
// bookkeeping, settle with a RequestTimeout error.
func (p *Protocol) onRequestTimeout(id int64) {
	pr := p.removePending(id)
	if pr == nil {
		return
	}

	p.logger.Warn("request timed out",
		logging.String("method", pr.method),
		logging.Any("id", id),
		logging.Duration("timeout", pr.timeout))

	p.notifyCancelled(id, "request timed out")
	pr.finish("timeout", p.clock.Since(pr.startTime))
	pr.settle(settleResult{err: mcperrors.RequestTimeout(pr.timeout)})
}

func (p *Protocol) notifyCancelled(id protocol.RequestID, reason string) {
	n, err := protocol.NewNotification(protocol.NotificationCancelled, protocol.CancelledParams{
		RequestID: id,
		Reason:    reason,
	})
	if err != nil {
		p.reportError(err)
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		p.reportError(err)
		return
	}
	if err := p.send(p.ctx, data); err != nil {
		// Best effort: the peer may already be gone.
		p.logger.Debug("failed to send cancelled notification", logging.ErrorField(err))
	}
}

// handleClose synthesizes a ConnectionClosed error for every outstanding
// request, releases all tables, and fires the close callback. Safe to run
// more than once; only the first run has effects.
func (p *Protocol) handleClose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	pendingNow := p.pending
	p.pending = make(map[int64]*pendingRequest)
	cancels := p.inboundCancels
	p.inboundCancels = make(map[string]context.CancelCauseFunc)
	onClose := p.onClose
	p.instr.PendingRequests(0)
	p.mu.Unlock()

	p.cancelCtx()

	closedErr := mcperrors.ConnectionClosed()
	for _, pr := range pendingNow {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		pr.finish("closed", p.clock.Since(pr.startTime))
		pr.settle(settleResult{err: closedErr})
	}
	for _, cancel := range cancels {
		cancel(closedErr)
	}

	p.logger.Info("connection closed",
		logging.Int("aborted_requests", len(pendingNow)))

	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) reportError(err error) {
	p.mu.Lock()
	onError := p.onError
	p.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// marshalParams renders request params, injecting the progress token into
// the _meta envelope when the caller asked for progress updates.
func marshalParams(params interface{}, withProgress bool, id int64) (json.RawMessage, error) {
	if !withProgress {
		if params == nil {
			return nil, nil
		}
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		return data, nil
	}

	var m map[string]interface{}
	if params == nil {
		m = make(map[string]interface{}, 1)
	} else {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("params must encode to an object to carry a progress token: %w", err)
		}
	}

	meta, _ := m["_meta"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["progressToken"] = id
	m["_meta"] = meta

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return data, nil
}
