package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	mcperrors "github.com/modelrpc/mcp-runtime-go/pkg/errors"
	"github.com/modelrpc/mcp-runtime-go/pkg/logging"
	"github.com/modelrpc/mcp-runtime-go/pkg/protocol"
)

// handleMessage demultiplexes one inbound payload. Messages from a single
// transport arrive here in order; request and notification handlers then
// run in their own goroutines so dispatch never blocks on a handler body.
func (p *Protocol) handleMessage(data []byte) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   *protocol.Error `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		p.reportError(mcperrors.WrapError(mcperrors.CodeParseError, "failed to parse message", mcperrors.CategoryProtocol, err))
		return
	}

	switch {
	case probe.Method == "":
		// No method: a response or error for one of our requests.
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			p.reportError(mcperrors.WrapError(mcperrors.CodeParseError, "failed to parse response", mcperrors.CategoryProtocol, err))
			return
		}
		p.handleResponse(&resp)
	case probe.ID != nil:
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			p.reportError(mcperrors.WrapError(mcperrors.CodeParseError, "failed to parse request", mcperrors.CategoryProtocol, err))
			return
		}
		p.handleRequest(&req)
	default:
		var n protocol.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			p.reportError(mcperrors.WrapError(mcperrors.CodeParseError, "failed to parse notification", mcperrors.CategoryProtocol, err))
			return
		}
		p.handleNotification(&n)
	}
}

// handleResponse settles the outstanding request matching the response's
// correlation id. An unknown id is reported through the error callback and
// otherwise ignored; it may be a benign duplicate or stale message.
func (p *Protocol) handleResponse(resp *protocol.Response) {
	id, ok := normalizeID(resp.ID)
	if !ok {
		p.reportError(fmt.Errorf("received response with malformed id %v", resp.ID))
		return
	}

	pr := p.removePending(id)
	if pr == nil {
		p.reportError(fmt.Errorf("received response for unknown request id %d", id))
		return
	}

	if resp.Error != nil {
		pr.finish("error", p.clock.Since(pr.startTime))
		pr.settle(settleResult{err: mcperrors.FromWire(resp.Error)})
		return
	}

	if pr.validator != nil {
		if err := pr.validator(resp.Result); err != nil {
			pr.finish("invalid", p.clock.Since(pr.startTime))
			pr.settle(settleResult{err: fmt.Errorf("result validation failed for %s: %w", pr.method, err)})
			return
		}
	}

	pr.finish("ok", p.clock.Since(pr.startTime))
	pr.settle(settleResult{result: resp.Result})
}

// handleRequest resolves a handler for an inbound request and runs it in
// its own goroutine. A cancellation context is recorded under the request
// id so an inbound notifications/cancelled can signal it; the entry is
// released whatever the outcome.
func (p *Protocol) handleRequest(req *protocol.Request) {
	p.mu.Lock()
	handler, ok := p.requestHandlers[req.Method]
	if !ok {
		handler = p.fallbackRequest
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}
	if handler == nil {
		p.respondError(req.ID, mcperrors.MethodNotFound(req.Method))
		return
	}

	handlerCtx, cancel := context.WithCancelCause(p.ctx)
	key := idKey(req.ID)
	p.mu.Lock()
	p.inboundCancels[key] = cancel
	p.mu.Unlock()

	sessionID := ""
	if t := p.Transport(); t != nil {
		sessionID = t.SessionID()
	}
	extra := RequestHandlerExtra{RequestID: req.ID, SessionID: sessionID}

	handlerCtx, finish := p.instr.InboundRequest(handlerCtx, req.Method)

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inboundCancels, key)
			p.mu.Unlock()
			cancel(nil)
		}()

		result, err := p.invokeRequestHandler(handlerCtx, handler, req, extra)

		// A handler that outlived its cancellation keeps its result: the
		// dispatcher discards it here instead of sending it.
		if handlerCtx.Err() != nil {
			finish(0)
			return
		}

		if err != nil {
			finish(mcperrors.CodeOf(err))
			p.respondError(req.ID, err)
			return
		}
		finish(0)
		p.respond(req.ID, result)
	}()
}

// invokeRequestHandler runs the handler with panic recovery; a panicking
// handler yields an internal error response, never a crashed dispatch
// loop.
func (p *Protocol) invokeRequestHandler(ctx context.Context, handler RequestHandler, req *protocol.Request, extra RequestHandlerExtra) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("request handler panicked",
				logging.String("method", req.Method), logging.Any("panic", r))
			result = nil
			err = mcperrors.Internal(fmt.Sprintf("internal error processing %s", req.Method), nil)
		}
	}()
	return handler(ctx, req, extra)
}

func (p *Protocol) respond(id protocol.RequestID, result interface{}) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		p.respondError(id, mcperrors.Internal("failed to marshal result", err))
		return
	}
	p.sendMessage(resp)
}

func (p *Protocol) respondError(id protocol.RequestID, cause error) {
	wireErr := mcperrors.ToWire(cause)
	resp := &protocol.Response{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             id,
		Error:          wireErr,
	}
	p.sendMessage(resp)
}

func (p *Protocol) sendMessage(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.reportError(err)
		return
	}
	if err := p.send(p.ctx, data); err != nil {
		p.reportError(err)
	}
}

// handleNotification runs the built-in cancelled/progress plumbing inline,
// in arrival order, and user handlers in their own goroutines. A
// notification with no matching handler is silently ignored.
func (p *Protocol) handleNotification(n *protocol.Notification) {
	p.instr.Notification(n.Method, false)

	switch n.Method {
	case protocol.NotificationCancelled:
		p.handleCancelled(n)
		return
	case protocol.NotificationProgress:
		p.handleProgress(n)
		return
	}

	p.mu.Lock()
	handler, ok := p.notificationHandlers[n.Method]
	if !ok {
		handler = p.fallbackNotification
	}
	p.mu.Unlock()

	if handler == nil {
		p.logger.Debug("ignoring notification with no handler",
			logging.String("method", n.Method))
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.reportError(fmt.Errorf("notification handler for %s panicked: %v", n.Method, r))
			}
		}()
		if err := handler(p.ctx, n); err != nil {
			// Notifications have no response channel.
			p.reportError(fmt.Errorf("notification handler for %s failed: %w", n.Method, err))
		}
	}()
}

// handleCancelled aborts the in-flight inbound handler matching the
// referenced request id, if it is still running.
func (p *Protocol) handleCancelled(n *protocol.Notification) {
	var params protocol.CancelledParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		p.reportError(mcperrors.InvalidParams(protocol.NotificationCancelled, err))
		return
	}

	p.mu.Lock()
	cancel, ok := p.inboundCancels[idKey(params.RequestID)]
	p.mu.Unlock()
	if !ok {
		return
	}

	reason := params.Reason
	if reason == "" {
		reason = "request cancelled by peer"
	}
	p.logger.Debug("cancelling inbound request",
		logging.Any("id", params.RequestID), logging.String("reason", reason))
	cancel(mcperrors.NewError(mcperrors.CodeInvalidRequest, reason, mcperrors.CategoryCancelled))
}

// handleProgress routes a progress payload to the outstanding request its
// token references, applying the timeout-reset policy first.
func (p *Protocol) handleProgress(n *protocol.Notification) {
	var params protocol.ProgressParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		p.reportError(mcperrors.InvalidParams(protocol.NotificationProgress, err))
		return
	}

	id, ok := normalizeID(params.ProgressToken)
	if !ok {
		p.reportError(fmt.Errorf("received progress with malformed token %v", params.ProgressToken))
		return
	}

	p.mu.Lock()
	pr, ok := p.pending[id]
	if !ok {
		p.mu.Unlock()
		p.logger.Debug("ignoring progress for unknown request", logging.Any("id", id))
		return
	}

	if pr.resetOnProgress {
		elapsed := p.clock.Since(pr.startTime)
		if pr.maxTotalTimeout > 0 && elapsed >= pr.maxTotalTimeout {
			// Budget exhausted: settle now, rearm nothing. The check is
			// reactive; see the package comment.
			delete(p.pending, id)
			if pr.timer != nil {
				pr.timer.Stop()
			}
			p.instr.PendingRequests(len(p.pending))
			p.mu.Unlock()

			pr.finish("timeout", elapsed)
			pr.settle(settleResult{err: mcperrors.MaxTotalTimeoutExceeded(pr.maxTotalTimeout)})
			return
		}
		pr.timer.Reset(pr.timeout)
	}
	onProgress := pr.onProgress
	p.mu.Unlock()

	if onProgress != nil {
		onProgress(params)
	}
}

// normalizeID maps a wire-decoded correlation id or progress token onto
// the engine's integer id space.
func normalizeID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		i := int64(n)
		return i, float64(i) == n
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// idKey normalizes any wire id into a map key for the inbound
// cancellation table, which must accept string ids from peers too.
func idKey(v interface{}) string {
	if i, ok := normalizeID(v); ok {
		return strconv.FormatInt(i, 10)
	}
	return fmt.Sprintf("%v", v)
}
