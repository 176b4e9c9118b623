package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation adapts the metrics and tracing providers to the engine's
// instrumentation hooks. Either provider may be nil; the corresponding
// signal is simply not emitted. Pass it to rpc.New via
// rpc.WithInstrumentation.
type Instrumentation struct {
	metrics *MetricsProvider
	tracing *TracingProvider
}

// NewInstrumentation combines metrics and tracing providers into one hook set
func NewInstrumentation(metrics *MetricsProvider, tracing *TracingProvider) *Instrumentation {
	return &Instrumentation{metrics: metrics, tracing: tracing}
}

// OutboundRequest records the terminal outcome of one outbound request
func (i *Instrumentation) OutboundRequest(method string) func(outcome string, elapsed time.Duration) {
	return func(outcome string, elapsed time.Duration) {
		if i.metrics != nil {
			i.metrics.RecordOutboundRequest(method, outcome, elapsed)
			if outcome != "ok" {
				i.metrics.RecordError(outcome, method)
			}
		}
	}
}

// InboundRequest opens a server span around one inbound request handler
func (i *Instrumentation) InboundRequest(ctx context.Context, method string) (context.Context, func(errorCode int)) {
	start := time.Now()

	var span trace.Span
	if i.tracing != nil {
		ctx, span = i.tracing.StartMethodSpan(ctx, method, trace.SpanKindServer)
	}

	return ctx, func(errorCode int) {
		status := "ok"
		if errorCode != 0 {
			status = strconv.Itoa(errorCode)
		}
		if i.metrics != nil {
			i.metrics.RecordInboundRequest(method, status, time.Since(start))
		}
		if span != nil {
			if errorCode != 0 {
				span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", errorCode))
				span.SetStatus(codes.Error, status)
			}
			span.End()
		}
	}
}

// Notification counts one notification by direction
func (i *Instrumentation) Notification(method string, outbound bool) {
	if i.metrics == nil {
		return
	}
	direction := "inbound"
	if outbound {
		direction = "outbound"
	}
	i.metrics.RecordNotification(method, direction)
}

// PendingRequests reports the outstanding-request table size
func (i *Instrumentation) PendingRequests(n int) {
	if i.metrics != nil {
		i.metrics.RecordPendingRequests(n)
	}
}
