package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentationWithoutProviders(t *testing.T) {
	instr := NewInstrumentation(nil, nil)

	finish := instr.OutboundRequest("tools/list")
	require.NotNil(t, finish)
	finish("ok", 10*time.Millisecond)

	ctx, done := instr.InboundRequest(context.Background(), "tools/call")
	assert.Equal(t, context.Background(), ctx)
	require.NotNil(t, done)
	done(0)

	instr.Notification("notifications/progress", true)
	instr.PendingRequests(3)
}

func TestMetricsProviderRecords(t *testing.T) {
	provider, err := NewMetricsProvider(MetricsConfig{
		ServiceName:    "test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
	})
	require.NoError(t, err)

	instr := NewInstrumentation(provider, nil)

	finish := instr.OutboundRequest("tools/list")
	finish("timeout", 250*time.Millisecond)

	_, done := instr.InboundRequest(context.Background(), "tools/call")
	done(-32602)

	instr.Notification("notifications/message", false)
	instr.PendingRequests(7)
	instr.PendingRequests(0)
}
