package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEEndpointOriginValidation(t *testing.T) {
	tr, err := NewSSEClientTransport("https://example.com/mcp/sse")
	require.NoError(t, err)

	// Relative and same-origin callbacks are accepted.
	require.NoError(t, tr.setEndpoint("/mcp/messages?sessionId=abc"))
	assert.Equal(t, "abc", tr.SessionID())

	require.NoError(t, tr.setEndpoint("https://example.com/other?sessionId=def"))
	assert.Equal(t, "def", tr.SessionID())

	// A callback on a foreign origin must be refused.
	err = tr.setEndpoint("https://attacker.example/mcp/messages?sessionId=ghi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match stream origin")

	// Same host, downgraded scheme: also refused.
	err = tr.setEndpoint("http://example.com/mcp/messages?sessionId=jkl")
	require.Error(t, err)

	// State is untouched by rejected endpoints.
	assert.Equal(t, "def", tr.SessionID())
}

func TestSSERoundTrip(t *testing.T) {
	handler := NewSSEHandler(func(st *SSEServerTransport) {
		st.SetMessageHandler(func(data []byte) {
			_ = st.Send(context.Background(), data)
		})
		require.NoError(t, st.Start(context.Background()))
	})

	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	tr, err := NewSSEClientTransport(httpServer.URL)
	require.NoError(t, err)

	var got collector
	got.attach(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	assert.NotEmpty(t, tr.SessionID())

	payload := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	require.NoError(t, tr.Send(ctx, []byte(payload)))

	require.Eventually(t, func() bool {
		return len(got.snapshot()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, payload, got.snapshot()[0])
}

func TestSSEUnknownSessionRejected(t *testing.T) {
	handler := NewSSEHandler(nil)
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	resp, err := httpServer.Client().Post(
		httpServer.URL+"?sessionId=nope", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}
