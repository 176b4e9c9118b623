package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := UpgradeWebSocket(w, r, "session-1")
		if err != nil {
			return
		}
		st.SetMessageHandler(func(data []byte) {
			_ = st.Send(context.Background(), data)
		})
		_ = st.Start(context.Background())
	}))
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := DialWebSocket(ctx, wsURL(httpServer.URL))
	require.NoError(t, err)

	var got collector
	got.attach(tr)
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	payload := `{"jsonrpc":"2.0","id":7,"method":"ping"}`
	require.NoError(t, tr.Send(ctx, []byte(payload)))

	require.Eventually(t, func() bool {
		return len(got.snapshot()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, payload, got.snapshot()[0])
}

func TestWebSocketCloseFiresOnce(t *testing.T) {
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := UpgradeWebSocket(w, r, "session-2")
		if err != nil {
			return
		}
		_ = st.Start(context.Background())
	}))
	defer httpServer.Close()

	tr, err := DialWebSocket(context.Background(), wsURL(httpServer.URL))
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), []byte("late")), ErrClosed)
}
