package transport

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector accumulates delivered payloads for assertions.
type collector struct {
	mu       sync.Mutex
	messages []string
	closed   bool
}

func (c *collector) attach(t Transport) {
	t.SetMessageHandler(func(data []byte) {
		c.mu.Lock()
		c.messages = append(c.messages, string(data))
		c.mu.Unlock()
	})
	t.SetCloseHandler(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *collector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestInProcPairDeliversInOrder(t *testing.T) {
	a, b := NewInProcPair()

	var got collector
	got.attach(b)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, []byte("one")))
	require.NoError(t, a.Send(ctx, []byte("two")))
	require.NoError(t, a.Send(ctx, []byte("three")))

	require.Eventually(t, func() bool {
		return len(got.snapshot()) == 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, got.snapshot())
}

func TestInProcCloseClosesBothEnds(t *testing.T) {
	a, b := NewInProcPair()

	var ca, cb collector
	ca.attach(a)
	cb.attach(b)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.Close())

	require.Eventually(t, ca.isClosed, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, cb.isClosed, 5*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, a.Send(context.Background(), []byte("late")), ErrClosed)
}

func TestInProcSendBeforeStartFails(t *testing.T) {
	a, _ := NewInProcPair()
	assert.ErrorIs(t, a.Send(context.Background(), []byte("early")), ErrNotStarted)
}

func TestStdioFraming(t *testing.T) {
	inR, inW := io.Pipe()
	var outBuf strings.Builder
	outMu := sync.Mutex{}
	lockedOut := writerFunc(func(p []byte) (int, error) {
		outMu.Lock()
		defer outMu.Unlock()
		return outBuf.Write(p)
	})

	tr := NewStdioTransport(WithStdioStreams(inR, lockedOut))

	var got collector
	got.attach(tr)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	// Partial write followed by the rest of the line plus the start of the
	// next: the scanner must reassemble exactly two payloads.
	go func() {
		io.WriteString(inW, `{"jsonrpc":"2.0","met`)
		io.WriteString(inW, "hod\":\"ping\",\"id\":1}\n")
		io.WriteString(inW, "{\"jsonrpc\":\"2.0\",\"result\":{},\"id\":1}\n")
	}()

	require.Eventually(t, func() bool {
		return len(got.snapshot()) == 2
	}, 5*time.Second, 5*time.Millisecond)

	msgs := got.snapshot()
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"ping","id":1}`, msgs[0])
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{},"id":1}`, msgs[1])

	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)))
	outMu.Lock()
	out := outBuf.String()
	outMu.Unlock()
	assert.True(t, strings.HasSuffix(out, "\n"), "payload must be newline terminated")
}

func TestStdioCloseFiresOnce(t *testing.T) {
	inR, _ := io.Pipe()
	tr := NewStdioTransport(WithStdioStreams(inR, io.Discard))

	closes := 0
	tr.SetCloseHandler(func() { closes++ })
	require.NoError(t, tr.Start(context.Background()))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, closes)

	assert.ErrorIs(t, tr.Send(context.Background(), []byte("late")), ErrClosed)
}

func TestStdioEOFClosesTransport(t *testing.T) {
	inR, inW := io.Pipe()
	tr := NewStdioTransport(WithStdioStreams(inR, io.Discard))

	var got collector
	got.attach(tr)
	require.NoError(t, tr.Start(context.Background()))

	inW.Close()
	require.Eventually(t, got.isClosed, 5*time.Second, 5*time.Millisecond)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
