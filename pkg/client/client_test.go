package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/modelrpc/mcp-runtime-go/pkg/errors"
	"github.com/modelrpc/mcp-runtime-go/pkg/protocol"
	"github.com/modelrpc/mcp-runtime-go/pkg/rpc"
	"github.com/modelrpc/mcp-runtime-go/pkg/server"
	"github.com/modelrpc/mcp-runtime-go/pkg/transport"
)

func serveOpposite(t *testing.T, opts ...server.Option) (*server.Server, *transport.InProcTransport) {
	t.Helper()

	ta, tb := transport.NewInProcPair()
	srv := server.New(opts...)
	require.NoError(t, srv.Serve(context.Background(), tb))
	t.Cleanup(func() {
		srv.Close()
	})
	return srv, ta
}

func TestConnectHandshake(t *testing.T) {
	initialized := make(chan struct{})
	srv, ta := serveOpposite(t,
		server.WithName("test-server"),
		server.WithVersion("2.0.0"),
		server.WithInstructions("use the tools"),
		server.WithCapabilities(protocol.Capabilities{
			Tools: &protocol.ToolsCapability{ListChanged: true},
		}),
		server.OnInitialized(func() { close(initialized) }),
	)

	c := New(
		WithName("test-client"),
		WithCapabilities(protocol.Capabilities{
			Sampling: map[string]interface{}{},
		}),
	)
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, "test-server", c.ServerInfo().Name)
	assert.Equal(t, "use the tools", c.Instructions())
	assert.Equal(t, protocol.LatestProtocolVersion, c.ProtocolVersion())
	assert.True(t, c.ServerCapabilities().Has(protocol.CapabilityTools))

	select {
	case <-initialized:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the initialized notification")
	}
	assert.True(t, srv.Initialized())
	assert.Equal(t, "test-client", srv.ClientInfo().Name)
	assert.True(t, srv.ClientCapabilities().Has(protocol.CapabilitySampling))
}

func TestOlderVersionNegotiated(t *testing.T) {
	srv, ta := serveOpposite(t)

	c := New(WithProtocolVersions("2024-10-07"))
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	assert.Equal(t, "2024-10-07", c.ProtocolVersion())
	assert.Equal(t, "2024-10-07", srv.ProtocolVersion())
}

func TestUnsupportedVersionClosesTransport(t *testing.T) {
	// A server that only speaks a version the client does not know falls
	// back to offering it, and the client must refuse and hang up.
	_, ta := serveOpposite(t, server.WithProtocolVersions("9999-12-31"))

	c := New()
	err := c.Connect(context.Background(), ta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol version")

	assert.Error(t, c.Ping(context.Background()))
}

func TestConnectTwiceFails(t *testing.T) {
	_, ta := serveOpposite(t)

	c := New()
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	tb, _ := transport.NewInProcPair()
	require.Error(t, c.Connect(context.Background(), tb))
}

func TestRegisterCapabilitiesBeforeConnectOnly(t *testing.T) {
	_, ta := serveOpposite(t)

	c := New(WithCapabilities(protocol.Capabilities{
		Sampling: map[string]interface{}{},
	}))
	require.NoError(t, c.RegisterCapabilities(protocol.Capabilities{
		Roots: &protocol.RootsCapability{ListChanged: true},
	}))

	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	err := c.RegisterCapabilities(protocol.Capabilities{
		Logging: map[string]interface{}{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after connect")
}

func TestStrictModeBlocksUndeclaredServerCapability(t *testing.T) {
	_, ta := serveOpposite(t) // no tools capability declared

	c := New(WithStrictCapabilities())
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	_, err := c.Request(context.Background(), "tools/list", nil)
	require.Error(t, err)

	var rpcErr mcperrors.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcperrors.CategoryUsage, rpcErr.Category())
}

func TestLenientModeDefersToServer(t *testing.T) {
	_, ta := serveOpposite(t)

	c := New()
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	// Without strict mode the request goes out and the server answers
	// with method-not-found.
	_, err := c.Request(context.Background(), "tools/list", nil)
	require.Error(t, err)

	var rpcErr mcperrors.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcperrors.CodeMethodNotFound, rpcErr.Code())
}

func TestHandlerRegistrationRequiresLocalCapability(t *testing.T) {
	noop := func(context.Context, *protocol.Request, rpc.RequestHandlerExtra) (interface{}, error) {
		return nil, nil
	}

	c := New() // no sampling capability
	err := c.SetRequestHandler("sampling/createMessage", noop)
	require.Error(t, err)

	c = New(WithCapabilities(protocol.Capabilities{
		Sampling: map[string]interface{}{},
	}))
	require.NoError(t, c.SetRequestHandler("sampling/createMessage", noop))
}

func TestOutboundRootsNotificationRequiresDeclaration(t *testing.T) {
	_, ta := serveOpposite(t)

	c := New() // roots never declared
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	err := c.Notification(context.Background(), "notifications/roots/list_changed", nil)
	require.Error(t, err)

	var rpcErr mcperrors.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcperrors.CategoryUsage, rpcErr.Category())
}

func TestOnLoggingMessage(t *testing.T) {
	srv, ta := serveOpposite(t, server.WithCapabilities(protocol.Capabilities{
		Logging: map[string]interface{}{},
	}))

	c := New()
	received := make(chan protocol.LoggingMessageParams, 1)
	require.NoError(t, c.OnLoggingMessage(func(p protocol.LoggingMessageParams) {
		received <- p
	}))
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	require.NoError(t, srv.LogMessage(context.Background(), protocol.LoggingWarning, "core", "disk almost full"))

	select {
	case p := <-received:
		assert.Equal(t, protocol.LoggingWarning, p.Level)
		assert.Equal(t, "core", p.Logger)
	case <-time.After(5 * time.Second):
		t.Fatal("log message never arrived")
	}
}

func TestPing(t *testing.T) {
	_, ta := serveOpposite(t)

	c := New()
	require.NoError(t, c.Connect(context.Background(), ta))
	defer c.Close()

	require.NoError(t, c.Ping(context.Background()))
}
