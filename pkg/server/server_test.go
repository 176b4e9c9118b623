package server

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/modelrpc/mcp-runtime-go/pkg/errors"
	"github.com/modelrpc/mcp-runtime-go/pkg/protocol"
	"github.com/modelrpc/mcp-runtime-go/pkg/rpc"
	"github.com/modelrpc/mcp-runtime-go/pkg/transport"
)

// servePeer starts a server on one end of an in-process pair and a bare
// engine on the other, standing in for a client that has not (yet) done
// the handshake.
func servePeer(t *testing.T, opts ...Option) (*Server, *rpc.Protocol) {
	t.Helper()

	ta, tb := transport.NewInProcPair()
	srv := New(opts...)
	require.NoError(t, srv.Serve(context.Background(), tb))

	peer := rpc.New()
	require.NoError(t, peer.Connect(context.Background(), ta))
	t.Cleanup(func() {
		peer.Close()
	})
	return srv, peer
}

func noopHandler(context.Context, *protocol.Request, rpc.RequestHandlerExtra) (interface{}, error) {
	return nil, nil
}

func TestRegistrationRequiresDeclaredCapability(t *testing.T) {
	srv := New() // nothing declared

	err := srv.SetRequestHandler("tools/list", noopHandler)
	require.Error(t, err)

	var rpcErr mcperrors.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcperrors.CategoryUsage, rpcErr.Category())

	require.NoError(t, srv.RegisterCapabilities(protocol.Capabilities{
		Tools: &protocol.ToolsCapability{},
	}))
	require.NoError(t, srv.SetRequestHandler("tools/list", noopHandler))
}

func TestClientSideHandlersAlwaysRegistrable(t *testing.T) {
	srv := New()

	// The roots list-changed notification belongs to the client's
	// declaration, so the server may always listen for it.
	err := srv.SetNotificationHandler("notifications/roots/list_changed",
		func(context.Context, *protocol.Notification) error { return nil })
	require.NoError(t, err)
}

func TestPingWorksBeforeInitialize(t *testing.T) {
	_, peer := servePeer(t)

	_, err := peer.Request(context.Background(), protocol.MethodPing, protocol.PingParams{})
	require.NoError(t, err)
}

func TestInitializeEchoesSupportedVersion(t *testing.T) {
	srv, peer := servePeer(t, WithName("vtest"))

	raw, err := peer.Request(context.Background(), protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      protocol.Implementation{Name: "old-client", Version: "0.9"},
	})
	require.NoError(t, err)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "2024-11-05", result.ProtocolVersion)
	assert.Equal(t, "vtest", result.ServerInfo.Name)
	assert.Equal(t, "2024-11-05", srv.ProtocolVersion())
	assert.Equal(t, "old-client", srv.ClientInfo().Name)
}

func TestInitializeFallsBackToLatest(t *testing.T) {
	_, peer := servePeer(t)

	raw, err := peer.Request(context.Background(), protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: "1999-01-01",
	})
	require.NoError(t, err)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, protocol.LatestProtocolVersion, result.ProtocolVersion)
}

func TestLogMessageRequiresLoggingCapability(t *testing.T) {
	srv, _ := servePeer(t) // logging never declared

	err := srv.LogMessage(context.Background(), protocol.LoggingInfo, "core", "hello")
	require.Error(t, err)

	var rpcErr mcperrors.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcperrors.CategoryUsage, rpcErr.Category())
}

func TestStrictModeChecksClientCapabilities(t *testing.T) {
	srv, peer := servePeer(t, WithStrictCapabilities())

	// Handshake without a sampling declaration.
	_, err := peer.Request(context.Background(), protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.LatestProtocolVersion,
	})
	require.NoError(t, err)

	_, err = srv.Request(context.Background(), "sampling/createMessage", nil)
	require.Error(t, err)

	var rpcErr mcperrors.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcperrors.CategoryUsage, rpcErr.Category())
}

func TestMergeCapabilitiesAfterServeFails(t *testing.T) {
	srv, _ := servePeer(t)

	err := srv.RegisterCapabilities(protocol.Capabilities{
		Tools: &protocol.ToolsCapability{},
	})
	require.Error(t, err)
}

func TestInitializedCallbackFiresOnce(t *testing.T) {
	var calls atomic.Int32
	srv, peer := servePeer(t, OnInitialized(func() { calls.Add(1) }))

	require.NoError(t, peer.Notification(context.Background(), protocol.NotificationInitialized, protocol.InitializedParams{}))
	require.NoError(t, peer.Notification(context.Background(), protocol.NotificationInitialized, protocol.InitializedParams{}))

	require.Eventually(t, srv.Initialized, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}
