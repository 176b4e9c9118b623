// Package client implements the initiating role of an MCP connection: it
// drives the initialize handshake, verifies the negotiated protocol
// version, and gates outbound traffic on the capabilities the server
// declared.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcperrors "github.com/modelrpc/mcp-runtime-go/pkg/errors"
	"github.com/modelrpc/mcp-runtime-go/pkg/logging"
	"github.com/modelrpc/mcp-runtime-go/pkg/protocol"
	"github.com/modelrpc/mcp-runtime-go/pkg/rpc"
	"github.com/modelrpc/mcp-runtime-go/pkg/transport"
)

// State tracks the handshake progression of a client connection.
type State int

const (
	// StateUninitialized is the state before Connect: capabilities may
	// still be merged, nothing may be sent.
	StateUninitialized State = iota
	// StateNegotiating covers the window between Connect being called and
	// the initialized notification going out.
	StateNegotiating
	// StateReady is the operating state after a successful handshake.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Client is the initiating side of a connection. Create one with New,
// declare capabilities, then Connect.
type Client struct {
	proto  *rpc.Protocol
	logger logging.Logger

	name      string
	version   string
	versions  []string
	strict    bool
	protoOpts []rpc.Option

	mu           sync.RWMutex
	state        State
	capabilities protocol.Capabilities
	serverCaps   protocol.Capabilities
	serverInfo   protocol.Implementation
	instructions string
	negotiated   string
}

// Option configures a Client during creation.
type Option func(*Client)

// WithName sets the client name reported during the handshake.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithVersion sets the client version reported during the handshake.
func WithVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// WithCapabilities declares the client's initial capability set.
func WithCapabilities(caps protocol.Capabilities) Option {
	return func(c *Client) {
		c.capabilities = caps
	}
}

// WithStrictCapabilities makes the outbound gate enforce the server's
// declared capabilities: sending a gated method the server never declared
// fails before any bytes go out. Without it the server is trusted to
// reject what it cannot serve.
func WithStrictCapabilities() Option {
	return func(c *Client) {
		c.strict = true
	}
}

// WithProtocolVersions overrides the protocol versions the client accepts,
// newest first. The first entry is the version requested at handshake.
func WithProtocolVersions(versions ...string) Option {
	return func(c *Client) {
		if len(versions) > 0 {
			c.versions = versions
		}
	}
}

// WithLogger sets the client's logger, shared with its engine.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithProtocolOptions passes options through to the underlying engine.
func WithProtocolOptions(opts ...rpc.Option) Option {
	return func(c *Client) {
		c.protoOpts = append(c.protoOpts, opts...)
	}
}

// New creates a Client. The connection is inert until Connect.
func New(opts ...Option) *Client {
	c := &Client{
		logger:   logging.NewNopLogger(),
		name:     "mcp-runtime-go-client",
		version:  "0.1.0",
		versions: protocol.SupportedProtocolVersions,
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.proto = rpc.New(append([]rpc.Option{rpc.WithLogger(c.logger)}, c.protoOpts...)...)
	c.proto.SetGates(rpc.Gates{
		OutboundRequest:      c.gateOutbound,
		OutboundNotification: c.gateOutbound,
		RequestHandler:       c.gateHandler,
		NotificationHandler:  c.gateHandler,
	})
	return c
}

// Connect wires the client to t and performs the initialize handshake. On
// a protocol-version mismatch the transport is closed and Connect fails;
// the client cannot be reused afterwards.
func (c *Client) Connect(ctx context.Context, t transport.Transport) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("client already connected (state %s)", c.state)
	}
	c.state = StateNegotiating
	caps := c.capabilities
	requested := c.versions[0]
	c.mu.Unlock()

	if err := c.proto.Connect(ctx, t); err != nil {
		c.resetState()
		return err
	}

	params := protocol.InitializeParams{
		ProtocolVersion: requested,
		Capabilities:    caps,
		ClientInfo:      protocol.Implementation{Name: c.name, Version: c.version},
	}
	raw, err := c.proto.Request(ctx, protocol.MethodInitialize, params)
	if err != nil {
		c.proto.Close()
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.proto.Close()
		return fmt.Errorf("malformed initialize result: %w", err)
	}

	if !protocol.VersionSupported(c.versions, result.ProtocolVersion) {
		c.proto.Close()
		return fmt.Errorf("server offered unsupported protocol version %q (supported: %v)",
			result.ProtocolVersion, c.versions)
	}

	c.mu.Lock()
	c.serverCaps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.instructions = result.Instructions
	c.negotiated = result.ProtocolVersion
	c.state = StateReady
	c.mu.Unlock()

	if err := c.proto.Notification(ctx, protocol.NotificationInitialized, protocol.InitializedParams{}); err != nil {
		c.proto.Close()
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	c.logger.Info("handshake complete",
		logging.String("server", result.ServerInfo.Name),
		logging.String("protocol_version", result.ProtocolVersion))
	return nil
}

func (c *Client) resetState() {
	c.mu.Lock()
	c.state = StateUninitialized
	c.mu.Unlock()
}

// RegisterCapabilities merges additional capabilities into the client's
// declaration. Only legal before Connect; declarations are frozen once the
// handshake carries them to the peer.
func (c *Client) RegisterCapabilities(caps protocol.Capabilities) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return fmt.Errorf("cannot merge capabilities after connect (state %s)", c.state)
	}
	c.capabilities = c.capabilities.Merge(caps)
	return nil
}

// Request sends a request to the server and blocks for its settlement.
func (c *Client) Request(ctx context.Context, method string, params interface{}, opts ...rpc.RequestOption) (json.RawMessage, error) {
	return c.proto.Request(ctx, method, params, opts...)
}

// Notification sends a fire-and-forget notification to the server.
func (c *Client) Notification(ctx context.Context, method string, params interface{}) error {
	return c.proto.Notification(ctx, method, params)
}

// Ping round-trips a ping. Works in any state once connected.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.proto.Request(ctx, protocol.MethodPing, protocol.PingParams{})
	return err
}

// SetRequestHandler registers a handler for a server-initiated request
// method, subject to the local capability gate.
func (c *Client) SetRequestHandler(method string, handler rpc.RequestHandler) error {
	return c.proto.SetRequestHandler(method, handler)
}

// SetNotificationHandler registers a handler for a server notification.
func (c *Client) SetNotificationHandler(method string, handler rpc.NotificationHandler) error {
	return c.proto.SetNotificationHandler(method, handler)
}

// OnLoggingMessage routes the server's log notifications to fn.
func (c *Client) OnLoggingMessage(fn func(protocol.LoggingMessageParams)) error {
	return c.proto.SetNotificationHandler(protocol.NotificationMessage, func(_ context.Context, n *protocol.Notification) error {
		var params protocol.LoggingMessageParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			return fmt.Errorf("malformed logging message: %w", err)
		}
		fn(params)
		return nil
	})
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.proto.Close()
}

// Protocol exposes the underlying engine for callbacks and advanced use.
func (c *Client) Protocol() *rpc.Protocol {
	return c.proto
}

// State reports the handshake state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ServerCapabilities returns the capabilities the server declared at
// handshake. Zero value before StateReady.
func (c *Client) ServerCapabilities() protocol.Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// ServerInfo returns the server's identity from the handshake.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Instructions returns the server's optional usage instructions.
func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// ProtocolVersion returns the negotiated protocol version, empty before
// StateReady.
func (c *Client) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.negotiated
}

// gateOutbound enforces capability declarations on outbound traffic.
// Server-declared feature classes are checked against the handshake result
// only in strict mode; client-declared classes (roots, sampling) must
// always have been declared locally before use.
func (c *Client) gateOutbound(method string) error {
	cap, serverSide, gated := protocol.CapabilityForMethod(method)
	if !gated {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if serverSide {
		if c.strict && !c.serverCaps.Has(cap) {
			return mcperrors.CapabilityMissing(string(cap), method, false)
		}
		return nil
	}
	if !c.capabilities.Has(cap) {
		return mcperrors.CapabilityMissing(string(cap), method, true)
	}
	return nil
}

// gateHandler enforces local capability declarations at registration time:
// a handler for a client-declared feature class (sampling, roots) may only
// be registered if that class was declared. Handlers for server-declared
// classes, such as list-changed notifications, are always allowed.
func (c *Client) gateHandler(method string) error {
	cap, serverSide, gated := protocol.CapabilityForMethod(method)
	if !gated || serverSide {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.capabilities.Has(cap) {
		return mcperrors.CapabilityMissing(string(cap), method, true)
	}
	return nil
}
