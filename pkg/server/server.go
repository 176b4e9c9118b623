// Package server implements the accepting role of an MCP connection: it
// answers the initialize handshake, enforces local capability declarations
// at handler-registration time, and exposes helpers for server-initiated
// traffic such as log messages.
package server

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

// Server is the accepting side of a connection. Create one with New,
// declare capabilities and handlers, then Serve.
type Server struct {
	proto  *rpc.Protocol
	logger logging.Logger

	name          string
	version       string
	versions      []string
	instructions  string
	strict        bool
	protoOpts     []rpc.Option
	onInitialized func()

	mu           sync.RWMutex
	started      bool
	initialized  bool
	capabilities protocol.Capabilities
	clientCaps   protocol.Capabilities
	clientInfo   protocol.Implementation
	negotiated   string
}

// Option configures a Server during creation.
type Option func(*Server)

// WithName sets the server name reported during the handshake.
func WithName(name string) Option {
	return func(s *Server) {
		s.name = name
	}
}

// WithVersion sets the server version reported during the handshake.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithCapabilities declares the server's initial capability set.
func WithCapabilities(caps protocol.Capabilities) Option {
	return func(s *Server) {
		s.capabilities = caps
	}
}

// WithInstructions sets the optional usage instructions returned to
// clients at handshake.
func WithInstructions(instructions string) Option {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithStrictCapabilities makes the outbound gate enforce the client's
// declared capabilities before any server-initiated request goes out.
func WithStrictCapabilities() Option {
	return func(s *Server) {
		s.strict = true
	}
}

// WithProtocolVersions overrides the protocol versions the server accepts,
// newest first.
func WithProtocolVersions(versions ...string) Option {
	return func(s *Server) {
		if len(versions) > 0 {
			s.versions = versions
		}
	}
}

// WithLogger sets the server's logger, shared with its engine.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProtocolOptions passes options through to the underlying engine.
func WithProtocolOptions(opts ...rpc.Option) Option {
	return func(s *Server) {
		s.protoOpts = append(s.protoOpts, opts...)
	}
}

// OnInitialized sets the callback fired once the client confirms the
// handshake with its initialized notification.
func OnInitialized(fn func()) Option {
	return func(s *Server) {
		s.onInitialized = fn
	}
}

// New creates a Server with its built-in handshake handlers installed.
// The connection is inert until Serve.
func New(opts ...Option) *Server {
	s := &Server{
		logger:   logging.NewNopLogger(),
		name:     "mcp-runtime-go-server",
		version:  "0.1.0",
		versions: protocol.SupportedProtocolVersions,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.proto = rpc.New(append([]rpc.Option{rpc.WithLogger(s.logger)}, s.protoOpts...)...)
	s.proto.SetGates(rpc.Gates{
		OutboundRequest:      s.gateOutbound,
		OutboundNotification: s.gateOutbound,
		RequestHandler:       s.gateHandler,
		NotificationHandler:  s.gateHandler,
	})

	// Handshake plumbing. Ping is handled by the engine itself, so a
	// client can probe liveness before initialize.
	s.proto.SetRequestHandler(protocol.MethodInitialize, s.handleInitialize)
	s.proto.SetNotificationHandler(protocol.NotificationInitialized, s.handleInitialized)

	return s
}

// Serve wires the server to t and starts handling messages. The handshake
// itself is driven by the connecting client.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already serving a transport")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.proto.Connect(ctx, t); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// handleInitialize answers the client's handshake request: the requested
// protocol version is echoed when supported, otherwise the newest version
// this server knows is offered and the client decides whether to proceed.
func (s *Server) handleInitialize(_ context.Context, req *protocol.Request, _ rpc.RequestHandlerExtra) (interface{}, error) {
	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, mcperrors.InvalidParams(protocol.MethodInitialize, err)
		}
	}

	version := params.ProtocolVersion
	if !protocol.VersionSupported(s.versions, version) {
		version = s.versions[0]
	}

	s.mu.Lock()
	s.clientCaps = params.Capabilities
	s.clientInfo = params.ClientInfo
	s.negotiated = version
	caps := s.capabilities
	s.mu.Unlock()

	s.logger.Info("client connected",
		logging.String("client", params.ClientInfo.Name),
		logging.String("requested_version", params.ProtocolVersion),
		logging.String("negotiated_version", version))

	return protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      protocol.Implementation{Name: s.name, Version: s.version},
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) handleInitialized(_ context.Context, _ *protocol.Notification) error {
	s.mu.Lock()
	already := s.initialized
	s.initialized = true
	s.mu.Unlock()

	if !already && s.onInitialized != nil {
		s.onInitialized()
	}
	return nil
}

// RegisterCapabilities merges additional capabilities into the server's
// declaration. Only legal before Serve.
func (s *Server) RegisterCapabilities(caps protocol.Capabilities) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("cannot merge capabilities after serve")
	}
	s.capabilities = s.capabilities.Merge(caps)
	return nil
}

// SetRequestHandler registers a handler for a client request method. A
// method class the server never declared a capability for is refused here,
// at registration time.
func (s *Server) SetRequestHandler(method string, handler rpc.RequestHandler) error {
	return s.proto.SetRequestHandler(method, handler)
}

// SetNotificationHandler registers a handler for a client notification.
func (s *Server) SetNotificationHandler(method string, handler rpc.NotificationHandler) error {
	return s.proto.SetNotificationHandler(method, handler)
}

// Request sends a server-initiated request, such as sampling, to the
// client and blocks for its settlement.
func (s *Server) Request(ctx context.Context, method string, params interface{}, opts ...rpc.RequestOption) (json.RawMessage, error) {
	return s.proto.Request(ctx, method, params, opts...)
}

// Notification sends a fire-and-forget notification to the client.
func (s *Server) Notification(ctx context.Context, method string, params interface{}) error {
	return s.proto.Notification(ctx, method, params)
}

// NotifyProgress streams a progress update, usually from inside a request
// handler using its RequestHandlerExtra.RequestID as the token.
func (s *Server) NotifyProgress(ctx context.Context, params protocol.ProgressParams) error {
	return s.proto.NotifyProgress(ctx, params)
}

// LogMessage sends a log notification to the client. Requires the logging
// capability to have been declared.
func (s *Server) LogMessage(ctx context.Context, level protocol.LoggingLevel, loggerName string, data interface{}) error {
	return s.proto.Notification(ctx, protocol.NotificationMessage, protocol.LoggingMessageParams{
		Level:  level,
		Logger: loggerName,
		Data:   data,
	})
}

// Ping round-trips a ping to the client.
func (s *Server) Ping(ctx context.Context) error {
	_, err := s.proto.Request(ctx, protocol.MethodPing, protocol.PingParams{})
	return err
}

// Close shuts the connection down.
func (s *Server) Close() error {
	return s.proto.Close()
}

// Protocol exposes the underlying engine for callbacks and advanced use.
func (s *Server) Protocol() *rpc.Protocol {
	return s.proto
}

// Initialized reports whether the client confirmed the handshake.
func (s *Server) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// ClientCapabilities returns the capabilities the client declared at
// handshake. Zero value before initialize arrives.
func (s *Server) ClientCapabilities() protocol.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCaps
}

// ClientInfo returns the client's identity from the handshake.
func (s *Server) ClientInfo() protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// ProtocolVersion returns the negotiated protocol version, empty before
// the handshake.
func (s *Server) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.negotiated
}

// gateOutbound enforces capability declarations on outbound traffic.
// Server-declared feature classes (logging messages, list-changed
// notifications) must have been declared locally; client-declared classes
// (sampling, roots) are checked against the handshake result only in
// strict mode.
func (s *Server) gateOutbound(method string) error {
	cap, serverSide, gated := protocol.CapabilityForMethod(method)
	if !gated {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if serverSide {
		if !s.capabilities.Has(cap) {
			return mcperrors.CapabilityMissing(string(cap), method, true)
		}
		return nil
	}
	if s.strict && !s.clientCaps.Has(cap) {
		return mcperrors.CapabilityMissing(string(cap), method, false)
	}
	return nil
}

// gateHandler refuses handler registration for a server-declared feature
// class the server never declared. Handlers for client-declared classes,
// such as the roots list-changed notification, are always allowed.
func (s *Server) gateHandler(method string) error {
	cap, serverSide, gated := protocol.CapabilityForMethod(method)
	if !gated || !serverSide {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.capabilities.Has(cap) {
		return mcperrors.CapabilityMissing(string(cap), method, true)
	}
	return nil
}
