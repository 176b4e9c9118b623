// Package pkg holds the components of the MCP message-layer runtime: a
// JSON-RPC 2.0 engine with request correlation, timeouts, progress and
// cancellation, plus the capability-negotiating connection roles built on
// top of it.
//
// # Client Usage
//
// To connect to a server over stdio:
//
//	import (
//	    "context"
//
//	    "github.com/modelrpc/mcp-runtime-go/pkg/client"
//	    "github.com/modelrpc/mcp-runtime-go/pkg/transport"
//	)
//
//	func main() {
//	    c := client.New(
//	        client.WithName("my-client"),
//	        client.WithVersion("1.0.0"),
//	    )
//
//	    ctx := context.Background()
//	    if err := c.Connect(ctx, transport.NewStdioTransport()); err != nil {
//	        // Handle error
//	    }
//	    defer c.Close()
//
//	    // Send requests via c.Request...
//	}
//
// # Server Implementation
//
// To accept a connection and serve requests:
//
//	import (
//	    "context"
//
//	    "github.com/modelrpc/mcp-runtime-go/pkg/protocol"
//	    "github.com/modelrpc/mcp-runtime-go/pkg/server"
//	    "github.com/modelrpc/mcp-runtime-go/pkg/transport"
//	)
//
//	func main() {
//	    s := server.New(
//	        server.WithName("my-server"),
//	        server.WithVersion("1.0.0"),
//	        server.WithCapabilities(protocol.Capabilities{
//	            Tools: &protocol.ToolsCapability{ListChanged: true},
//	        }),
//	    )
//
//	    // Register handlers, then serve (the client drives the handshake).
//	    ctx := context.Background()
//	    if err := s.Serve(ctx, transport.NewStdioTransport()); err != nil {
//	        // Handle error
//	    }
//	}
//
// # Sub-packages
//
//   - protocol: JSON-RPC message shapes, MCP methods, capability maps
//   - rpc: the connection-agnostic engine (correlation, timeouts, dispatch)
//   - client: the initiating role and its handshake
//   - server: the accepting role and its handshake
//   - transport: stdio, SSE, websocket and in-process transports
//   - errors: structured errors mapping to JSON-RPC error objects
//   - logging: leveled structured logging
//   - observability: Prometheus metrics and OpenTelemetry tracing hooks
package pkg
