// Package transport provides the duplex-channel contract the protocol
// engine runs on, together with concrete framings: newline-delimited
// byte streams (stdio), server-sent events, websockets, and an
// in-process pair for tests.
package transport

import (
	"context"
	"errors"
)

// MessageHandler receives one complete inbound message payload.
type MessageHandler func(data []byte)

// ErrorHandler receives non-fatal transport errors. A transport that then
// becomes unusable reports that separately through its close handler.
type ErrorHandler func(err error)

// CloseHandler runs once when the transport shuts down, whether locally
// initiated or peer initiated.
type CloseHandler func()

// Transport is an opaque duplex channel carrying complete messages.
//
// Implementations must invoke the message handler with one complete
// payload at a time, in arrival order, and must run the close handler
// exactly once. Handlers are expected to be set before Start.
type Transport interface {
	// Start begins delivering inbound messages. It must be called before
	// any Send and is not restartable after Close.
	Start(ctx context.Context) error

	// Send transmits one complete message. It fails once the transport
	// is closed.
	Send(ctx context.Context, data []byte) error

	// Close shuts the channel down. Calling it again is a no-op.
	Close() error

	// SetMessageHandler installs the inbound payload callback.
	SetMessageHandler(handler MessageHandler)

	// SetErrorHandler installs the non-fatal error callback.
	SetErrorHandler(handler ErrorHandler)

	// SetCloseHandler installs the shutdown callback.
	SetCloseHandler(handler CloseHandler)

	// SessionID identifies the session for session-addressed transports,
	// or returns "" when the transport has no session concept.
	SessionID() string
}

// Errors shared by the transport implementations
var (
	ErrClosed     = errors.New("transport closed")
	ErrNotStarted = errors.New("transport not started")
	ErrStarted    = errors.New("transport already started")
)

// callbacks is the handler set embedded by every concrete transport.
// Handlers are installed before Start, so reads during the receive loop
// need no locking.
type callbacks struct {
	onMessage MessageHandler
	onError   ErrorHandler
	onClose   CloseHandler
}

func (c *callbacks) SetMessageHandler(handler MessageHandler) { c.onMessage = handler }
func (c *callbacks) SetErrorHandler(handler ErrorHandler)     { c.onError = handler }
func (c *callbacks) SetCloseHandler(handler CloseHandler)     { c.onClose = handler }

func (c *callbacks) deliver(data []byte) {
	if c.onMessage != nil {
		c.onMessage(data)
	}
}

func (c *callbacks) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *callbacks) reportClose() {
	if c.onClose != nil {
		c.onClose()
	}
}
