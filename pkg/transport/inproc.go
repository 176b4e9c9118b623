package transport

import (
	"context"
	"sync"
)

// InProcTransport is one end of an in-process pair. Messages sent on one
// end are delivered to the other end's message handler on a dedicated
// goroutine, preserving send order.
type InProcTransport struct {
	callbacks

	peer *InProcTransport

	mu      sync.Mutex
	started bool
	closed  bool
	inbox   chan []byte
	done    chan struct{}

	closeOnce sync.Once
}

// NewInProcPair creates two linked in-process transports. Closing either
// end closes both.
func NewInProcPair() (*InProcTransport, *InProcTransport) {
	a := &InProcTransport{inbox: make(chan []byte, 64), done: make(chan struct{})}
	b := &InProcTransport{inbox: make(chan []byte, 64), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Start begins draining this end's inbox into its message handler.
func (t *InProcTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.started {
		return ErrStarted
	}
	t.started = true

	go func() {
		for {
			select {
			case data := <-t.inbox:
				t.deliver(data)
			case <-t.done:
				// Drain anything already queued so close ordering stays
				// deterministic for the peer.
				for {
					select {
					case data := <-t.inbox:
						t.deliver(data)
					default:
						t.reportClose()
						return
					}
				}
			}
		}
	}()
	return nil
}

// Send queues one message for the peer end.
func (t *InProcTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	t.mu.Unlock()

	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case t.peer.inbox <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down both ends of the pair.
func (t *InProcTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		started := t.started
		t.mu.Unlock()

		close(t.done)
		if !started {
			t.reportClose()
		}

		go t.peer.Close()
	})
	return nil
}

// SessionID returns "" as in-process pairs are not session addressed.
func (t *InProcTransport) SessionID() string { return "" }
