package transport

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// StdioTransport frames messages as newline-delimited payloads over a byte
// stream, by default stdin/stdout. The scanner buffers partial reads and
// splits only on the line terminator; payloads escape embedded newlines, so
// the split is always safe.
type StdioTransport struct {
	callbacks

	reader    io.Reader
	rawWriter *bufio.Writer

	mu        sync.Mutex // guards rawWriter
	startOnce sync.Once
	started   bool
	done      chan struct{}
	closeOnce sync.Once
}

// StdioOption customizes a StdioTransport.
type StdioOption func(*StdioTransport)

// WithStdioStreams substitutes the reader and writer, typically for tests.
func WithStdioStreams(r io.Reader, w io.Writer) StdioOption {
	return func(t *StdioTransport) {
		t.reader = r
		t.rawWriter = bufio.NewWriter(w)
	}
}

// NewStdioTransport creates a stdio transport over os.Stdin/os.Stdout.
func NewStdioTransport(opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		reader:    os.Stdin,
		rawWriter: bufio.NewWriter(os.Stdout),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the read loop. The loop runs until EOF, a read error, the
// context ending, or Close.
func (t *StdioTransport) Start(ctx context.Context) error {
	var startErr error = ErrStarted
	t.startOnce.Do(func() {
		t.started = true
		startErr = nil

		go t.readLoop(ctx)
	})
	return startErr
}

func (t *StdioTransport) readLoop(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		scanner := bufio.NewScanner(t.reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.done:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			// Copy before the next Scan overwrites the buffer.
			data := make([]byte, len(line))
			copy(data, line)
			t.deliver(data)
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			t.reportError(err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-t.done:
		case <-scannerDone:
			return nil
		}
		// Unblock scanner.Scan by closing the underlying reader if possible.
		if closer, ok := t.reader.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil
	})

	_ = g.Wait()
	t.Close()
}

// Send writes one payload followed by a line terminator and flushes.
func (t *StdioTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if !t.started {
		return ErrNotStarted
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.rawWriter.Write(data); err != nil {
		return err
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		return err
	}
	return t.rawWriter.Flush()
}

// Close stops the read loop, flushes buffered output and fires the close
// handler once.
func (t *StdioTransport) Close() error {
	var flushErr error
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		flushErr = t.rawWriter.Flush()
		t.mu.Unlock()

		t.reportClose()
	})
	return flushErr
}

// SessionID returns "" as stdio pipes carry a single implicit session.
func (t *StdioTransport) SessionID() string { return "" }
