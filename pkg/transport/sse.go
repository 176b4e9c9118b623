package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SSE framing: the serving side emits one "endpoint" event carrying the
// callback URL (parameterized by a session id) before any "message"
// events; each message event carries one payload. The receiving side must
// verify the callback URL's origin against the stream's origin before
// posting anything to it.

// SSEClientTransport consumes a server-sent event stream and posts
// outbound messages to the callback URL announced on it.
type SSEClientTransport struct {
	callbacks

	streamURL  *url.URL
	httpClient *http.Client

	mu        sync.Mutex
	postURL   *url.URL
	sessionID string
	started   bool

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// SSEClientOption customizes an SSEClientTransport.
type SSEClientOption func(*SSEClientTransport)

// WithHTTPClient substitutes the HTTP client used for the stream and for
// message posts.
func WithHTTPClient(c *http.Client) SSEClientOption {
	return func(t *SSEClientTransport) { t.httpClient = c }
}

// NewSSEClientTransport creates a client transport for the event stream at
// rawURL.
func NewSSEClientTransport(rawURL string, opts ...SSEClientOption) (*SSEClientTransport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}
	t := &SSEClientTransport{
		streamURL:  u,
		httpClient: http.DefaultClient,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Start opens the event stream and blocks until the endpoint event arrives
// or ctx ends.
func (t *SSEClientTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrStarted
	}
	t.started = true
	t.mu.Unlock()

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.streamURL.String(), nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status %d opening event stream", resp.StatusCode)
	}

	endpointReady := make(chan error, 1)
	go t.readEvents(resp.Body, endpointReady)

	select {
	case err := <-endpointReady:
		if err != nil {
			t.Close()
			return err
		}
		return nil
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}
}

func (t *SSEClientTransport) readEvents(body io.ReadCloser, endpointReady chan<- error) {
	defer body.Close()
	defer t.Close()

	var eventType, data string
	flush := func() {
		defer func() { eventType, data = "", "" }()

		switch eventType {
		case "endpoint":
			if err := t.setEndpoint(data); err != nil {
				endpointReady <- err
				return
			}
			endpointReady <- nil
		case "message", "":
			if data != "" {
				t.deliver([]byte(data))
			}
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-t.done:
		default:
			t.reportError(err)
		}
	}
}

// setEndpoint resolves and validates the announced callback URL. A
// callback pointing at a different origin than the stream is rejected as a
// baseline anti-hijack check.
func (t *SSEClientTransport) setEndpoint(raw string) error {
	u, err := t.streamURL.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url %q: %w", raw, err)
	}
	if u.Scheme != t.streamURL.Scheme || u.Host != t.streamURL.Host {
		return fmt.Errorf("endpoint origin %s://%s does not match stream origin %s://%s",
			u.Scheme, u.Host, t.streamURL.Scheme, t.streamURL.Host)
	}

	t.mu.Lock()
	t.postURL = u
	t.sessionID = u.Query().Get("sessionId")
	t.mu.Unlock()
	return nil
}

// Send posts one payload to the announced callback URL.
func (t *SSEClientTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.mu.Lock()
	postURL := t.postURL
	t.mu.Unlock()
	if postURL == nil {
		return ErrNotStarted
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("message post rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Close tears down the stream and fires the close handler once.
func (t *SSEClientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.cancel != nil {
			t.cancel()
		}
		t.reportClose()
	})
	return nil
}

// SessionID returns the session id carried by the callback URL, if any.
func (t *SSEClientTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SSEServerTransport is the serving end of one SSE session: an event
// stream going out and a callback URL accepting posts coming in. Instances
// are created by SSEHandler, one per GET.
type SSEServerTransport struct {
	callbacks

	sessionID  string
	messageURL string

	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher

	started   bool
	done      chan struct{}
	closeOnce sync.Once
}

// Start announces the callback URL on the stream.
func (t *SSEServerTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrStarted
	}
	t.started = true

	fmt.Fprintf(t.writer, "event: endpoint\ndata: %s\n\n", t.messageURL)
	t.flusher.Flush()
	return nil
}

// Send writes one payload as a message event on the stream.
func (t *SSEServerTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return ErrNotStarted
	}
	if _, err := fmt.Fprintf(t.writer, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Close ends the session and fires the close handler once.
func (t *SSEServerTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.reportClose()
	})
	return nil
}

// SessionID returns this session's identifier.
func (t *SSEServerTransport) SessionID() string { return t.sessionID }

// SSEHandler serves the SSE framing over HTTP: GET opens a session stream,
// POST with a sessionId query parameter delivers inbound messages to it.
type SSEHandler struct {
	// OnSession receives each new session's transport. The callback must
	// install handlers and call Start before returning.
	OnSession func(t *SSEServerTransport)

	// MessagePath overrides the path announced in the endpoint event.
	// Defaults to the request path.
	MessagePath string

	mu       sync.Mutex
	sessions map[string]*SSEServerTransport
}

// NewSSEHandler creates an HTTP handler serving SSE sessions.
func NewSSEHandler(onSession func(t *SSEServerTransport)) *SSEHandler {
	return &SSEHandler{
		OnSession: onSession,
		sessions:  make(map[string]*SSEServerTransport),
	}
}

// ServeHTTP implements http.Handler.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveStream(w, r)
	case http.MethodPost:
		h.serveMessage(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SSEHandler) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.NewString()
	path := h.MessagePath
	if path == "" {
		path = r.URL.Path
	}

	t := &SSEServerTransport{
		sessionID:  sessionID,
		messageURL: fmt.Sprintf("%s?sessionId=%s", path, sessionID),
		writer:     w,
		flusher:    flusher,
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[sessionID] = t
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
	}()

	if h.OnSession != nil {
		h.OnSession(t)
	}

	select {
	case <-r.Context().Done():
		t.Close()
	case <-t.done:
	}
}

func (h *SSEHandler) serveMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	h.mu.Lock()
	t, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	t.deliver(body)
	w.WriteHeader(http.StatusAccepted)
}
