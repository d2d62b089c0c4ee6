package mcpscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"
)

// HTTPTransport talks to an MCP server over plain HTTP: every message is the
// JSON body of one POST request against a fixed base URL, and the full
// response body is the reply. No persistent bidirectional stream is assumed;
// the transport is strictly request/response, with an internal queue so that
// Send and Receive used independently still coordinate through the most
// recent call's reply.
//
// Servers speaking the streamable variant answer a POST with a
// text/event-stream body; each "message" event on that stream is decoded and
// queued like a regular response.
type HTTPTransport struct {
	url     string
	headers map[string]string
	timeout time.Duration
	logger  *slog.Logger

	httpClient *http.Client

	mu        sync.Mutex
	connected bool
	closed    bool

	queue chan JSONRPCMessage
	done  chan struct{}
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// WithHTTPAuthHeaders sets the authentication headers attached to every
// outbound request. The map is fixed at construction time.
func WithHTTPAuthHeaders(headers map[string]string) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.headers = headers
	}
}

// WithHTTPTimeout sets the per-round-trip timeout.
func WithHTTPTimeout(timeout time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client. If unset, a client with the
// configured timeout is created on Connect.
func WithHTTPClient(client *http.Client) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.httpClient = client
	}
}

// WithHTTPLogger sets the logger for the transport.
func WithHTTPLogger(logger *slog.Logger) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// NewHTTPTransport creates a transport bound to the given endpoint URL.
func NewHTTPTransport(url string, options ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		url:    url,
		logger: slog.Default(),
		queue:  make(chan JSONRPCMessage, 16),
		done:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(t)
	}

	if t.timeout == 0 {
		t.timeout = defaultRequestTimeout
	}

	return t
}

// Connect prepares the HTTP client. Calling it on an already-connected
// transport is a no-op.
func (t *HTTPTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return connectionErrorf(nil, "transport is closed")
	}
	if t.connected {
		return nil
	}

	if t.httpClient == nil {
		t.httpClient = &http.Client{Timeout: t.timeout}
	}
	t.connected = true

	t.logger.Info("connected to http endpoint", "url", t.url)
	return nil
}

// Send performs one POST carrying msg as the JSON body. The response body is
// parsed and fed to the internal queue for the next Receive. A non-success
// status code surfaces as a protocol error including the response body text;
// an empty body where a reply is due (the message carried an id) is a
// protocol error too.
func (t *HTTPTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}

	t.mu.Lock()
	if !t.connected || t.closed {
		t.mu.Unlock()
		return connectionErrorf(nil, "transport not connected")
	}
	client := t.httpClient
	t.mu.Unlock()

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return validationErrorf(err, "failed to marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(msgBs))
	if err != nil {
		return connectionErrorf(err, "failed to create request for %s", t.url)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		// The http.Client timeout surfaces as a url.Error, not on ctx.
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return timeoutErrorf(err, "request to %s timed out after %s", t.url, t.timeout)
		}
		return connectionErrorf(err, "http request to %s failed", t.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return protocolErrorf(nil, "http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/event-stream" {
		return t.enqueueEventStream(resp.Body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return connectionErrorf(err, "failed to read response body")
	}

	if len(bytes.TrimSpace(body)) == 0 {
		if msg.ID != "" {
			return protocolErrorf(nil, "empty response from server")
		}
		// Notifications expect no reply.
		return nil
	}

	var res JSONRPCMessage
	if err := json.Unmarshal(body, &res); err != nil {
		return protocolErrorf(err, "failed to decode response body")
	}

	t.enqueue(res)
	return nil
}

// enqueueEventStream decodes a text/event-stream response body and queues
// every "message" event on it.
func (t *HTTPTransport) enqueueEventStream(body io.Reader) error {
	seen := false
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return protocolErrorf(err, "failed to read event stream")
		}

		if ev.Type != "" && ev.Type != "message" {
			t.logger.Warn("ignoring unhandled event type", "type", ev.Type)
			continue
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			t.logger.Warn("dropping malformed event payload", "err", err)
			continue
		}
		t.enqueue(msg)
		seen = true
	}

	if !seen {
		return protocolErrorf(nil, "event stream carried no messages")
	}
	return nil
}

func (t *HTTPTransport) enqueue(msg JSONRPCMessage) {
	select {
	case t.queue <- msg:
	case <-t.done:
	}
}

// Receive pops the reply queued by the most recent Send, waiting up to the
// configured timeout.
func (t *HTTPTransport) Receive(ctx context.Context) (JSONRPCMessage, error) {
	t.mu.Lock()
	connected := t.connected && !t.closed
	t.mu.Unlock()
	if !connected {
		return JSONRPCMessage{}, connectionErrorf(nil, "transport not connected")
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case msg := <-t.queue:
		if err := ValidateMessage(msg); err != nil {
			return JSONRPCMessage{}, err
		}
		return msg, nil
	case <-timer.C:
		return JSONRPCMessage{}, timeoutErrorf(nil, "no response received within %s", t.timeout)
	case <-ctx.Done():
		return JSONRPCMessage{}, ctx.Err()
	case <-t.done:
		return JSONRPCMessage{}, connectionErrorf(nil, "transport is closed")
	}
}

// Close releases the HTTP client's idle connections. It never fails for an
// already-closed transport.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	client := t.httpClient
	t.mu.Unlock()

	close(t.done)

	if client != nil {
		client.CloseIdleConnections()
	}

	t.logger.Info("http transport closed")
	return nil
}
