package mcpscope

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Client drives the MCP protocol over a Transport: it owns the initialization
// handshake, caches the server's capabilities, and exposes the five core
// operations (list tools/resources/prompts, call tool, read resource, get
// prompt). Every operation besides Initialize triggers the handshake
// implicitly when it hasn't happened yet.
//
// A Client issues one request at a time; the wire is serialized internally so
// concurrent callers can share a single instance.
type Client struct {
	transport Transport
	info      Info
	detector  *VersionDetector
	logger    *slog.Logger

	// initMu makes the handshake single-flight; reqMu serializes
	// request/response round trips on the transport.
	initMu sync.Mutex
	reqMu  sync.Mutex

	mu                 sync.Mutex
	initialized        bool
	serverCapabilities map[string]any
	serverInfo         Info
	protocolVersion    string
	versionInfo        *VersionInfo
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientInfo sets the identity this client reports during the handshake.
func WithClientInfo(info Info) ClientOption {
	return func(c *Client) {
		c.info = info
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithVersionDetector sets a custom version detector, typically one carrying
// an overridden version table.
func WithVersionDetector(detector *VersionDetector) ClientOption {
	return func(c *Client) {
		c.detector = detector
	}
}

// NewClient creates a client on top of transport. The transport is connected
// lazily on the first operation.
func NewClient(transport Transport, options ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		info:      Info{Name: "mcpscope", Version: "1.0.0"},
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.detector == nil {
		c.detector = NewVersionDetector()
	}

	return c
}

// clientCapabilities is the fixed capability set declared to every server.
func clientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		Experimental: map[string]any{},
		Sampling:     map[string]any{},
		Roots:        RootsCapability{ListChanged: false},
	}
}

// Initialize performs the MCP handshake: it sends the initialize request,
// captures the server's capabilities and identity verbatim, runs version
// detection over them, and confirms with the initialized notification. It is
// idempotent; a second call returns the cached capabilities without touching
// the wire. Any transport failure or a reply without a result surfaces as a
// connection error wrapping the cause.
func (c *Client) Initialize(ctx context.Context) (map[string]any, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	if c.initialized {
		caps := copyCapabilities(c.serverCapabilities)
		c.mu.Unlock()
		return caps, nil
	}
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		return nil, connectionErrorf(err, "mcp initialization failed")
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    clientCapabilities(),
		ClientInfo:      c.info,
	}

	c.reqMu.Lock()
	res, err := SendRequest(ctx, c.transport, methodInitialize, params, "")
	c.reqMu.Unlock()
	if err != nil {
		return nil, connectionErrorf(err, "mcp initialization failed")
	}
	if res.Result == nil {
		return nil, connectionErrorf(nil, "initialize response missing result")
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return nil, connectionErrorf(err, "failed to decode initialize result")
	}
	if result.Capabilities == nil {
		result.Capabilities = map[string]any{}
	}

	versionInfo := c.detector.Detect(result.ProtocolVersion, result.Capabilities, nil)
	c.logger.Info("detected server version",
		"spec", versionInfo.SpecVersion,
		"protocol", versionInfo.ProtocolVersion,
		"confidence", versionInfo.Confidence)

	if err := SendNotification(ctx, c.transport, methodNotificationsInitialized, nil); err != nil {
		return nil, connectionErrorf(err, "failed to send initialized notification")
	}

	c.mu.Lock()
	c.serverCapabilities = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.protocolVersion = result.ProtocolVersion
	c.versionInfo = &versionInfo
	c.initialized = true
	caps := copyCapabilities(c.serverCapabilities)
	c.mu.Unlock()

	c.logger.Info("mcp connection initialized", "server", result.ServerInfo.Name)
	return caps, nil
}

func (c *Client) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if initialized {
		return nil
	}

	_, err := c.Initialize(ctx)
	return err
}

// ListTools returns the raw tool records the server reports. A missing or
// malformed result is tolerated with a logged warning and an empty slice;
// partial protocol implementations are common. A failed round trip, by
// contrast, is escalated as a protocol error.
func (c *Client) ListTools(ctx context.Context) ([]map[string]any, error) {
	return c.listRecords(ctx, MethodToolsList, "tools")
}

// ListResources returns the raw resource records the server reports, with
// the same tolerance rules as ListTools.
func (c *Client) ListResources(ctx context.Context) ([]map[string]any, error) {
	return c.listRecords(ctx, MethodResourcesList, "resources")
}

// ListPrompts returns the raw prompt records the server reports, with the
// same tolerance rules as ListTools.
func (c *Client) ListPrompts(ctx context.Context) ([]map[string]any, error) {
	return c.listRecords(ctx, MethodPromptsList, "prompts")
}

func (c *Client) listRecords(ctx context.Context, method, key string) ([]map[string]any, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	c.reqMu.Lock()
	res, err := SendRequest(ctx, c.transport, method, nil, "")
	c.reqMu.Unlock()
	if err != nil {
		return nil, protocolErrorf(err, "failed to request %s", method)
	}

	if res.Result == nil {
		c.logger.Warn("list response missing result", "method", method)
		return []map[string]any{}, nil
	}

	var result map[string]any
	if err := json.Unmarshal(res.Result, &result); err != nil {
		c.logger.Warn("list result is not an object", "method", method, "err", err)
		return []map[string]any{}, nil
	}

	items, ok := result[key].([]any)
	if !ok {
		c.logger.Warn("list result missing expected array", "method", method, "key", key)
		return []map[string]any{}, nil
	}

	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			c.logger.Warn("skipping non-object record", "method", method)
			continue
		}
		records = append(records, record)
	}

	c.logger.Info("retrieved records", "method", method, "count", len(records))
	return records, nil
}

// CallTool invokes the named tool and returns the raw result object. Unlike
// the list operations, failures here always propagate: the call is a
// deliberate action and silent degradation would hide real breakage.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return c.invoke(ctx, MethodToolsCall, callToolParams{Name: name, Arguments: arguments})
}

// ReadResource reads the resource at uri and returns the raw result object.
func (c *Client) ReadResource(ctx context.Context, uri string) (map[string]any, error) {
	return c.invoke(ctx, MethodResourcesRead, readResourceParams{URI: uri})
}

// GetPrompt fetches the named prompt and returns the raw result object.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	return c.invoke(ctx, MethodPromptsGet, getPromptParams{Name: name, Arguments: arguments})
}

func (c *Client) invoke(ctx context.Context, method string, params any) (map[string]any, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	c.reqMu.Lock()
	res, err := SendRequest(ctx, c.transport, method, params, "")
	c.reqMu.Unlock()
	if err != nil {
		return nil, err
	}

	if res.Result == nil {
		return nil, protocolErrorf(nil, "%s response missing result", method)
	}

	var result map[string]any
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return nil, protocolErrorf(err, "failed to decode %s result", method)
	}
	return result, nil
}

// Ping reports whether the server answers a liveness check. It never pings an
// uninitialized connection.
func (c *Client) Ping(ctx context.Context) bool {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return false
	}

	c.reqMu.Lock()
	res, err := SendRequest(ctx, c.transport, MethodPing, nil, "")
	c.reqMu.Unlock()

	return err == nil && res.Result != nil
}

// NegotiateCapabilities returns both capability sets after an implicit
// handshake.
func (c *Client) NegotiateCapabilities(ctx context.Context) (ClientCapabilities, map[string]any, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return ClientCapabilities{}, nil, err
	}
	return clientCapabilities(), c.ServerCapabilities(), nil
}

// ServerCapabilities returns a defensive copy of the capability map captured
// at initialize time, or an empty map before the handshake.
func (c *Client) ServerCapabilities() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyCapabilities(c.serverCapabilities)
}

// ServerInfo returns the server identity reported during the handshake.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Initialized reports whether the handshake has completed.
func (c *Client) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// VersionSummary returns the version detector's findings for display, or a
// "not detected" sentinel when the handshake never completed.
func (c *Client) VersionSummary() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.versionInfo == nil {
		return map[string]any{
			"protocol_version":      "not detected",
			"specification_version": "not detected",
			"compatibility":         "not detected",
			"confidence":            0.0,
		}
	}
	return c.versionInfo.Summary()
}

// IsServerCompatible reports whether the detected server version is usable by
// this client. It returns false when the handshake never completed.
func (c *Client) IsServerCompatible() bool {
	c.mu.Lock()
	info := c.versionInfo
	c.mu.Unlock()

	if info == nil {
		return false
	}
	return c.detector.IsCompatible(*info)
}

// Close sends a best-effort goodbye notification, closes the transport, and
// resets the handshake state regardless of errors along the way.
func (c *Client) Close() error {
	c.mu.Lock()
	initialized := c.initialized
	c.initialized = false
	c.versionInfo = nil
	c.mu.Unlock()

	if initialized {
		if err := SendNotification(context.Background(), c.transport, methodGoodbye, nil); err != nil {
			c.logger.Debug("goodbye notification failed", "err", err)
		}
	}

	if err := c.transport.Close(); err != nil {
		c.logger.Warn("error during transport close", "err", err)
		return err
	}

	c.logger.Info("mcp client connection closed")
	return nil
}

// copyCapabilities deep-copies a capability map so callers can never mutate
// the captured original.
func copyCapabilities(caps map[string]any) map[string]any {
	out := make(map[string]any, len(caps))
	for k, v := range caps {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyCapabilities(nested)
			continue
		}
		out[k] = v
	}
	return out
}
