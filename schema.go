package mcpscope

import (
	"encoding/json"
	"fmt"
)

// MustString is a type that enforces string representation for fields that can be either string or integer
// on the wire, such as request IDs. It handles automatic conversion during JSON marshaling/unmarshaling.
type MustString string

// JSONRPCMessage represents a JSON-RPC 2.0 message exchanged with an MCP server.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and optionally Params are set
//   - Notification: JSONRPC and Method are set (no ID)
//   - Response: JSONRPC, ID, and exactly one of Result or Error are set
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID MustString `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the capability set this client declares during the
// initialize handshake.
type ClientCapabilities struct {
	Experimental map[string]any  `json:"experimental"`
	Sampling     map[string]any  `json:"sampling"`
	Roots        RootsCapability `json:"roots"`
}

// RootsCapability declares the client's roots support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// initializeResult carries the server's half of the handshake. Capabilities
// are kept as an opaque map so they can be captured verbatim, nested flags and
// all, regardless of which spec revision the server implements.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Info           `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

// Arguments is never omitted: a tool invoked without input still carries an
// explicit empty object on the wire.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the MCP protocol revision this client speaks.
	ProtocolVersion = "2024-11-05"

	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// MethodResourcesList is the method name for listing available resources.
	MethodResourcesList = "resources/list"
	// MethodResourcesRead is the method name for reading the content of a specific resource.
	MethodResourcesRead = "resources/read"

	// MethodPromptsList is the method name for retrieving a list of available prompts.
	MethodPromptsList = "prompts/list"
	// MethodPromptsGet is the method name for retrieving a specific prompt by name.
	MethodPromptsGet = "prompts/get"

	// MethodPing is the method name for the liveness check.
	MethodPing = "ping"

	methodInitialize = "initialize"

	methodNotificationsInitialized = "notifications/initialized"

	// methodGoodbye is a best-effort courtesy notification sent on close.
	// Servers that don't understand it simply ignore it.
	methodGoodbye = "goodbye"

	jsonRPCParseErrorCode     = -32700
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// ValidateMessage checks a message against the JSON-RPC 2.0 shape invariants:
// the version tag must be "2.0", a response must carry an ID and exactly one
// of result or error, and every message must be either a request/notification
// (method set) or a response (result or error set). Violations are reported as
// a validation error. Both transports run this check before transmission and
// on receipt.
func ValidateMessage(msg JSONRPCMessage) error {
	if msg.JSONRPC != JSONRPCVersion {
		return validationErrorf(nil, "invalid jsonrpc version %q, must be %q", msg.JSONRPC, JSONRPCVersion)
	}

	switch {
	case msg.Method != "":
		// Request or notification; an ID is optional (absent means notification).
		if msg.Result != nil || msg.Error != nil {
			return validationErrorf(nil, "message with method %q must not carry result or error", msg.Method)
		}
	case msg.Result != nil || msg.Error != nil:
		if msg.ID == "" {
			return validationErrorf(nil, "response message missing id")
		}
		if msg.Result != nil && msg.Error != nil {
			return validationErrorf(nil, "response message carries both result and error")
		}
	default:
		return validationErrorf(nil, "message must have either method or result/error")
	}

	return nil
}

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into MustString,
// handling both string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case int:
		*m = MustString(fmt.Sprintf("%d", v))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler to convert MustString into its JSON representation,
// always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s", j.Code, j.Message)
}
