package mcpscope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transport is the duplex channel abstraction carrying framed JSON-RPC
// messages, independent of the methods invoked over it. Both implementations
// validate every message against ValidateMessage before transmission and on
// receipt.
//
// A transport starts disconnected, becomes connected after a successful
// Connect, and is closed permanently by Close; no sends are possible
// afterwards. Connect and Close are idempotent.
type Transport interface {
	// Connect establishes the channel. It cleans up any partially opened
	// state before reporting a connection error.
	Connect(ctx context.Context) error

	// Send transmits one framed message.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Receive blocks until the next message is available or the transport's
	// configured timeout elapses.
	Receive(ctx context.Context) (JSONRPCMessage, error)

	// Close releases all held resources. It never fails for an
	// already-closed transport.
	Close() error
}

// NewRequestID generates a request identifier that is unique within a
// connection's lifetime. The millisecond timestamp keeps IDs monotonic and
// readable in logs; the uuid fragment guards against collisions between
// requests issued in the same millisecond. IDs are used for correlation only
// and are never interpreted.
func NewRequestID() MustString {
	return MustString(fmt.Sprintf("mcpscope-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8]))
}

// SendRequest builds a request message for method, transmits it over t, and
// blocks until the matching response arrives or the transport's timeout
// elapses. A zero id means a fresh one is generated. A JSON-RPC error object
// in the response surfaces as a protocol error carrying the error code and
// message; responses for other request IDs are dropped.
func SendRequest(ctx context.Context, t Transport, method string, params any, id MustString) (JSONRPCMessage, error) {
	if id == "" {
		id = NewRequestID()
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return JSONRPCMessage{}, validationErrorf(err, "failed to marshal params for %s", method)
		}
		msg.Params = paramsBs
	}

	if err := t.Send(ctx, msg); err != nil {
		return JSONRPCMessage{}, err
	}

	for {
		res, err := t.Receive(ctx)
		if err != nil {
			return JSONRPCMessage{}, err
		}
		if res.ID != id {
			// A stale response or a server-initiated message; not ours.
			continue
		}

		if res.Error != nil {
			return JSONRPCMessage{}, protocolErrorf(res.Error, "server returned error for %s", method).
				withDetails(map[string]any{
					"code":    res.Error.Code,
					"message": res.Error.Message,
				})
		}
		return res, nil
	}
}

// SendNotification builds a notification message (no id, no reply expected)
// for method and transmits it over t.
func SendNotification(ctx context.Context, t Transport, method string, params any) error {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return validationErrorf(err, "failed to marshal params for %s", method)
		}
		msg.Params = paramsBs
	}

	return t.Send(ctx, msg)
}
