// Package transport provides the wire transports for MCP tool servers:
// line-delimited JSON-RPC 2.0 over a child process's stdio, and a WebSocket
// analogue where frames substitute for newlines.
package transport

import (
	"context"
	"encoding/json"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSONRPCNotification represents a JSON-RPC 2.0 notification (no ID).
type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NotificationHandler handles server-initiated notifications.
type NotificationHandler func(method string, params []byte)

// Transport is a bidirectional JSON-RPC channel to one tool server.
type Transport interface {
	// Start establishes the connection (spawning the child process for stdio).
	Start(ctx context.Context) error

	// Send writes a request and waits for the correlated response, bounded by
	// the context deadline.
	Send(ctx context.Context, req *JSONRPCRequest) (*JSONRPCResponse, error)

	// SendNotification writes a notification; no response is expected.
	SendNotification(ctx context.Context, notif *JSONRPCNotification) error

	// Close tears down the connection and releases resources.
	Close() error

	// IsAlive reports whether the connection is still usable.
	IsAlive() bool

	// SetNotificationHandler installs the handler for incoming notifications.
	SetNotificationHandler(handler NotificationHandler)

	// SetOnBroken installs a callback invoked once when the connection breaks
	// (read error, EOF, or child exit).
	SetOnBroken(fn func())
}

// parseAndDispatchNotification parses a frame and dispatches it to the
// handler if it is a notification. Returns true when it was one.
func parseAndDispatchNotification(data []byte, handler NotificationHandler) bool {
	if handler == nil {
		return false
	}

	var notif struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &notif); err != nil {
		return false
	}
	if notif.Method == "" {
		return false
	}

	handler(notif.Method, notif.Params)
	return true
}
