package recorder

import (
	"context"
	"encoding/json"
	"fmt"
)

// The media server speaks JSON-RPC 2.0 over a WebSocket. Objects (the
// pipeline and its elements) are created with "create", operated on with
// "invoke" and torn down with "release". The server pushes unsolicited
// "onEvent" notifications for subscribed media events.

const jsonrpcVersion = "2.0"

// Server methods.
const (
	methodCreate  = "create"
	methodInvoke  = "invoke"
	methodRelease = "release"
	methodEvent   = "onEvent"
)

// Transport issues a single request/response round-trip to the media server.
// It is satisfied by Client and by test doubles.
type Transport interface {
	// Request sends a JSON-RPC request and waits for the matching response.
	// It returns the raw result payload or the server-reported error.
	Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// rpcRequest is an outgoing JSON-RPC request.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcEnvelope is an incoming frame: either a response (ID set, no method)
// or a server notification (method set, no ID).
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a server-reported failure for one request.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("server error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// createParams are the parameters of a "create" request.
type createParams struct {
	Type              string                 `json:"type"`
	ConstructorParams map[string]interface{} `json:"constructorParams,omitempty"`
}

// createResult is the result of a "create" request.
type createResult struct {
	Value string `json:"value"`
}

// invokeParams are the parameters of an "invoke" request.
type invokeParams struct {
	Object          string                 `json:"object"`
	Operation       string                 `json:"operation"`
	OperationParams map[string]interface{} `json:"operationParams,omitempty"`
}

// invokeResult is the result of an "invoke" request.
type invokeResult struct {
	Value json.RawMessage `json:"value,omitempty"`
}

// releaseParams are the parameters of a "release" request.
type releaseParams struct {
	Object string `json:"object"`
}

// serverEvent is an "onEvent" notification payload.
type serverEvent struct {
	Object string          `json:"object"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// createObject issues a "create" round-trip and returns the new object id.
func createObject(ctx context.Context, t Transport, kind string, params map[string]interface{}) (string, error) {
	raw, err := t.Request(ctx, methodCreate, createParams{Type: kind, ConstructorParams: params})
	if err != nil {
		return "", err
	}
	var res createResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("failed to decode create result: %w", err)
	}
	if res.Value == "" {
		return "", fmt.Errorf("server returned empty object id for %s", kind)
	}
	return res.Value, nil
}

// invokeObject issues an "invoke" round-trip and returns the raw operation value.
func invokeObject(ctx context.Context, t Transport, object, operation string, params map[string]interface{}) (json.RawMessage, error) {
	raw, err := t.Request(ctx, methodInvoke, invokeParams{
		Object:          object,
		Operation:       operation,
		OperationParams: params,
	})
	if err != nil {
		return nil, err
	}
	var res invokeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode invoke result: %w", err)
	}
	return res.Value, nil
}

// releaseObject issues a "release" round-trip.
func releaseObject(ctx context.Context, t Transport, object string) error {
	_, err := t.Request(ctx, methodRelease, releaseParams{Object: object})
	return err
}
