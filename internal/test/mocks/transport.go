package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// RequestCall records one request issued against the mock transport.
type RequestCall struct {
	// Method is the JSON-RPC method ("create", "invoke", "release").
	Method string

	// Key identifies the call for scripting: "create:<type>",
	// "invoke:<operation>" or "release".
	Key string

	// Params is the request payload decoded into a generic map.
	Params map[string]interface{}
}

// MockTransport implements a scripted media-server transport for testing.
// By default every request succeeds with a plausible response: creates
// return generated object ids, processOffer returns an SDP answer and
// every other invoke returns an empty value. Individual calls can be
// overridden by key with FailOn and RespondWith.
type MockTransport struct {
	mu         sync.Mutex
	calls      []RequestCall
	nextObject int
	failures   map[string]error
	responses  map[string]json.RawMessage
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		failures:  make(map[string]error),
		responses: make(map[string]json.RawMessage),
	}
}

// FailOn makes every request matching key fail with err. Keys follow the
// RequestCall.Key format.
func (t *MockTransport) FailOn(key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[key] = err
}

// RespondWith overrides the raw result returned for requests matching key.
func (t *MockTransport) RespondWith(key string, result json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[key] = result
}

// Request implements the transport interface consumed by the SDK.
func (t *MockTransport) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	decoded := decodeParams(params)
	key := callKey(method, decoded)

	t.mu.Lock()
	t.calls = append(t.calls, RequestCall{Method: method, Key: key, Params: decoded})
	if err, ok := t.failures[key]; ok {
		t.mu.Unlock()
		return nil, err
	}
	if res, ok := t.responses[key]; ok {
		t.mu.Unlock()
		return res, nil
	}
	t.nextObject++
	objectID := fmt.Sprintf("object-%d", t.nextObject)
	t.mu.Unlock()

	switch method {
	case "create":
		return json.RawMessage(fmt.Sprintf(`{"value":%q}`, objectID)), nil
	case "invoke":
		if op, _ := decoded["operation"].(string); op == "processOffer" {
			return json.RawMessage(`{"value":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=answer\r\n"}`), nil
		}
		return json.RawMessage(`{}`), nil
	default:
		return json.RawMessage(`{}`), nil
	}
}

// Calls returns a copy of all recorded requests.
func (t *MockTransport) Calls() []RequestCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RequestCall{}, t.calls...)
}

// CallsFor returns the recorded requests matching key, in order.
func (t *MockTransport) CallsFor(key string) []RequestCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	var filtered []RequestCall
	for _, call := range t.calls {
		if call.Key == key {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// CallCount returns the number of recorded requests matching key.
func (t *MockTransport) CallCount(key string) int {
	return len(t.CallsFor(key))
}

// Reset clears all recorded requests and scripted behavior.
func (t *MockTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
	t.failures = make(map[string]error)
	t.responses = make(map[string]json.RawMessage)
}

func decodeParams(params interface{}) map[string]interface{} {
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}
	return decoded
}

func callKey(method string, params map[string]interface{}) string {
	switch method {
	case "create":
		if kind, _ := params["type"].(string); kind != "" {
			return "create:" + kind
		}
	case "invoke":
		if op, _ := params["operation"].(string); op != "" {
			return "invoke:" + op
		}
	}
	return method
}
