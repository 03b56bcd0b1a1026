package recorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvers-hub/recording-sdk/internal/test/mocks"
)

// rpcServer is a WebSocket server answering every request with a fixed
// result payload. httptest.Server.Close does not touch hijacked
// connections, so shutdown closes the upgraded ones explicitly.
type rpcServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
}

func startRPCServer(t *testing.T, result string) *rpcServer {
	t.Helper()
	s := &rpcServer{}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req rpcRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			resp := map[string]interface{}{
				"jsonrpc": jsonrpcVersion,
				"id":      req.ID,
				"result":  json.RawMessage(result),
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.shutdown)
	return s
}

func (s *rpcServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// shutdown stops the listener and tears down every upgraded connection so
// connected clients observe the read error.
func (s *rpcServer) shutdown() {
	s.srv.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestClientConnectAndRequest tests the request/response round trip
func TestClientConnectAndRequest(t *testing.T) {
	srv := startRPCServer(t, `{"value":"pipe-1"}`)
	client := NewClient(Config{ServerURL: srv.url()}, mocks.NewMockLogger())
	sink := &eventSink{}
	client.OnEvent(sink.handle)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	assert.Equal(t, ConnectionConnected, client.State())
	assert.Equal(t, 1, sink.count("connecting"))
	assert.Equal(t, 1, sink.count("connected"))

	// Connecting again while connected is a no-op.
	require.NoError(t, client.Connect(ctx))

	objectID, err := createObject(ctx, client, "MediaPipeline", nil)
	require.NoError(t, err)
	assert.Equal(t, "pipe-1", objectID)

	require.NoError(t, client.Disconnect())
	assert.Equal(t, ConnectionDisconnected, client.State())
	assert.Equal(t, 1, sink.count("disconnected"))
}

// TestClientConnectWhileConnecting tests the in-progress guard
func TestClientConnectWhileConnecting(t *testing.T) {
	client := NewClient(Config{ServerURL: "ws://127.0.0.1:1"}, mocks.NewMockLogger())

	client.mu.Lock()
	client.state = ConnectionConnecting
	client.mu.Unlock()

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnecting)
}

// TestClientRequestWhileDisconnected tests the connection requirement
func TestClientRequestWhileDisconnected(t *testing.T) {
	client := NewClient(Config{ServerURL: "ws://127.0.0.1:1"}, mocks.NewMockLogger())

	_, err := client.Request(context.Background(), methodCreate, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

// TestClientDisconnectAlwaysObserved tests that disconnect succeeds and
// notifies even without an open connection
func TestClientDisconnectAlwaysObserved(t *testing.T) {
	client := NewClient(Config{ServerURL: "ws://127.0.0.1:1"}, mocks.NewMockLogger())
	sink := &eventSink{}
	client.OnEvent(sink.handle)

	require.NoError(t, client.Disconnect())
	assert.Equal(t, ConnectionDisconnected, client.State())
	assert.Equal(t, 1, sink.count("disconnected"))
}

// TestClientConnectFailure tests that a failed connect reports and
// schedules no retries when reconnection is disabled
func TestClientConnectFailure(t *testing.T) {
	client := NewClient(Config{
		ServerURL:        "ws://127.0.0.1:1",
		HandshakeTimeout: 200 * time.Millisecond,
	}, mocks.NewMockLogger())
	sink := &eventSink{}
	client.OnEvent(sink.handle)

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, ConnectionDisconnected, client.State())
	assert.Zero(t, sink.count("reconnecting"))
}

// TestClientReconnectMaxAttempts tests the reconnection schedule running to
// exhaustion after the server goes away
func TestClientReconnectMaxAttempts(t *testing.T) {
	srv := startRPCServer(t, `{}`)
	client := NewClient(Config{
		ServerURL:        srv.url(),
		HandshakeTimeout: 200 * time.Millisecond,
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MaxAttempts: 2,
			BaseDelay:   5 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
		},
	}, mocks.NewMockLogger())
	sink := &eventSink{}
	client.OnEvent(sink.handle)

	require.NoError(t, client.Connect(context.Background()))
	srv.shutdown()

	require.Eventually(t, func() bool {
		return sink.count("reconnect-max-attempts") == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, sink.count("reconnecting"))
	assert.Equal(t, 2, sink.count("reconnect-failed"))
	assert.Equal(t, 1, sink.count("disconnected"))
}

// TestClientServerEventDispatch tests routing of onEvent notifications to
// the registered callback
func TestClientServerEventDispatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		notice := map[string]interface{}{
			"jsonrpc": jsonrpcVersion,
			"method":  methodEvent,
			"params": map[string]interface{}{
				"object": "recorder-1",
				"type":   "Recording",
				"data":   map[string]interface{}{"state": "RECORDING"},
			},
		}
		if err := conn.WriteJSON(notice); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{ServerURL: wsURL(srv)}, mocks.NewMockLogger())

	type pushed struct {
		object    string
		eventType string
		data      json.RawMessage
	}
	received := make(chan pushed, 1)
	client.OnServerEvent(func(object, eventType string, data json.RawMessage) {
		received <- pushed{object, eventType, data}
	})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case got := <-received:
		assert.Equal(t, "recorder-1", got.object)
		assert.Equal(t, "Recording", got.eventType)
		assert.JSONEq(t, `{"state":"RECORDING"}`, string(got.data))
	case <-time.After(2 * time.Second):
		t.Fatal("server event was not delivered")
	}
}

// TestBackoffDelayBounds tests the jittered exponential backoff formula
func TestBackoffDelayBounds(t *testing.T) {
	client := NewClient(Config{
		ServerURL: "ws://127.0.0.1:1",
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MaxAttempts: 10,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
	}, mocks.NewMockLogger())

	prevCeiling := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := time.Second << (attempt - 1)
		if ceiling > 30*time.Second {
			ceiling = 30 * time.Second
		}

		for i := 0; i < 25; i++ {
			delay := client.backoffDelay(attempt)
			assert.GreaterOrEqual(t, delay, ceiling/2, "attempt %d", attempt)
			assert.Less(t, delay, ceiling+1, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, 30*time.Second)
		}

		// Expected delay is non-decreasing until clamped.
		assert.GreaterOrEqual(t, ceiling, prevCeiling)
		prevCeiling = ceiling
	}
}

// TestClientRequestServerError tests propagation of server-reported failures
func TestClientRequestServerError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req rpcRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			resp := map[string]interface{}{
				"jsonrpc": jsonrpcVersion,
				"id":      req.ID,
				"error":   map[string]interface{}{"code": 40101, "message": "object not found"},
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{ServerURL: wsURL(srv)}, mocks.NewMockLogger())
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect() })

	_, err := client.Request(context.Background(), methodInvoke, invokeParams{Object: "missing", Operation: "record"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object not found")
}
