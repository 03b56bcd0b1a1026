package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultBaseDelay        = 1 * time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultMaxAttempts      = 10
)

// ConnectionState describes the state of the media-server connection.
type ConnectionState int

const (
	// ConnectionDisconnected means no connection exists and none is being attempted.
	ConnectionDisconnected ConnectionState = iota

	// ConnectionConnecting means a connection attempt is in flight.
	ConnectionConnecting

	// ConnectionConnected means the connection is established.
	ConnectionConnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ReconnectConfig controls automatic reconnection after a connection loss.
type ReconnectConfig struct {
	// Enabled turns automatic reconnection on.
	Enabled bool

	// MaxAttempts is the number of reconnection attempts before giving up.
	MaxAttempts int

	// BaseDelay is the delay before the first reconnection attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration
}

// Config configures the media-server connection.
type Config struct {
	// ServerURL is the WebSocket URL of the media server
	// (e.g., "ws://localhost:8888/media").
	ServerURL string

	// HandshakeTimeout bounds the WebSocket handshake. Defaults to 10s.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds a single server round-trip when the caller's
	// context has no deadline. Defaults to 30s.
	RequestTimeout time.Duration

	// Reconnect controls automatic reconnection.
	Reconnect ReconnectConfig
}

// DefaultConfig returns a Config with reconnection enabled and default
// backoff parameters.
func DefaultConfig(serverURL string) Config {
	return Config{
		ServerURL: serverURL,
		Reconnect: ReconnectConfig{
			Enabled:     true,
			MaxAttempts: defaultMaxAttempts,
			BaseDelay:   defaultBaseDelay,
			MaxDelay:    defaultMaxDelay,
		},
	}
}

// Client owns the single logical connection to the media server.
//
// The client maintains a persistent WebSocket connection, correlates
// JSON-RPC responses with pending requests, and automatically reconnects
// on failures using exponential backoff with jitter. It implements
// Transport for the pipeline and element layers.
//
// All methods are safe for concurrent use.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger Logger

	mu         sync.RWMutex
	writeMu    sync.Mutex // Protects websocket writes
	conn       *websocket.Conn
	state      ConnectionState
	attempts   int
	retryTimer *time.Timer
	closing    bool

	pendingMu sync.Mutex
	pending   map[int64]chan rpcEnvelope
	nextID    int64

	handlerMu sync.RWMutex
	handler   EventHandler

	serverEventMu sync.RWMutex
	serverEvents  func(object, eventType string, data json.RawMessage)
}

// NewClient creates a client for the media server at cfg.ServerURL.
// A nil logger falls back to a production zap logger.
func NewClient(cfg Config, logger Logger) *Client {
	if logger == nil {
		logger = defaultLogger()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Reconnect.BaseDelay == 0 {
		cfg.Reconnect.BaseDelay = defaultBaseDelay
	}
	if cfg.Reconnect.MaxDelay == 0 {
		cfg.Reconnect.MaxDelay = defaultMaxDelay
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = defaultMaxAttempts
	}
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger:  logger,
		pending: make(map[int64]chan rpcEnvelope),
	}
}

// OnEvent registers the handler that receives connection events. At most
// one handler is registered; the owning coordinator fans events out.
func (c *Client) OnEvent(h EventHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// OnServerEvent registers the callback for unsolicited media events pushed
// by the server.
func (c *Client) OnServerEvent(fn func(object, eventType string, data json.RawMessage)) {
	c.serverEventMu.Lock()
	c.serverEvents = fn
	c.serverEventMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect establishes the connection to the media server. If already
// connected it returns nil. A concurrent call while a connection attempt
// is in flight fails with ErrAlreadyConnecting rather than queuing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case ConnectionConnected:
		c.mu.Unlock()
		return nil
	case ConnectionConnecting:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}
	c.state = ConnectionConnecting
	c.closing = false
	c.mu.Unlock()

	c.emit(ConnectingEvent{})

	if err := c.dial(ctx); err != nil {
		c.scheduleReconnect()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// dial performs one connection attempt. The caller must have moved the
// client into ConnectionConnecting first.
func (c *Client) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.ServerURL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = ConnectionDisconnected
		c.mu.Unlock()
		c.logger.Error("Failed to connect to media server", "url", c.cfg.ServerURL, "error", err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = ConnectionConnected
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("Connected to media server", "url", c.cfg.ServerURL)
	go c.readLoop(conn)
	c.emit(ConnectedEvent{})
	return nil
}

// Disconnect cancels any pending reconnection timer and closes the
// connection. Close failures are logged and swallowed after forcing local
// state to disconnected; a DisconnectedEvent is always emitted.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = ConnectionDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("Error closing media server connection", "error", err)
		}
	}

	c.failPending(ErrNotConnected)
	c.emit(DisconnectedEvent{})
	return nil
}

// Request implements Transport. It correlates the response through the
// pending-call map and honors ctx cancellation.
func (c *Client) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcEnvelope, 1)
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	connected := c.state == ConnectionConnected
	c.mu.RUnlock()
	if conn == nil || !connected {
		return nil, ErrNotConnected
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env := <-ch:
		if env.Error != nil {
			return nil, fmt.Errorf("%s failed: %w", method, env.Error)
		}
		return env.Result, nil
	}
}

// readLoop reads frames until the connection fails or is closed.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one incoming frame to the pending call or the server
// event callback.
func (c *Client) dispatch(data []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("Failed to parse server message", "error", err)
		return
	}

	if env.ID != nil && env.Method == "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[*env.ID]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("Response for unknown request id", "id", *env.ID)
			return
		}
		ch <- env
		return
	}

	if env.Method == methodEvent {
		var ev serverEvent
		if err := json.Unmarshal(env.Params, &ev); err != nil {
			c.logger.Warn("Failed to parse server event", "error", err)
			return
		}
		c.serverEventMu.RLock()
		fn := c.serverEvents
		c.serverEventMu.RUnlock()
		if fn != nil {
			fn(ev.Object, ev.Type, ev.Data)
		} else {
			c.logger.Debug("Unhandled server event", "object", ev.Object, "type", ev.Type)
		}
		return
	}

	c.logger.Warn("Unknown server message", "method", env.Method)
}

// handleReadError reacts to a broken connection: fails in-flight requests,
// reports the disconnect and kicks off the reconnection schedule.
func (c *Client) handleReadError(err error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = ConnectionDisconnected
	c.mu.Unlock()

	c.logger.Warn("Media server connection lost", "error", err)
	c.failPending(ErrNotConnected)
	c.emit(DisconnectedEvent{})
	c.scheduleReconnect()
}

// failPending unblocks every in-flight request with err.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- rpcEnvelope{Error: &rpcError{Code: -1, Message: err.Error()}}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// scheduleReconnect arms the next reconnection attempt, or emits the
// terminal max-attempts notification when the budget is exhausted.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closing || !c.cfg.Reconnect.Enabled {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if attempt > c.cfg.Reconnect.MaxAttempts {
		c.mu.Unlock()
		c.logger.Error("Max reconnection attempts reached", "attempts", c.cfg.Reconnect.MaxAttempts)
		c.emit(ReconnectMaxAttemptsEvent{Attempts: c.cfg.Reconnect.MaxAttempts})
		return
	}
	delay := c.backoffDelay(attempt)
	c.retryTimer = time.AfterFunc(delay, func() { c.reconnect(attempt) })
	c.mu.Unlock()

	c.logger.Info("Scheduling reconnection", "attempt", attempt, "delay", delay)
	c.emit(ReconnectingEvent{Attempt: attempt, Delay: delay})
}

// reconnect runs one scheduled reconnection attempt.
func (c *Client) reconnect(attempt int) {
	c.mu.Lock()
	if c.closing || c.state != ConnectionDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = ConnectionConnecting
	c.retryTimer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()
	if err := c.dial(ctx); err != nil {
		c.emit(ReconnectFailedEvent{Attempt: attempt, Err: err})
		c.scheduleReconnect()
	}
}

// backoffDelay computes min(maxDelay, baseDelay*2^(attempt-1)) scaled by a
// jitter factor drawn uniformly from [0.5, 1.0).
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := float64(c.cfg.Reconnect.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(c.cfg.Reconnect.MaxDelay); base > max {
		base = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(base * jitter)
}

func (c *Client) emit(ev Event) {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h != nil {
		h(ev)
	}
}
