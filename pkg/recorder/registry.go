package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ReasonReconnectionTimeout is the release reason reported when a
// preserved session's reconnection window elapses.
const ReasonReconnectionTimeout = "reconnection-timeout"

// ServerLink is the media-server connection consumed by the registry. It
// is satisfied by Client; tests substitute a fake.
type ServerLink interface {
	Transport
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnectionState
	OnEvent(EventHandler)
	OnServerEvent(func(object, eventType string, data json.RawMessage))
}

// Registry owns the map of active recording sessions. It validates and
// normalizes session options, exposes the public lifecycle operations and
// implements the preserve-or-release policy across connection outages.
//
// All methods are safe for concurrent use. Operations on different
// sessions are fully independent.
type Registry struct {
	link   ServerLink
	cfg    RegistryConfig
	logger Logger

	mu             sync.Mutex
	sessions       map[string]*Session
	pendingIDs     map[string]struct{}
	releaseTimers  map[string]*time.Timer
	disconnectedAt time.Time

	handlersMu sync.RWMutex
	handlers   []EventHandler
}

// NewRegistry creates a session registry on top of the given server link.
// A nil logger falls back to a production zap logger.
func NewRegistry(link ServerLink, cfg RegistryConfig, logger Logger) *Registry {
	if logger == nil {
		logger = defaultLogger()
	}
	r := &Registry{
		link:          link,
		cfg:           cfg,
		logger:        logger,
		sessions:      make(map[string]*Session),
		pendingIDs:    make(map[string]struct{}),
		releaseTimers: make(map[string]*time.Timer),
	}
	link.OnEvent(r.onLinkEvent)
	link.OnServerEvent(r.onServerEvent)
	return r
}

// OnEvent registers a handler for all lifecycle events: connection events
// forwarded from the server link, registry-level events and per-session
// events.
func (r *Registry) OnEvent(h EventHandler) {
	r.handlersMu.Lock()
	r.handlers = append(r.handlers, h)
	r.handlersMu.Unlock()
}

func (r *Registry) emitEvent(ev Event) {
	r.handlersMu.RLock()
	handlers := r.handlers
	r.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

// onLinkEvent fans connection events out to the registry handlers and
// drives the preserve-or-release policy.
func (r *Registry) onLinkEvent(ev Event) {
	r.emitEvent(ev)
	switch ev.(type) {
	case DisconnectedEvent:
		r.handleDisconnect()
	case ConnectedEvent:
		r.handleReconnected()
	}
}

// onServerEvent receives unsolicited notifications pushed by the media
// server. Error notifications join the registry's event stream; anything
// else is logged at debug level.
func (r *Registry) onServerEvent(object, eventType string, data json.RawMessage) {
	if eventType != "Error" {
		r.logger.Debug("Unhandled media server event", "object", object, "type", eventType)
		return
	}
	var detail struct {
		Description string `json:"description"`
		ErrorCode   int    `json:"errorCode"`
	}
	if err := json.Unmarshal(data, &detail); err != nil || detail.Description == "" {
		detail.Description = string(data)
	}
	r.logger.Warn("Media server reported an error",
		"object", object, "code", detail.ErrorCode, "description", detail.Description)
	r.emitEvent(ErrorEvent{Err: fmt.Errorf("media server error on %s: %s", object, detail.Description)})
}

// NewSession validates and normalizes opts, creates the server-side
// pipeline and registers the session in READY state. Duplicate session
// ids are rejected before any server resource is created. The first
// session creation lazily connects to the media server.
func (r *Registry) NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	normalized, err := normalizeOptions(opts)
	if err != nil {
		return nil, err
	}
	id := normalized.ID

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	if _, pending := r.pendingIDs[id]; pending {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	r.pendingIDs[id] = struct{}{}
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.pendingIDs, id)
		r.mu.Unlock()
	}

	if r.link.State() != ConnectionConnected {
		if err := r.link.Connect(ctx); err != nil {
			release()
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
	}

	sess := newSession(normalized, r.link, r.logger, r.emitEvent)
	if err := sess.Initialize(ctx); err != nil {
		release()
		return nil, err
	}

	r.mu.Lock()
	delete(r.pendingIDs, id)
	r.sessions[id] = sess
	r.mu.Unlock()

	r.logger.Info("Session created", "sessionID", id, "mode", normalized.Mode, "profile", normalized.Profile)
	r.emitEvent(SessionCreatedEvent{SessionID: id})
	return sess, nil
}

// Session returns the session with the given id.
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Sessions returns the ids of all active sessions.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns the number of active sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopSession stops the session's recording, releases its server-side
// resources and removes it from the registry. The recording result is
// returned; a release failure after a successful stop is logged, not
// returned.
func (r *Registry) StopSession(ctx context.Context, id string) (*RecordingResult, error) {
	sess, err := r.Session(id)
	if err != nil {
		return nil, err
	}

	result, err := sess.Stop(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Release(ctx); err != nil {
		r.logger.Warn("Failed to release session resources", "sessionID", id, "error", err)
	}

	r.remove(id)
	r.emitEvent(SessionEndedEvent{SessionID: id, Result: result})
	return result, nil
}

// ReleaseSession force-releases a session's resources without a regular
// stop and removes it from the registry.
func (r *Registry) ReleaseSession(ctx context.Context, id string) error {
	sess, err := r.Session(id)
	if err != nil {
		return err
	}

	err = sess.Release(ctx)
	r.remove(id)
	r.emitEvent(PipelineReleasedEvent{SessionID: id, Reason: "released"})
	return err
}

// remove deletes the session and cancels its pending release timer.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	if timer, ok := r.releaseTimers[id]; ok {
		timer.Stop()
		delete(r.releaseTimers, id)
	}
	r.mu.Unlock()
}

// Close stops every active session and disconnects from the media server.
func (r *Registry) Close(ctx context.Context) error {
	for _, id := range r.Sessions() {
		if _, err := r.StopSession(ctx, id); err != nil {
			r.logger.Warn("Failed to stop session on close", "sessionID", id, "error", err)
			if err := r.ReleaseSession(ctx, id); err != nil {
				r.logger.Warn("Failed to release session on close", "sessionID", id, "error", err)
			}
		}
	}
	return r.link.Disconnect()
}

// handleDisconnect applies the preserve-or-release policy when the server
// connection drops. With preservation enabled and sessions active, the
// sessions are kept and one release timer per session is armed when a
// positive reconnection window is configured. Otherwise all sessions are
// stopped synchronously.
func (r *Registry) handleDisconnect() {
	r.mu.Lock()
	count := len(r.sessions)
	if count == 0 {
		r.mu.Unlock()
		return
	}

	if !r.cfg.PreserveOnDisconnect {
		ids := make([]string, 0, count)
		for id := range r.sessions {
			ids = append(ids, id)
		}
		r.mu.Unlock()

		r.logger.Warn("Connection lost, stopping all sessions", "count", count)
		ctx := context.Background()
		for _, id := range ids {
			if _, err := r.StopSession(ctx, id); err != nil {
				r.logger.Warn("Failed to stop session after disconnect", "sessionID", id, "error", err)
				if err := r.ReleaseSession(ctx, id); err != nil {
					r.logger.Warn("Failed to release session after disconnect", "sessionID", id, "error", err)
				}
			}
		}
		return
	}

	r.disconnectedAt = time.Now()
	window := r.cfg.MaxReconnectionTime
	if window > 0 {
		for id := range r.sessions {
			if _, armed := r.releaseTimers[id]; armed {
				continue
			}
			sessionID := id
			r.releaseTimers[id] = time.AfterFunc(window, func() {
				r.timeoutSession(sessionID, window)
			})
		}
	}
	r.mu.Unlock()

	r.logger.Warn("Connection lost, preserving sessions", "count", count, "maxReconnectionTime", window)
	r.emitEvent(PipelinePreservedEvent{SessionCount: count, MaxReconnectionTime: window})
}

// timeoutSession releases one preserved session whose reconnection window
// elapsed.
func (r *Registry) timeoutSession(id string, window time.Duration) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	delete(r.releaseTimers, id)
	r.mu.Unlock()

	r.logger.Warn("Reconnection window elapsed, releasing session", "sessionID", id, "timeout", window)
	if err := sess.Release(context.Background()); err != nil {
		r.logger.Warn("Failed to release timed-out session", "sessionID", id, "error", err)
	}
	r.emitEvent(ReconnectionTimedOutEvent{SessionID: id, Timeout: window})
	r.emitEvent(PipelineReleasedEvent{SessionID: id, Reason: ReasonReconnectionTimeout})
}

// handleReconnected clears all pending release timers and the outage
// timestamp after the connection is re-established.
func (r *Registry) handleReconnected() {
	r.mu.Lock()
	for id, timer := range r.releaseTimers {
		timer.Stop()
		delete(r.releaseTimers, id)
	}
	preserved := !r.disconnectedAt.IsZero()
	r.disconnectedAt = time.Time{}
	count := len(r.sessions)
	r.mu.Unlock()

	if preserved {
		r.logger.Info("Reconnected, preserved sessions resume", "count", count)
	}
}
