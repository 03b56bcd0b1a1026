package recorder

import "time"

// Event is a lifecycle notification produced by the SDK.
// Events are delivered synchronously to registered handlers; handlers must
// not block and must not call back into the SDK from the same goroutine.
type Event interface {
	// Name returns the stable event name.
	Name() string
}

// EventHandler receives lifecycle events.
type EventHandler func(Event)

// ConnectingEvent is emitted when a connection attempt to the media server starts.
type ConnectingEvent struct{}

// ConnectedEvent is emitted when the connection to the media server is established.
type ConnectedEvent struct{}

// DisconnectedEvent is emitted when the connection to the media server is lost
// or closed. It is always emitted on disconnect, even when closing failed.
type DisconnectedEvent struct{}

// ReconnectingEvent is emitted when a reconnection attempt is scheduled.
type ReconnectingEvent struct {
	// Attempt is the 1-based reconnection attempt number.
	Attempt int

	// Delay is the backoff delay before the attempt runs.
	Delay time.Duration
}

// ReconnectFailedEvent is emitted when a reconnection attempt fails.
type ReconnectFailedEvent struct {
	Attempt int
	Err     error
}

// ReconnectMaxAttemptsEvent is emitted once when the configured maximum
// number of reconnection attempts is exhausted. No further automatic
// retries occur after this event.
type ReconnectMaxAttemptsEvent struct {
	Attempts int
}

// PipelinePreservedEvent is emitted when a disconnect occurs while sessions
// are active and the preserve-on-disconnect policy keeps their server-side
// resources allocated.
type PipelinePreservedEvent struct {
	// SessionCount is the number of sessions being preserved.
	SessionCount int

	// MaxReconnectionTime is the window after which preserved sessions are
	// released. Zero means sessions are preserved indefinitely.
	MaxReconnectionTime time.Duration
}

// PipelineReleasedEvent is emitted when a session's server-side resources
// are released.
type PipelineReleasedEvent struct {
	SessionID string
	Reason    string
}

// ReconnectionTimedOutEvent is emitted when a preserved session's release
// timer fires before the connection is re-established.
type ReconnectionTimedOutEvent struct {
	SessionID string
	Timeout   time.Duration
}

// SessionCreatedEvent is emitted when a session is registered.
type SessionCreatedEvent struct {
	SessionID string
}

// SessionEndedEvent is emitted when a session is stopped and removed from
// the registry. Result is nil when the session ended without a recording.
type SessionEndedEvent struct {
	SessionID string
	Result    *RecordingResult
}

// ErrorEvent is emitted for unrecoverable failures. SessionID is empty for
// failures outside a session context.
type ErrorEvent struct {
	SessionID string
	Err       error
}

// StateChangedEvent is emitted on every session state transition.
type StateChangedEvent struct {
	SessionID string
	Old       SessionState
	New       SessionState
}

// RecordingStartedEvent is emitted when a session starts recording.
type RecordingStartedEvent struct {
	SessionID string
	Timestamp time.Time
}

// RecordingStoppedEvent is emitted when a session stops recording.
type RecordingStoppedEvent struct {
	SessionID string
	Result    *RecordingResult
}

// PausedEvent is emitted when a session is paused.
type PausedEvent struct {
	SessionID string
	Timestamp time.Time
	PauseType PauseKind
}

// ResumedEvent is emitted when a session resumes one or both media kinds.
type ResumedEvent struct {
	SessionID     string
	Timestamp     time.Time
	PauseDuration time.Duration
	ResumeType    PauseKind
}

// QualityChangedEvent is emitted when bitrate bounds are changed on a live session.
type QualityChangedEvent struct {
	SessionID  string
	MinBitrate int
	MaxBitrate int
}

func (ConnectingEvent) Name() string           { return "connecting" }
func (ConnectedEvent) Name() string            { return "connected" }
func (DisconnectedEvent) Name() string         { return "disconnected" }
func (ReconnectingEvent) Name() string         { return "reconnecting" }
func (ReconnectFailedEvent) Name() string      { return "reconnect-failed" }
func (ReconnectMaxAttemptsEvent) Name() string { return "reconnect-max-attempts" }
func (PipelinePreservedEvent) Name() string    { return "pipeline-preserved" }
func (PipelineReleasedEvent) Name() string     { return "pipeline-released" }
func (ReconnectionTimedOutEvent) Name() string { return "reconnection-timed-out" }
func (SessionCreatedEvent) Name() string       { return "session-created" }
func (SessionEndedEvent) Name() string         { return "session-ended" }
func (ErrorEvent) Name() string                { return "error" }
func (StateChangedEvent) Name() string         { return "state-changed" }
func (RecordingStartedEvent) Name() string     { return "recording-started" }
func (RecordingStoppedEvent) Name() string     { return "recording-stopped" }
func (PausedEvent) Name() string               { return "paused" }
func (ResumedEvent) Name() string              { return "resumed" }
func (QualityChangedEvent) Name() string       { return "quality-changed" }
