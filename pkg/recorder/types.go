// Package recorder provides an SDK for recording live WebRTC media streams
// through a remote media-processing server. The SDK negotiates a peer
// connection on behalf of the caller, builds a server-side processing
// pipeline that routes the incoming stream into a recording sink, and
// tracks the full lifecycle of each recording session.
//
// The package supports:
//   - Audio+video, audio-only, and video-only recordings
//   - Pause and resume with selective audio/video muting
//   - Optional blank-screen substitution while video is paused
//   - Automatic reconnection to the media server with exponential backoff
//   - Preserving server-side resources through transient connectivity loss
//
// A Registry owns all active sessions and is the main entry point. Each
// Session progresses through its own state machine; sessions are fully
// independent of each other.
package recorder

import (
	"go.uber.org/zap"
)

// Logger interface for pluggable logging.
// Implement this interface to integrate with your application's logging system.
// The fields parameter accepts key-value pairs for structured logging.
type Logger interface {
	// Debug logs a debug-level message with optional fields.
	Debug(msg string, fields ...interface{})

	// Info logs an info-level message with optional fields.
	Info(msg string, fields ...interface{})

	// Warn logs a warning-level message with optional fields.
	Warn(msg string, fields ...interface{})

	// Error logs an error-level message with optional fields.
	Error(msg string, fields ...interface{})
}

// zapLogger wraps zap.SugaredLogger to implement our Logger interface
type zapLogger struct {
	*zap.SugaredLogger
}

func (z *zapLogger) Debug(msg string, fields ...interface{}) {
	z.SugaredLogger.Debugw(msg, fields...)
}

func (z *zapLogger) Info(msg string, fields ...interface{}) {
	z.SugaredLogger.Infow(msg, fields...)
}

func (z *zapLogger) Warn(msg string, fields ...interface{}) {
	z.SugaredLogger.Warnw(msg, fields...)
}

func (z *zapLogger) Error(msg string, fields ...interface{}) {
	z.SugaredLogger.Errorw(msg, fields...)
}

// defaultLogger returns the logger used when the caller does not supply one.
func defaultLogger() Logger {
	logger, _ := zap.NewProduction()
	return &zapLogger{logger.Sugar()}
}

// Error represents a typed error with a code and message.
// Error codes are stable and can be used for programmatic error handling.
type Error struct {
	// Code is a stable identifier for the error type.
	Code string

	// Message provides human-readable error details.
	Message string
}

// Error implements the error interface.
// Returns a string in the format "CODE: message".
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Common errors returned by the recording SDK.
// Use errors.Is() to check for specific error types.
var (
	// ErrConnectionFailed indicates a failure to establish connection to the media server.
	ErrConnectionFailed = &Error{Code: "CONNECTION_FAILED", Message: "failed to connect to media server"}

	// ErrAlreadyConnecting indicates a connection attempt is already in flight.
	ErrAlreadyConnecting = &Error{Code: "CONNECTION_IN_PROGRESS", Message: "connection attempt already in progress"}

	// ErrNotConnected indicates an operation that requires an established connection.
	ErrNotConnected = &Error{Code: "NOT_CONNECTED", Message: "not connected to media server"}

	// ErrPipelineUnavailable indicates the pipeline is not initialized or already released.
	ErrPipelineUnavailable = &Error{Code: "PIPELINE_UNAVAILABLE", Message: "pipeline is not initialized or has been released"}

	// ErrRecorderUnavailable indicates the recording element does not exist.
	ErrRecorderUnavailable = &Error{Code: "RECORDER_UNAVAILABLE", Message: "recorder element does not exist"}

	// ErrEndpointUnavailable indicates no negotiable endpoint is attached.
	ErrEndpointUnavailable = &Error{Code: "ENDPOINT_UNAVAILABLE", Message: "no ingress endpoint available"}

	// ErrInvalidState indicates a lifecycle operation invoked in the wrong session state.
	ErrInvalidState = &Error{Code: "INVALID_STATE", Message: "operation not valid in current session state"}

	// ErrSessionNotFound indicates the session id is not in the registry.
	ErrSessionNotFound = &Error{Code: "SESSION_NOT_FOUND", Message: "session not found"}

	// ErrDuplicateSession indicates a session with the same id already exists.
	ErrDuplicateSession = &Error{Code: "DUPLICATE_SESSION", Message: "session id already in use"}

	// ErrInvalidConfiguration indicates invalid session options.
	ErrInvalidConfiguration = &Error{Code: "INVALID_CONFIGURATION", Message: "invalid session options"}
)
