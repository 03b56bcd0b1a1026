package recorder

import (
	"context"
	"path/filepath"
	"strings"
)

// Logical element names inside a session's pipeline.
const (
	elementIngress     = "ingress"
	elementRecorder    = "recorder"
	elementBlankScreen = "blank-screen"
)

// EndpointManager creates and wires the ingress and recording elements of
// one session's pipeline and manages the blank-screen substitute used
// while video is paused.
//
// The manager is driven by the session state machine and is not safe for
// unsynchronized concurrent use.
type EndpointManager struct {
	pipeline *Pipeline
	logger   Logger
	mode     RecordingMode

	ingress  *WebRTCIngress
	recorder *RecorderSink
	blank    *BlankSource

	recording   bool
	blankActive bool
}

// NewEndpointManager creates a manager for the given pipeline.
func NewEndpointManager(pipeline *Pipeline, logger Logger) *EndpointManager {
	if logger == nil {
		logger = defaultLogger()
	}
	return &EndpointManager{pipeline: pipeline, logger: logger}
}

// targetURI converts a recording target path to the server's expected URI
// form. Absolute paths become file:// URIs; relative paths and URIs pass
// through unchanged.
func targetURI(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	if filepath.IsAbs(path) {
		return "file://" + path
	}
	return path
}

// mediaConstraints derives the ingress audio/video flags from the
// recording mode. Unrecognized modes keep both kinds enabled.
func mediaConstraints(mode RecordingMode, hasAudio bool) (useAudio, useVideo bool) {
	switch mode {
	case ModeAudioOnly:
		return true, false
	case ModeVideoOnly:
		return false, true
	case ModeAudioVideo:
		return hasAudio, true
	default:
		return hasAudio, true
	}
}

// CreateEndpoints creates the ingress and recorder elements for the
// session options and connects them according to the recording mode. An
// unrecognized mode falls back to connecting both tracks with a warning;
// it never fails the operation.
func (m *EndpointManager) CreateEndpoints(ctx context.Context, opts SessionOptions) error {
	m.mode = opts.Mode

	useAudio, useVideo := mediaConstraints(opts.Mode, *opts.HasAudio)
	ingress, err := newWebRTCIngress(ctx, m.pipeline, elementIngress, useAudio, useVideo)
	if err != nil {
		return err
	}
	m.ingress = ingress

	recorder, err := newRecorderSink(ctx, m.pipeline, elementRecorder, targetURI(opts.OutputPath), opts.Profile, opts.MaxBitrate)
	if err != nil {
		return err
	}
	m.recorder = recorder

	var kind MediaKind
	switch opts.Mode {
	case ModeAudioVideo:
		kind = KindBoth
	case ModeAudioOnly:
		kind = KindAudio
	case ModeVideoOnly:
		kind = KindVideo
	default:
		m.logger.Warn("Unrecognized recording mode, connecting both tracks", "mode", opts.Mode)
		kind = KindBoth
	}
	return ingress.Connect(ctx, recorder, kind)
}

// Ingress returns the ingress element, or nil before CreateEndpoints.
func (m *EndpointManager) Ingress() *WebRTCIngress {
	return m.ingress
}

// StartRecording tells the recorder element to start writing. It is a
// no-op when already recording and fails with ErrRecorderUnavailable when
// the recorder element does not exist.
func (m *EndpointManager) StartRecording(ctx context.Context) error {
	if m.recorder == nil {
		return ErrRecorderUnavailable
	}
	if m.recording {
		return nil
	}
	if err := m.recorder.Record(ctx); err != nil {
		return err
	}
	m.recording = true
	return nil
}

// StopRecording tells the recorder element to stop writing. It is a no-op
// when not recording and fails with ErrRecorderUnavailable when the
// recorder element does not exist.
func (m *EndpointManager) StopRecording(ctx context.Context) error {
	if m.recorder == nil {
		return ErrRecorderUnavailable
	}
	if !m.recording {
		return nil
	}
	if err := m.recorder.StopRecording(ctx); err != nil {
		return err
	}
	m.recording = false
	return nil
}

// Recording reports whether the recorder element is currently writing.
func (m *EndpointManager) Recording() bool {
	return m.recording
}

// ConnectBlankScreen replaces the live video feeding the recorder with a
// blank substitute source, creating the substitute element on first use.
// The live video is disconnected best-effort: the graph has no guaranteed
// disconnect primitive, so failures are logged and the substitution
// proceeds on the locally tracked edge model.
func (m *EndpointManager) ConnectBlankScreen(ctx context.Context, opts SessionOptions) error {
	if m.blankActive {
		return nil
	}
	if m.recorder == nil {
		return ErrRecorderUnavailable
	}

	if m.blank == nil {
		blank, err := newBlankSource(ctx, m.pipeline, elementBlankScreen, opts.BlankScreenColor, opts.Width, opts.Height, opts.FrameRate)
		if err != nil {
			return err
		}
		m.blank = blank
	}

	if m.mode != ModeAudioOnly && m.ingress != nil {
		if err := m.ingress.Disconnect(ctx, m.recorder, KindVideo); err != nil {
			m.logger.Warn("Best-effort video disconnect failed", "error", err)
		}
	}
	if err := m.blank.Connect(ctx, m.recorder, KindVideo); err != nil {
		return err
	}
	m.blankActive = true
	return nil
}

// DisconnectBlankScreen reverses ConnectBlankScreen, reconnecting the live
// video to the recorder. Removal of the substitute edge is best-effort.
func (m *EndpointManager) DisconnectBlankScreen(ctx context.Context) error {
	if !m.blankActive {
		return nil
	}
	if m.blank != nil && m.recorder != nil {
		if err := m.blank.Disconnect(ctx, m.recorder, KindVideo); err != nil {
			m.logger.Warn("Best-effort blank screen disconnect failed", "error", err)
		}
	}
	if m.mode != ModeAudioOnly && m.ingress != nil && m.recorder != nil {
		if err := m.ingress.Connect(ctx, m.recorder, KindVideo); err != nil {
			return err
		}
	}
	m.blankActive = false
	return nil
}

// BlankScreenActive reports whether the substitute source currently feeds
// the recorder.
func (m *EndpointManager) BlankScreenActive() bool {
	return m.blankActive
}

// ReleaseEndpoints best-effort stops recording and releases the blank,
// recorder and ingress elements independently. Per-element failures are
// logged, never returned; the method always completes.
func (m *EndpointManager) ReleaseEndpoints(ctx context.Context) {
	if m.recorder != nil && m.recording {
		if err := m.StopRecording(ctx); err != nil {
			m.logger.Warn("Failed to stop recording during release", "error", err)
		}
	}
	if m.blank != nil {
		if err := m.blank.Release(ctx); err != nil {
			m.logger.Warn("Failed to release blank screen element", "error", err)
		}
		m.blank = nil
		m.blankActive = false
	}
	if m.recorder != nil {
		if err := m.recorder.Release(ctx); err != nil {
			m.logger.Warn("Failed to release recorder element", "error", err)
		}
		m.recorder = nil
	}
	if m.ingress != nil {
		if err := m.ingress.Release(ctx); err != nil {
			m.logger.Warn("Failed to release ingress element", "error", err)
		}
		m.ingress = nil
	}
}
