package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// SessionState is the lifecycle state of a recording session.
type SessionState int

const (
	// StateCreated is the initial state before initialization.
	StateCreated SessionState = iota

	// StateReady means the pipeline exists and the session can negotiate
	// and start recording.
	StateReady

	// StateRecording means media is being written to the output.
	StateRecording

	// StatePaused means one or both media kinds are muted.
	StatePaused

	// StateStopped is the terminal state of a finished session.
	StateStopped

	// StateFailed is entered on unrecoverable failure from any state.
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one recording of a live media stream. It owns a pipeline, an
// ingress/recorder endpoint pair and the signaling state, and progresses
// through CREATED → READY → RECORDING ⇄ PAUSED → STOPPED.
//
// All lifecycle methods are serialized by an internal mutex, so
// overlapping calls on the same session are ordered deterministically.
// Sessions are created through Registry.NewSession.
type Session struct {
	id        string
	pipeline  *Pipeline
	endpoints *EndpointManager
	signaling *SignalingHandler
	logger    Logger
	emit      func(Event)
	clock     func() time.Time

	mu          sync.Mutex
	opts        SessionOptions
	state       SessionState
	startedAt   time.Time
	stoppedAt   time.Time
	pauseStart  time.Time
	pausedTotal time.Duration
	audioMuted  bool
	videoMuted  bool
	result      *RecordingResult
}

// newSession wires a session around an already-normalized option set.
func newSession(opts SessionOptions, transport Transport, logger Logger, emit func(Event)) *Session {
	pipeline := NewPipeline(transport, logger)
	return &Session{
		id:        opts.ID,
		opts:      opts,
		pipeline:  pipeline,
		endpoints: NewEndpointManager(pipeline, logger),
		signaling: NewSignalingHandler(logger),
		logger:    logger,
		emit:      emit,
		clock:     time.Now,
		state:     StateCreated,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Options returns a snapshot of the normalized session options.
func (s *Session) Options() SessionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Result returns the recording result, or nil before the session stopped.
func (s *Session) Result() *RecordingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// setStateLocked transitions the state and reports the change. Callers
// hold s.mu.
func (s *Session) setStateLocked(next SessionState) {
	old := s.state
	if old == next {
		return
	}
	s.state = next
	s.logger.Debug("Session state changed", "sessionID", s.id, "from", old.String(), "to", next.String())
	s.emit(StateChangedEvent{SessionID: s.id, Old: old, New: next})
}

// failLocked moves the session to StateFailed and reports the cause.
func (s *Session) failLocked(err error) {
	s.setStateLocked(StateFailed)
	s.emit(ErrorEvent{SessionID: s.id, Err: err})
}

// Initialize creates the server-side pipeline, moving the session from
// CREATED to READY. A failure moves the session to FAILED.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("%w: cannot initialize session %s in state %s", ErrInvalidState, s.id, s.state)
	}
	if err := s.pipeline.Initialize(ctx); err != nil {
		s.failLocked(err)
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	s.setStateLocked(StateReady)
	return nil
}

// ProcessOffer creates the session's endpoints, negotiates the peer
// connection and applies the configured bitrate bounds. It is valid only
// in READY; a failure moves the session to FAILED and is returned.
func (s *Session) ProcessOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: cannot process offer for session %s in state %s", ErrInvalidState, s.id, s.state)
	}

	if s.endpoints.Ingress() == nil {
		if err := s.endpoints.CreateEndpoints(ctx, s.opts); err != nil {
			s.failLocked(err)
			return webrtc.SessionDescription{}, fmt.Errorf("session %s: %w", s.id, err)
		}
		s.signaling.AttachEndpoint(ctx, s.endpoints.Ingress())
	}

	answer, err := s.signaling.ProcessOffer(ctx, offer)
	if err != nil {
		s.failLocked(err)
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: %w", s.id, err)
	}
	if err := s.signaling.GatherCandidates(ctx); err != nil {
		s.failLocked(err)
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: %w", s.id, err)
	}
	if err := s.signaling.SetQualityParameters(ctx, s.opts.MinBitrate, s.opts.MaxBitrate); err != nil {
		s.failLocked(err)
		return webrtc.SessionDescription{}, fmt.Errorf("session %s: %w", s.id, err)
	}
	return answer, nil
}

// AddICECandidate forwards a remote candidate to the ingress element, or
// buffers it until negotiation creates one.
func (s *Session) AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	return s.signaling.AddICECandidate(ctx, candidate)
}

// Start begins recording. It is valid only in READY after a completed
// offer/answer negotiation.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return fmt.Errorf("%w: cannot start session %s in state %s", ErrInvalidState, s.id, s.state)
	}
	if s.endpoints.Ingress() == nil || !s.signaling.Negotiated() {
		return fmt.Errorf("%w: session %s has no negotiated endpoint", ErrInvalidState, s.id)
	}

	if err := s.endpoints.StartRecording(ctx); err != nil {
		s.failLocked(err)
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	s.startedAt = s.clock()
	s.setStateLocked(StateRecording)
	s.emit(RecordingStartedEvent{SessionID: s.id, Timestamp: s.startedAt})
	return nil
}

// Pause mutes the requested sub-streams. It is valid only in RECORDING.
// When video is among the muted sub-streams and blank-screen substitution
// is enabled, the substitute source is inserted; insertion failures are
// logged and never abort the pause.
func (s *Session) Pause(ctx context.Context, kind PauseKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return fmt.Errorf("%w: cannot pause session %s in state %s", ErrInvalidState, s.id, s.state)
	}

	now := s.clock()
	s.pauseStart = now
	switch kind {
	case PauseAudio:
		s.audioMuted = true
	case PauseVideo:
		s.videoMuted = true
	default:
		s.audioMuted = true
		s.videoMuted = true
	}

	if s.videoMuted && s.opts.BlankScreenOnPause {
		if err := s.endpoints.ConnectBlankScreen(ctx, s.opts); err != nil {
			s.logger.Warn("Failed to insert blank screen", "sessionID", s.id, "error", err)
		}
	}

	s.setStateLocked(StatePaused)
	s.emit(PausedEvent{SessionID: s.id, Timestamp: now, PauseType: kind})
	return nil
}

// Resume unmutes the requested sub-streams, defaulting to whatever is
// currently muted. It is valid only in PAUSED. The session returns to
// RECORDING only when neither audio nor video remains muted; a partial
// resume stays in PAUSED.
func (s *Session) Resume(ctx context.Context, kind PauseKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return fmt.Errorf("%w: cannot resume session %s in state %s", ErrInvalidState, s.id, s.state)
	}

	if kind == "" {
		kind = s.mutedKindLocked()
	}

	now := s.clock()
	pauseDuration := now.Sub(s.pauseStart)
	s.pausedTotal += pauseDuration
	s.pauseStart = now

	switch kind {
	case PauseAudio:
		s.audioMuted = false
	case PauseVideo:
		s.videoMuted = false
	default:
		s.audioMuted = false
		s.videoMuted = false
	}

	if !s.videoMuted && s.endpoints.BlankScreenActive() {
		if err := s.endpoints.DisconnectBlankScreen(ctx); err != nil {
			s.logger.Warn("Failed to remove blank screen", "sessionID", s.id, "error", err)
		}
	}

	if !s.audioMuted && !s.videoMuted {
		s.setStateLocked(StateRecording)
	}
	s.emit(ResumedEvent{SessionID: s.id, Timestamp: now, PauseDuration: pauseDuration, ResumeType: kind})
	return nil
}

// mutedKindLocked derives the pause kind from the current muted flags.
func (s *Session) mutedKindLocked() PauseKind {
	switch {
	case s.audioMuted && s.videoMuted:
		return PauseBoth
	case s.audioMuted:
		return PauseAudio
	default:
		return PauseVideo
	}
}

// Stop finishes the recording and computes the result. It is valid in
// RECORDING or PAUSED; from FAILED it is tolerated as a best-effort
// cleanup path and yields no result.
func (s *Session) Stop(ctx context.Context) (*RecordingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRecording, StatePaused:
	case StateFailed:
		if err := s.endpoints.StopRecording(ctx); err != nil {
			s.logger.Warn("Best-effort stop of failed session", "sessionID", s.id, "error", err)
		}
		s.setStateLocked(StateStopped)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: cannot stop session %s in state %s", ErrInvalidState, s.id, s.state)
	}

	now := s.clock()
	if s.state == StatePaused {
		s.pausedTotal += now.Sub(s.pauseStart)
		s.audioMuted = false
		s.videoMuted = false
	}

	if s.endpoints.BlankScreenActive() {
		if err := s.endpoints.DisconnectBlankScreen(ctx); err != nil {
			s.logger.Warn("Failed to remove blank screen on stop", "sessionID", s.id, "error", err)
		}
	}

	if err := s.endpoints.StopRecording(ctx); err != nil {
		s.failLocked(err)
		return nil, fmt.Errorf("session %s: %w", s.id, err)
	}

	s.stoppedAt = now
	s.result = s.resultLocked()
	s.setStateLocked(StateStopped)
	s.emit(RecordingStoppedEvent{SessionID: s.id, Result: s.result})
	return s.result, nil
}

// resultLocked computes the recording result. When blank-screen
// substitution is disabled, paused intervals are excluded from the
// duration; when enabled the output kept rolling through pauses, so
// wall-clock time counts.
func (s *Session) resultLocked() *RecordingResult {
	elapsed := s.stoppedAt.Sub(s.startedAt)
	if !s.opts.BlankScreenOnPause {
		elapsed -= s.pausedTotal
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return &RecordingResult{
		SessionID:  s.id,
		OutputPath: s.opts.OutputPath,
		Duration:   int64(elapsed.Round(time.Second) / time.Second),
		Profile:    s.opts.Profile,
		StartedAt:  s.startedAt.UnixMilli(),
		StoppedAt:  s.stoppedAt.UnixMilli(),
	}
}

// SetQuality changes the bitrate bounds of a live session. It is valid in
// RECORDING or PAUSED. Non-positive bounds are skipped; an inverted pair
// is swapped before applying. The applied values are reflected in
// Options().
func (s *Session) SetQuality(ctx context.Context, minKbps, maxKbps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording && s.state != StatePaused {
		return fmt.Errorf("%w: cannot change quality of session %s in state %s", ErrInvalidState, s.id, s.state)
	}

	if minKbps > 0 && maxKbps > 0 && minKbps > maxKbps {
		minKbps, maxKbps = maxKbps, minKbps
	}
	if err := s.signaling.SetQualityParameters(ctx, minKbps, maxKbps); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}

	if minKbps > 0 {
		s.opts.MinBitrate = minKbps
	}
	if maxKbps > 0 {
		s.opts.MaxBitrate = maxKbps
	}
	s.emit(QualityChangedEvent{SessionID: s.id, MinBitrate: s.opts.MinBitrate, MaxBitrate: s.opts.MaxBitrate})
	return nil
}

// Release best-effort tears down the session's server-side resources:
// blank screen, endpoints and finally the pipeline. Only a pipeline
// release failure is reported.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoints.ReleaseEndpoints(ctx)
	if err := s.pipeline.Release(ctx); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	return nil
}

// Paused reports which sub-streams are currently muted.
func (s *Session) Paused() (audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioMuted, s.videoMuted
}
