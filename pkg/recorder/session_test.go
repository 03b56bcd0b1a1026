package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvers-hub/recording-sdk/internal/test/mocks"
)

// eventSink records emitted events for assertions
type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) byName(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Event
	for _, ev := range s.events {
		if ev.Name() == name {
			matched = append(matched, ev)
		}
	}
	return matched
}

func (s *eventSink) count(name string) int {
	return len(s.byName(name))
}

// sessionFixture drives a session with a controllable clock
type sessionFixture struct {
	session   *Session
	transport *mocks.MockTransport
	logger    *mocks.MockLogger
	sink      *eventSink
	now       time.Time
}

func newSessionFixture(t *testing.T, opts SessionOptions) *sessionFixture {
	t.Helper()
	normalized, err := normalizeOptions(opts)
	require.NoError(t, err)

	f := &sessionFixture{
		transport: mocks.NewMockTransport(),
		logger:    mocks.NewMockLogger(),
		sink:      &eventSink{},
		now:       time.UnixMilli(1_700_000_000_000),
	}
	f.session = newSession(normalized, f.transport, f.logger, f.sink.handle)
	f.session.clock = func() time.Time { return f.now }
	return f
}

func (f *sessionFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *sessionFixture) negotiate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.session.Initialize(ctx))
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	answer, err := f.session.ProcessOffer(ctx, offer)
	require.NoError(t, err)
	require.NotEmpty(t, answer.SDP)
}

func (f *sessionFixture) record(t *testing.T) {
	t.Helper()
	f.negotiate(t)
	require.NoError(t, f.session.Start(context.Background()))
}

// TestSessionLifecycle tests the happy path through the state machine
func TestSessionLifecycle(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{ID: "lifecycle"})
	ctx := context.Background()

	assert.Equal(t, StateCreated, f.session.State())
	require.NoError(t, f.session.Initialize(ctx))
	assert.Equal(t, StateReady, f.session.State())

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	_, err := f.session.ProcessOffer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, StateReady, f.session.State())
	assert.Equal(t, 1, f.transport.CallCount("invoke:processOffer"))
	assert.Equal(t, 1, f.transport.CallCount("invoke:gatherCandidates"))
	assert.Equal(t, 1, f.transport.CallCount("invoke:setMinVideoSendBandwidth"))
	assert.Equal(t, 1, f.transport.CallCount("invoke:setMaxVideoSendBandwidth"))

	require.NoError(t, f.session.Start(ctx))
	assert.Equal(t, StateRecording, f.session.State())
	assert.Equal(t, 1, f.sink.count("recording-started"))

	f.advance(30 * time.Second)
	result, err := f.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, f.session.State())
	require.NotNil(t, result)
	assert.Equal(t, "lifecycle", result.SessionID)
	assert.Equal(t, int64(30), result.Duration)
	assert.Equal(t, result.StartedAt+30_000, result.StoppedAt)
	assert.Equal(t, 1, f.sink.count("recording-stopped"))
}

// TestSessionStartRequiresNegotiation tests the recording invariant
func TestSessionStartRequiresNegotiation(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	require.NoError(t, f.session.Initialize(ctx))

	err := f.session.Start(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, f.transport.CallCount("invoke:record"))
}

// TestSessionInvalidTransitions tests state guards
func TestSessionInvalidTransitions(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}

	// Before initialization nothing but Initialize is valid.
	_, err := f.session.ProcessOffer(ctx, offer)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, f.session.Pause(ctx, PauseBoth), ErrInvalidState)
	assert.ErrorIs(t, f.session.Resume(ctx, PauseBoth), ErrInvalidState)
	_, err = f.session.Stop(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)

	f.record(t)

	// Pausing twice is rejected.
	require.NoError(t, f.session.Pause(ctx, PauseVideo))
	assert.ErrorIs(t, f.session.Pause(ctx, PauseVideo), ErrInvalidState)

	// A stopped session accepts no further transitions.
	_, err = f.session.Stop(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, f.session.Start(ctx), ErrInvalidState)
	assert.ErrorIs(t, f.session.Pause(ctx, PauseBoth), ErrInvalidState)
}

// TestSessionPauseResumeBoth tests the full pause/resume round trip
func TestSessionPauseResumeBoth(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	f.record(t)

	require.NoError(t, f.session.Pause(ctx, PauseBoth))
	assert.Equal(t, StatePaused, f.session.State())
	audio, video := f.session.Paused()
	assert.True(t, audio)
	assert.True(t, video)

	f.advance(5 * time.Second)
	require.NoError(t, f.session.Resume(ctx, PauseBoth))
	assert.Equal(t, StateRecording, f.session.State())
	audio, video = f.session.Paused()
	assert.False(t, audio)
	assert.False(t, video)

	resumed := f.sink.byName("resumed")
	require.Len(t, resumed, 1)
	assert.Equal(t, 5*time.Second, resumed[0].(ResumedEvent).PauseDuration)
}

// TestSessionPartialResumeStaysPaused tests that resuming one kind keeps the
// session paused while the other remains muted
func TestSessionPartialResumeStaysPaused(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	f.record(t)

	require.NoError(t, f.session.Pause(ctx, PauseBoth))
	f.advance(2 * time.Second)

	require.NoError(t, f.session.Resume(ctx, PauseVideo))
	assert.Equal(t, StatePaused, f.session.State())
	audio, video := f.session.Paused()
	assert.True(t, audio)
	assert.False(t, video)

	f.advance(3 * time.Second)
	require.NoError(t, f.session.Resume(ctx, ""))
	assert.Equal(t, StateRecording, f.session.State())
	audio, video = f.session.Paused()
	assert.False(t, audio)
	assert.False(t, video)
}

// TestSessionDurationExcludesPauses tests duration accounting without
// blank-screen substitution
func TestSessionDurationExcludesPauses(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	f.record(t)

	f.advance(10 * time.Second)
	require.NoError(t, f.session.Pause(ctx, PauseBoth))
	f.advance(5 * time.Second)
	require.NoError(t, f.session.Resume(ctx, ""))
	f.advance(15 * time.Second)

	result, err := f.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), result.Duration)
}

// TestSessionDurationCountsPausesWithBlankScreen tests duration accounting
// with blank-screen substitution: the paused interval still records
func TestSessionDurationCountsPausesWithBlankScreen(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{BlankScreenOnPause: true})
	ctx := context.Background()
	f.record(t)

	f.advance(10 * time.Second)
	require.NoError(t, f.session.Pause(ctx, PauseBoth))
	f.advance(5 * time.Second)
	require.NoError(t, f.session.Resume(ctx, ""))
	f.advance(15 * time.Second)

	result, err := f.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), result.Duration)
}

// TestSessionStopWhilePausedAccountsOutstandingPause tests that the open
// pause interval is closed on stop
func TestSessionStopWhilePausedAccountsOutstandingPause(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	f.record(t)

	f.advance(10 * time.Second)
	require.NoError(t, f.session.Pause(ctx, PauseBoth))
	f.advance(7 * time.Second)

	result, err := f.session.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Duration)
}

// TestSessionBlankScreenInsertedOnVideoPause tests the substitution flow
func TestSessionBlankScreenInsertedOnVideoPause(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{BlankScreenOnPause: true})
	ctx := context.Background()
	f.record(t)

	require.NoError(t, f.session.Pause(ctx, PauseVideo))
	assert.Equal(t, 1, f.transport.CallCount("create:BlankScreenSource"))
	assert.True(t, f.session.endpoints.BlankScreenActive())

	require.NoError(t, f.session.Resume(ctx, PauseVideo))
	assert.False(t, f.session.endpoints.BlankScreenActive())
	assert.Equal(t, StateRecording, f.session.State())
}

// TestSessionAudioPauseSkipsBlankScreen tests that audio-only pauses never
// insert the substitute
func TestSessionAudioPauseSkipsBlankScreen(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{BlankScreenOnPause: true})
	ctx := context.Background()
	f.record(t)

	require.NoError(t, f.session.Pause(ctx, PauseAudio))
	assert.Zero(t, f.transport.CallCount("create:BlankScreenSource"))
}

// TestSessionBlankScreenRemovedOnStop tests stop while the substitute is active
func TestSessionBlankScreenRemovedOnStop(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{BlankScreenOnPause: true})
	ctx := context.Background()
	f.record(t)

	f.advance(10 * time.Second)
	require.NoError(t, f.session.Pause(ctx, PauseBoth))
	f.advance(5 * time.Second)

	result, err := f.session.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, f.session.endpoints.BlankScreenActive())
	assert.Equal(t, int64(15), result.Duration)
}

// TestSessionSetQuality tests the quality round trip into Options
func TestSessionSetQuality(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	f.record(t)

	require.NoError(t, f.session.SetQuality(ctx, 800, 2500))
	opts := f.session.Options()
	assert.Equal(t, 800, opts.MinBitrate)
	assert.Equal(t, 2500, opts.MaxBitrate)
	assert.Equal(t, 1, f.sink.count("quality-changed"))

	// Inverted bounds are swapped before applying.
	require.NoError(t, f.session.SetQuality(ctx, 3000, 1000))
	opts = f.session.Options()
	assert.Equal(t, 1000, opts.MinBitrate)
	assert.Equal(t, 3000, opts.MaxBitrate)
}

// TestSessionSetQualityInvalidState tests the state guard
func TestSessionSetQualityInvalidState(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	require.NoError(t, f.session.Initialize(context.Background()))
	assert.ErrorIs(t, f.session.SetQuality(context.Background(), 500, 1000), ErrInvalidState)
}

// TestSessionProcessOfferFailure tests that negotiation failures move the
// session to FAILED and are reported
func TestSessionProcessOfferFailure(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	require.NoError(t, f.session.Initialize(ctx))

	f.transport.FailOn("invoke:processOffer", &Error{Code: "SDP_ERROR", Message: "bad offer"})
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	_, err := f.session.ProcessOffer(ctx, offer)
	require.Error(t, err)
	assert.Equal(t, StateFailed, f.session.State())
	assert.Equal(t, 1, f.sink.count("error"))

	// Stop from FAILED is tolerated as best-effort cleanup.
	result, err := f.session.Stop(ctx)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StateStopped, f.session.State())
}

// TestSessionReleaseReportsPipelineFailure tests that only the pipeline
// release error surfaces
func TestSessionReleaseReportsPipelineFailure(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	f.record(t)

	f.transport.FailOn("release", &Error{Code: "SERVER_ERROR", Message: "broken"})
	err := f.session.Release(ctx)
	require.Error(t, err)
	// Endpoint release failures were logged, not returned.
	assert.True(t, f.logger.HasMessage("WARN", "Failed to release recorder element"))
}

// TestSessionDurationNonNegative tests that duration never goes below zero
func TestSessionDurationNonNegative(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	f.record(t)

	result, err := f.session.Stop(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Duration, int64(0))
}

// TestSessionCandidateBufferingThroughSession tests candidates added before
// negotiation are flushed into the ingress afterwards
func TestSessionCandidateBufferingThroughSession(t *testing.T) {
	f := newSessionFixture(t, SessionOptions{})
	ctx := context.Background()
	require.NoError(t, f.session.Initialize(ctx))

	require.NoError(t, f.session.AddICECandidate(ctx, candidate("candidate:early")))
	assert.Zero(t, f.transport.CallCount("invoke:addIceCandidate"))

	f.negotiateExisting(t)
	assert.Equal(t, 1, f.transport.CallCount("invoke:addIceCandidate"))

	require.NoError(t, f.session.AddICECandidate(ctx, candidate("candidate:late")))
	assert.Equal(t, 2, f.transport.CallCount("invoke:addIceCandidate"))
}

// negotiateExisting processes an offer on an already-initialized session.
func (f *sessionFixture) negotiateExisting(t *testing.T) {
	t.Helper()
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	_, err := f.session.ProcessOffer(context.Background(), offer)
	require.NoError(t, err)
}
