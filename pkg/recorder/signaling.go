package recorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// SignalingHandler drives the offer/answer and ICE-candidate exchange
// against a session's ingress element and applies bitrate constraints.
//
// Candidates arriving before the ingress element exists are buffered and
// flushed, in arrival order, once an element is attached.
type SignalingHandler struct {
	mu         sync.Mutex
	endpoint   NegotiableEndpoint
	buffered   []webrtc.ICECandidateInit
	negotiated bool
	logger     Logger
}

// NewSignalingHandler creates a handler with no endpoint attached.
func NewSignalingHandler(logger Logger) *SignalingHandler {
	if logger == nil {
		logger = defaultLogger()
	}
	return &SignalingHandler{logger: logger}
}

// AttachEndpoint sets the ingress element and flushes any buffered ICE
// candidates in their original order. Candidates that fail to apply are
// logged individually and do not block the remaining ones.
func (s *SignalingHandler) AttachEndpoint(ctx context.Context, endpoint NegotiableEndpoint) {
	s.mu.Lock()
	s.endpoint = endpoint
	pending := s.buffered
	s.buffered = nil
	s.mu.Unlock()

	for _, candidate := range pending {
		if err := endpoint.AddICECandidate(ctx, candidate); err != nil {
			s.logger.Warn("Failed to apply buffered ICE candidate", "candidate", candidate.Candidate, "error", err)
		}
	}
}

// ProcessOffer forwards the peer's offer to the ingress element and
// returns the typed answer. It fails with ErrEndpointUnavailable when no
// endpoint is attached.
func (s *SignalingHandler) ProcessOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	endpoint := s.endpoint
	s.mu.Unlock()
	if endpoint == nil {
		return webrtc.SessionDescription{}, ErrEndpointUnavailable
	}

	answer, err := endpoint.ProcessOffer(ctx, offer)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to process offer: %w", err)
	}

	s.mu.Lock()
	s.negotiated = true
	s.mu.Unlock()
	return answer, nil
}

// Negotiated reports whether an offer has been processed successfully.
func (s *SignalingHandler) Negotiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated
}

// GatherCandidates triggers local candidate collection on the ingress
// element.
func (s *SignalingHandler) GatherCandidates(ctx context.Context) error {
	s.mu.Lock()
	endpoint := s.endpoint
	s.mu.Unlock()
	if endpoint == nil {
		return ErrEndpointUnavailable
	}
	return endpoint.GatherCandidates(ctx)
}

// AddICECandidate forwards the candidate immediately when an endpoint is
// attached; otherwise the candidate is buffered for the next attach.
func (s *SignalingHandler) AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	endpoint := s.endpoint
	if endpoint == nil {
		s.buffered = append(s.buffered, candidate)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return endpoint.AddICECandidate(ctx, candidate)
}

// BufferedCandidates returns the number of candidates waiting for an
// endpoint.
func (s *SignalingHandler) BufferedCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffered)
}

// SetQualityParameters applies the bitrate bounds (kbps) to the ingress
// element. Each bound is applied independently; a zero bound is skipped,
// not set to zero.
func (s *SignalingHandler) SetQualityParameters(ctx context.Context, minKbps, maxKbps int) error {
	s.mu.Lock()
	endpoint := s.endpoint
	s.mu.Unlock()
	if endpoint == nil {
		return ErrEndpointUnavailable
	}

	if minKbps > 0 {
		if err := endpoint.SetMinVideoSendBandwidth(ctx, minKbps); err != nil {
			return fmt.Errorf("failed to set min bandwidth: %w", err)
		}
	}
	if maxKbps > 0 {
		if err := endpoint.SetMaxVideoSendBandwidth(ctx, maxKbps); err != nil {
			return fmt.Errorf("failed to set max bandwidth: %w", err)
		}
	}
	return nil
}
