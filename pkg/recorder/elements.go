package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Element is a server-side graph node addressable by object id.
type Element interface {
	// Name is the logical name the element is registered under.
	Name() string

	// ObjectID is the server-assigned object id.
	ObjectID() string
}

// Connectable is an element whose output can be wired into a sink,
// optionally scoped to one media kind.
type Connectable interface {
	Element
	Connect(ctx context.Context, sink Element, kind MediaKind) error
	Disconnect(ctx context.Context, sink Element, kind MediaKind) error
}

// Releasable is an element that can be released. Release is idempotent.
type Releasable interface {
	Element
	Release(ctx context.Context) error
}

// Recordable is an element that writes media to durable storage.
type Recordable interface {
	Element
	Record(ctx context.Context) error
	StopRecording(ctx context.Context) error
	RecorderState(ctx context.Context) (string, error)
}

// NegotiableEndpoint is an element that terminates a peer connection and
// takes part in offer/answer and ICE negotiation.
type NegotiableEndpoint interface {
	Element
	ProcessOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	GatherCandidates(ctx context.Context) error
	AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
	SetMinVideoSendBandwidth(ctx context.Context, kbps int) error
	SetMaxVideoSendBandwidth(ctx context.Context, kbps int) error
}

// baseElement carries the identity and the shared connect/release plumbing
// of every concrete element kind.
type baseElement struct {
	pipeline *Pipeline
	name     string
	objectID string

	releaseMu sync.Mutex
	released  bool
}

func (e *baseElement) Name() string     { return e.name }
func (e *baseElement) ObjectID() string { return e.objectID }

func (e *baseElement) Connect(ctx context.Context, sink Element, kind MediaKind) error {
	return e.pipeline.Connect(ctx, e, sink, kind)
}

func (e *baseElement) Disconnect(ctx context.Context, sink Element, kind MediaKind) error {
	return e.pipeline.Disconnect(ctx, e, sink, kind)
}

// Release releases the element on the server. Repeated calls are no-ops.
func (e *baseElement) Release(ctx context.Context) error {
	e.releaseMu.Lock()
	if e.released {
		e.releaseMu.Unlock()
		return nil
	}
	e.released = true
	e.releaseMu.Unlock()

	if err := releaseObject(ctx, e.pipeline.transport, e.objectID); err != nil {
		return fmt.Errorf("failed to release %s: %w", e.name, err)
	}
	return nil
}

func (e *baseElement) invoke(ctx context.Context, operation string, params map[string]interface{}) (json.RawMessage, error) {
	return invokeObject(ctx, e.pipeline.transport, e.objectID, operation, params)
}

// WebRTCIngress is the ingress element: it receives the live media stream
// from the remote peer and exposes the negotiation surface.
type WebRTCIngress struct {
	baseElement
}

// newWebRTCIngress creates the ingress element with the given media
// constraints and registers it in the pipeline.
func newWebRTCIngress(ctx context.Context, p *Pipeline, name string, useAudio, useVideo bool) (*WebRTCIngress, error) {
	objectID, err := p.CreateElement(ctx, name, "WebRtcEndpoint", map[string]interface{}{
		"useAudio": useAudio,
		"useVideo": useVideo,
	})
	if err != nil {
		return nil, err
	}
	el := &WebRTCIngress{baseElement{pipeline: p, name: name, objectID: objectID}}
	p.register(el)
	return el, nil
}

// ProcessOffer forwards the peer's SDP offer to the server and returns the
// generated answer.
func (e *WebRTCIngress) ProcessOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	raw, err := e.invoke(ctx, "processOffer", map[string]interface{}{"offer": offer.SDP})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	var sdp string
	if err := json.Unmarshal(raw, &sdp); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to decode answer: %w", err)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}, nil
}

// GatherCandidates triggers local ICE candidate collection on the server.
func (e *WebRTCIngress) GatherCandidates(ctx context.Context) error {
	_, err := e.invoke(ctx, "gatherCandidates", nil)
	return err
}

// AddICECandidate forwards one remote ICE candidate to the server.
func (e *WebRTCIngress) AddICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	params := map[string]interface{}{
		"candidate": candidate.Candidate,
	}
	if candidate.SDPMid != nil {
		params["sdpMid"] = *candidate.SDPMid
	}
	if candidate.SDPMLineIndex != nil {
		params["sdpMLineIndex"] = *candidate.SDPMLineIndex
	}
	_, err := e.invoke(ctx, "addIceCandidate", params)
	return err
}

// SetMinVideoSendBandwidth sets the lower video bandwidth bound in kbps.
func (e *WebRTCIngress) SetMinVideoSendBandwidth(ctx context.Context, kbps int) error {
	_, err := e.invoke(ctx, "setMinVideoSendBandwidth", map[string]interface{}{"bandwidth": kbps})
	return err
}

// SetMaxVideoSendBandwidth sets the upper video bandwidth bound in kbps.
func (e *WebRTCIngress) SetMaxVideoSendBandwidth(ctx context.Context, kbps int) error {
	_, err := e.invoke(ctx, "setMaxVideoSendBandwidth", map[string]interface{}{"bandwidth": kbps})
	return err
}

// RecorderSink is the recording element: it writes incoming media to the
// target URI in the configured container profile.
type RecorderSink struct {
	baseElement
}

// newRecorderSink creates the recorder element and registers it in the
// pipeline.
func newRecorderSink(ctx context.Context, p *Pipeline, name, uri string, profile MediaProfile, maxBitrate int) (*RecorderSink, error) {
	objectID, err := p.CreateElement(ctx, name, "RecorderEndpoint", map[string]interface{}{
		"uri":               uri,
		"mediaProfile":      string(profile),
		"maxBitrate":        maxBitrate,
		"stopOnEndOfStream": true,
	})
	if err != nil {
		return nil, err
	}
	el := &RecorderSink{baseElement{pipeline: p, name: name, objectID: objectID}}
	p.register(el)
	return el, nil
}

// Record starts writing media to the target.
func (e *RecorderSink) Record(ctx context.Context) error {
	_, err := e.invoke(ctx, "record", nil)
	return err
}

// StopRecording stops writing and finalizes the output file.
func (e *RecorderSink) StopRecording(ctx context.Context) error {
	_, err := e.invoke(ctx, "stop", nil)
	return err
}

// RecorderState returns the server-side recorder state.
func (e *RecorderSink) RecorderState(ctx context.Context) (string, error) {
	raw, err := e.invoke(ctx, "getState", nil)
	if err != nil {
		return "", err
	}
	var state string
	if err := json.Unmarshal(raw, &state); err != nil {
		return "", fmt.Errorf("failed to decode recorder state: %w", err)
	}
	return state, nil
}

// BlankSource is a placeholder video source connected in place of the live
// ingress while video is paused.
type BlankSource struct {
	baseElement
}

// newBlankSource creates the blank-screen element and registers it in the
// pipeline.
func newBlankSource(ctx context.Context, p *Pipeline, name, color string, width, height, frameRate int) (*BlankSource, error) {
	objectID, err := p.CreateElement(ctx, name, "BlankScreenSource", map[string]interface{}{
		"color":     color,
		"width":     width,
		"height":    height,
		"frameRate": frameRate,
	})
	if err != nil {
		return nil, err
	}
	el := &BlankSource{baseElement{pipeline: p, name: name, objectID: objectID}}
	p.register(el)
	return el, nil
}
