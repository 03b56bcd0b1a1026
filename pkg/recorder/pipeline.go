package recorder

import (
	"context"
	"fmt"
	"sync"
)

// MediaKind scopes a connection between two elements to one media kind.
type MediaKind int

const (
	// KindBoth connects audio and video.
	KindBoth MediaKind = iota

	// KindAudio connects only the audio track.
	KindAudio

	// KindVideo connects only the video track.
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "both"
	}
}

// serverName returns the media server's wire name for the kind. KindBoth
// maps to the empty string, which the server interprets as all tracks.
func (k MediaKind) serverName() string {
	switch k {
	case KindAudio:
		return "AUDIO"
	case KindVideo:
		return "VIDEO"
	default:
		return ""
	}
}

// edge is one directed connection in the server-side graph, tracked at
// single-kind granularity so disconnects are deterministic locally even
// though the server's disconnect is best-effort.
type edge struct {
	source string
	sink   string
	kind   MediaKind
}

// Pipeline represents one server-side processing graph. A pipeline is
// owned by exactly one session for that session's lifetime.
//
// Elements are created through the pipeline and registered under logical
// names for later lookup. The pipeline mirrors the graph's connection
// edges in local state.
type Pipeline struct {
	transport Transport
	logger    Logger

	mu       sync.Mutex
	id       string
	released bool
	elements map[string]Element
	edges    map[edge]struct{}
}

// NewPipeline creates an un-initialized pipeline handle. Initialize must
// be called before elements can be created.
func NewPipeline(transport Transport, logger Logger) *Pipeline {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Pipeline{
		transport: transport,
		logger:    logger,
		elements:  make(map[string]Element),
		edges:     make(map[edge]struct{}),
	}
}

// ID returns the server object id, or "" before initialization.
func (p *Pipeline) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Initialize creates the server-side graph. Calling it again after a
// successful creation is a no-op.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrPipelineUnavailable
	}
	if p.id != "" {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	id, err := createObject(ctx, p.transport, "MediaPipeline", nil)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
	p.logger.Debug("Pipeline created", "pipelineID", id)
	return nil
}

// available reports whether element operations are currently allowed.
func (p *Pipeline) available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id != "" && !p.released
}

// CreateElement creates a server element of the given kind inside this
// pipeline and registers it under name. It fails with
// ErrPipelineUnavailable unless the pipeline is initialized and not
// released.
func (p *Pipeline) CreateElement(ctx context.Context, name, kind string, params map[string]interface{}) (string, error) {
	if !p.available() {
		return "", ErrPipelineUnavailable
	}

	merged := map[string]interface{}{"mediaPipeline": p.ID()}
	for k, v := range params {
		merged[k] = v
	}
	objectID, err := createObject(ctx, p.transport, kind, merged)
	if err != nil {
		return "", fmt.Errorf("failed to create %s %q: %w", kind, name, err)
	}
	p.logger.Debug("Element created", "name", name, "kind", kind, "objectID", objectID)
	return objectID, nil
}

// register records an element under its logical name.
func (p *Pipeline) register(el Element) {
	p.mu.Lock()
	p.elements[el.Name()] = el
	p.mu.Unlock()
}

// Element looks up a registered element by logical name.
func (p *Pipeline) Element(name string) (Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[name]
	return el, ok
}

// Connect wires source into sink for the given media kind and records the
// resulting edges locally.
func (p *Pipeline) Connect(ctx context.Context, source, sink Element, kind MediaKind) error {
	if !p.available() {
		return ErrPipelineUnavailable
	}

	params := map[string]interface{}{"sink": sink.ObjectID()}
	if mt := kind.serverName(); mt != "" {
		params["mediaType"] = mt
	}
	if _, err := invokeObject(ctx, p.transport, source.ObjectID(), "connect", params); err != nil {
		return fmt.Errorf("failed to connect %s -> %s (%s): %w", source.Name(), sink.Name(), kind, err)
	}

	p.mu.Lock()
	for _, k := range kind.tracks() {
		p.edges[edge{source: source.ObjectID(), sink: sink.ObjectID(), kind: k}] = struct{}{}
	}
	p.mu.Unlock()
	return nil
}

// tracks expands KindBoth into its single-kind edges.
func (k MediaKind) tracks() []MediaKind {
	if k == KindBoth {
		return []MediaKind{KindAudio, KindVideo}
	}
	return []MediaKind{k}
}

// Disconnect removes the edge between source and sink for the given media
// kind. The local edge is dropped unconditionally so the graph model stays
// deterministic; the server round-trip error, if any, is returned for the
// caller to log since the server has no guaranteed disconnect primitive.
func (p *Pipeline) Disconnect(ctx context.Context, source, sink Element, kind MediaKind) error {
	if !p.available() {
		return ErrPipelineUnavailable
	}

	p.mu.Lock()
	for _, k := range kind.tracks() {
		delete(p.edges, edge{source: source.ObjectID(), sink: sink.ObjectID(), kind: k})
	}
	p.mu.Unlock()

	params := map[string]interface{}{"sink": sink.ObjectID()}
	if mt := kind.serverName(); mt != "" {
		params["mediaType"] = mt
	}
	if _, err := invokeObject(ctx, p.transport, source.ObjectID(), "disconnect", params); err != nil {
		return fmt.Errorf("failed to disconnect %s -> %s (%s): %w", source.Name(), sink.Name(), kind, err)
	}
	return nil
}

// Connected reports whether an edge exists in the local graph model.
func (p *Pipeline) Connected(source, sink Element, kind MediaKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range kind.tracks() {
		if _, ok := p.edges[edge{source: source.ObjectID(), sink: sink.ObjectID(), kind: k}]; !ok {
			return false
		}
	}
	return true
}

// Release tears down the graph and all its elements atomically on the
// server. It is idempotent; further element operations fail with
// ErrPipelineUnavailable.
func (p *Pipeline) Release(ctx context.Context) error {
	p.mu.Lock()
	if p.released || p.id == "" {
		p.released = true
		p.mu.Unlock()
		return nil
	}
	id := p.id
	p.released = true
	p.elements = make(map[string]Element)
	p.edges = make(map[edge]struct{})
	p.mu.Unlock()

	if err := releaseObject(ctx, p.transport, id); err != nil {
		return fmt.Errorf("failed to release pipeline %s: %w", id, err)
	}
	p.logger.Debug("Pipeline released", "pipelineID", id)
	return nil
}
