package recorder

import (
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// RecordingMode selects which media kinds are captured.
type RecordingMode string

const (
	// ModeAudioVideo records both audio and video. This is the default.
	ModeAudioVideo RecordingMode = "audio-video"

	// ModeAudioOnly records audio only; video is forced off on the ingress.
	ModeAudioOnly RecordingMode = "audio-only"

	// ModeVideoOnly records video only; audio is forced off on the ingress.
	ModeVideoOnly RecordingMode = "video-only"
)

// MediaProfile is the output container/codec preset used by the recorder
// element. The values match the media server's profile names.
type MediaProfile string

const (
	ProfileWebM          MediaProfile = "WEBM"
	ProfileWebMAudioOnly MediaProfile = "WEBM_AUDIO_ONLY"
	ProfileWebMVideoOnly MediaProfile = "WEBM_VIDEO_ONLY"
	ProfileMP4           MediaProfile = "MP4"
	ProfileMP4AudioOnly  MediaProfile = "MP4_AUDIO_ONLY"
	ProfileMP4VideoOnly  MediaProfile = "MP4_VIDEO_ONLY"
)

// fileExtension returns the output file extension for the profile.
func (p MediaProfile) fileExtension() string {
	switch p {
	case ProfileMP4, ProfileMP4AudioOnly, ProfileMP4VideoOnly:
		return "mp4"
	default:
		return "webm"
	}
}

// QualityPreset names a predefined bitrate/frame-rate bundle.
type QualityPreset string

const (
	QualityLow    QualityPreset = "LOW"
	QualityMedium QualityPreset = "MEDIUM"
	QualityHigh   QualityPreset = "HIGH"
	QualityUltra  QualityPreset = "ULTRA"
)

// qualityValues are the bitrate bounds (kbps) and frame rate of a preset.
type qualityValues struct {
	MinBitrate int
	MaxBitrate int
	FrameRate  int
}

var qualityPresets = map[QualityPreset]qualityValues{
	QualityLow:    {MinBitrate: 100, MaxBitrate: 500, FrameRate: 15},
	QualityMedium: {MinBitrate: 300, MaxBitrate: 1500, FrameRate: 24},
	QualityHigh:   {MinBitrate: 1000, MaxBitrate: 4000, FrameRate: 30},
	QualityUltra:  {MinBitrate: 2000, MaxBitrate: 8000, FrameRate: 60},
}

// PauseKind selects which sub-streams a pause or resume applies to.
type PauseKind string

const (
	PauseBoth  PauseKind = "both"
	PauseAudio PauseKind = "audio"
	PauseVideo PauseKind = "video"
)

const (
	defaultWidth            = 1280
	defaultHeight           = 720
	defaultBlankScreenColor = "#000000"
	defaultOutputDir        = "recordings"
)

// SessionOptions configure one recording session. Every field is optional;
// zero values are replaced with defaults during normalization.
type SessionOptions struct {
	// ID uniquely identifies the session. Generated when empty.
	ID string

	// Mode selects which media kinds are recorded. Defaults to ModeAudioVideo.
	Mode RecordingMode

	// Profile is the output container preset. Defaults to a WebM variant
	// matching Mode.
	Profile MediaProfile

	// Quality selects the bitrate/frame-rate preset. Defaults to QualityMedium.
	Quality QualityPreset

	// MinBitrate and MaxBitrate (kbps) override the preset bounds when
	// positive. A non-positive value falls back to the preset value. If the
	// normalized minimum exceeds the maximum, the two are swapped.
	MinBitrate int
	MaxBitrate int

	// HasAudio controls whether audio is captured in audio-video mode.
	// Defaults to true. Ignored in audio-only and video-only modes.
	HasAudio *bool

	// Width and Height are the video dimensions. Default to 1280x720.
	Width  int
	Height int

	// FrameRate overrides the preset frame rate when positive.
	FrameRate int

	// OutputPath is the recording target. Absolute paths are converted to
	// file:// URIs for the server; relative paths and URIs pass through.
	// Defaults to recordings/<id>.<ext>.
	OutputPath string

	// BlankScreenOnPause substitutes a blank video source while video is
	// paused, so the output keeps rolling instead of freezing.
	BlankScreenOnPause bool

	// BlankScreenColor is the substitute source color. Defaults to "#000000".
	BlankScreenColor string
}

// RecordingResult describes a finished recording.
type RecordingResult struct {
	// SessionID identifies the session that produced the recording.
	SessionID string

	// OutputPath is the recording target as supplied in the options.
	OutputPath string

	// Duration is the recorded duration in whole seconds.
	Duration int64

	// Profile is the container preset the recording was written with.
	Profile MediaProfile

	// StartedAt and StoppedAt are epoch milliseconds.
	StartedAt int64
	StoppedAt int64
}

// defaultProfile picks the container preset for a recording mode.
func defaultProfile(mode RecordingMode) MediaProfile {
	switch mode {
	case ModeAudioOnly:
		return ProfileWebMAudioOnly
	case ModeVideoOnly:
		return ProfileWebMVideoOnly
	default:
		return ProfileWebM
	}
}

// alignProfile narrows a full audio+video profile to the variant matching a
// single-kind recording mode, so an audio-only session never asks the
// server for a muxed container.
func alignProfile(profile MediaProfile, mode RecordingMode) MediaProfile {
	switch mode {
	case ModeAudioOnly:
		switch profile {
		case ProfileWebM:
			return ProfileWebMAudioOnly
		case ProfileMP4:
			return ProfileMP4AudioOnly
		}
	case ModeVideoOnly:
		switch profile {
		case ProfileWebM:
			return ProfileWebMVideoOnly
		case ProfileMP4:
			return ProfileMP4VideoOnly
		}
	}
	return profile
}

// normalizeOptions validates opts and fills every default, returning a
// fully-populated copy. The input is not modified.
func normalizeOptions(opts SessionOptions) (SessionOptions, error) {
	out := opts

	if out.ID == "" {
		out.ID = uuid.NewString()
	}

	switch out.Mode {
	case "":
		out.Mode = ModeAudioVideo
	case ModeAudioVideo, ModeAudioOnly, ModeVideoOnly:
	default:
		// Unrecognized modes deliberately pass through: endpoint wiring
		// falls back to connecting both tracks and logs a warning.
	}

	if out.Profile == "" {
		out.Profile = defaultProfile(out.Mode)
	} else {
		out.Profile = alignProfile(out.Profile, out.Mode)
	}

	if out.Quality == "" {
		out.Quality = QualityMedium
	}
	preset, ok := qualityPresets[out.Quality]
	if !ok {
		return out, fmt.Errorf("%w: unknown quality preset %q", ErrInvalidConfiguration, out.Quality)
	}

	if out.MinBitrate <= 0 {
		out.MinBitrate = preset.MinBitrate
	}
	if out.MaxBitrate <= 0 {
		out.MaxBitrate = preset.MaxBitrate
	}
	if out.MinBitrate > out.MaxBitrate {
		out.MinBitrate, out.MaxBitrate = out.MaxBitrate, out.MinBitrate
	}

	if out.HasAudio == nil {
		hasAudio := true
		out.HasAudio = &hasAudio
	}

	if out.Width < 0 || out.Height < 0 {
		return out, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrInvalidConfiguration, out.Width, out.Height)
	}
	if out.Width == 0 {
		out.Width = defaultWidth
	}
	if out.Height == 0 {
		out.Height = defaultHeight
	}

	if out.FrameRate < 0 {
		return out, fmt.Errorf("%w: frame rate must be positive, got %d", ErrInvalidConfiguration, out.FrameRate)
	}
	if out.FrameRate == 0 {
		out.FrameRate = preset.FrameRate
	}

	if out.OutputPath == "" {
		out.OutputPath = path.Join(defaultOutputDir, out.ID+"."+out.Profile.fileExtension())
	}

	if out.BlankScreenColor == "" {
		out.BlankScreenColor = defaultBlankScreenColor
	}

	return out, nil
}

// RegistryConfig configures the session registry.
type RegistryConfig struct {
	// PreserveOnDisconnect keeps server-side resources of active sessions
	// allocated through a transient connection loss instead of stopping
	// every session immediately.
	PreserveOnDisconnect bool

	// MaxReconnectionTime bounds how long preserved sessions wait for the
	// connection to come back. A session whose timer fires is released and
	// removed. Zero preserves sessions indefinitely.
	MaxReconnectionTime time.Duration
}
