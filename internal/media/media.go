// Package media owns the lifecycle of local capture resources. Tracks are
// acquired through an abstract DeviceSource so the call core never touches a
// platform capture API directly; the pion subpackage provides the real one.
package media

import (
	"context"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
)

// TrackKind represents the capture source behind a track
type TrackKind string

const (
	TrackKindAudio  TrackKind = "audio"
	TrackKindVideo  TrackKind = "video"
	TrackKindScreen TrackKind = "screen"
)

// Track is a single local device track. Implementations must tolerate Stop
// being called more than once.
type Track interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop() error
	// OnEnded registers a handler fired when the underlying source ends on
	// its own, e.g. a screen-capture source revoked by the OS or user.
	OnEnded(handler func(error))
}

// Constraints describes the tracks to acquire and their target capture
// parameters. Width/Height/FrameRate are ignored when Video is false.
type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int
}

// ConstraintsForCall derives capture constraints from a call's type and
// quality tier: audio-only for voice, audio+video with a target resolution
// and frame-rate for video.
func ConstraintsForCall(callType domain.CallType, quality domain.QualityTier) Constraints {
	c := Constraints{Audio: true}
	if callType != domain.CallTypeVideo {
		return c
	}

	c.Video = true
	switch quality {
	case domain.QualityLow:
		c.Width, c.Height, c.FrameRate = 640, 360, 15
	case domain.QualityHigh:
		c.Width, c.Height, c.FrameRate = 1920, 1080, 30
	default:
		c.Width, c.Height, c.FrameRate = 1280, 720, 30
	}
	return c
}

// DeviceSource is the platform capture boundary. Acquisition failures are
// returned as-is; the Manager wraps them as DEVICE_UNAVAILABLE.
type DeviceSource interface {
	// UserMedia acquires camera/microphone tracks matching the constraints.
	UserMedia(ctx context.Context, c Constraints) ([]Track, error)
	// DisplayMedia acquires a screen-capture track.
	DisplayMedia(ctx context.Context) (Track, error)
}

// StreamKey identifies a stream within the manager. Aliased so call-side
// code reads naturally.
type StreamKey = domain.ParticipantKey
