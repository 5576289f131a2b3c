// Package pion adapts pion/mediadevices capture to the media.DeviceSource
// boundary. Platform drivers register themselves through the blank imports
// in drivers_linux.go; on platforms without drivers every acquisition fails
// and the caller surfaces DEVICE_UNAVAILABLE.
package pion

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/media"
)

// videoBitRate is the VP8 encoder target, matching a 720p30 capture
const videoBitRate = 1_500_000

// Source captures local devices via pion/mediadevices
type Source struct {
	selector *mediadevices.CodecSelector
}

// NewSource builds a Source with a VP8+Opus codec selector
func NewSource() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	return &Source{selector: selector}, nil
}

// CodecSelector exposes the selector so the peer factory can populate its
// MediaEngine with the same codecs the capture tracks encode to.
func (s *Source) CodecSelector() *mediadevices.CodecSelector {
	return s.selector
}

// UserMedia acquires camera/microphone tracks matching the constraints
func (s *Source) UserMedia(_ context.Context, c media.Constraints) ([]media.Track, error) {
	msc := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if c.Audio {
		msc.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	if c.Video {
		msc.Video = func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.Width = prop.Int(c.Width)
			mtc.Height = prop.Int(c.Height)
			mtc.FrameRate = prop.Float(float64(c.FrameRate))
		}
	}

	stream, err := mediadevices.GetUserMedia(msc)
	if err != nil {
		return nil, fmt.Errorf("getUserMedia failed: %w", err)
	}

	var tracks []media.Track
	for _, t := range stream.GetTracks() {
		kind := media.TrackKindAudio
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			kind = media.TrackKindVideo
		}
		tracks = append(tracks, wrapTrack(t, kind))
	}
	return tracks, nil
}

// DisplayMedia acquires a screen-capture track
func (s *Source) DisplayMedia(_ context.Context) (media.Track, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: s.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("getDisplayMedia failed: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("getDisplayMedia returned no video track")
	}
	return wrapTrack(tracks[0], media.TrackKindScreen), nil
}

// deviceTrack adapts a mediadevices.Track to the media.Track interface.
// mediadevices has no pause API, so the enabled flag is bookkeeping the
// call core reads; the RTP sender keeps running either way.
type deviceTrack struct {
	track mediadevices.Track
	kind  media.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func wrapTrack(t mediadevices.Track, kind media.TrackKind) *deviceTrack {
	return &deviceTrack{track: t, kind: kind, enabled: true}
}

func (t *deviceTrack) ID() string            { return t.track.ID() }
func (t *deviceTrack) Kind() media.TrackKind { return t.kind }

func (t *deviceTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *deviceTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()
	return t.track.Close()
}

func (t *deviceTrack) OnEnded(handler func(error)) {
	t.track.OnEnded(handler)
}

// Unwrap exposes the underlying track for the peer transport, which needs
// a webrtc.TrackLocal to attach to an RTP sender.
func (t *deviceTrack) Unwrap() webrtc.TrackLocal {
	return t.track
}
