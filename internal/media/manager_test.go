package media

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// fakeTrack is an in-memory Track for tests
type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    TrackKind
	enabled bool
	stopped bool
	onEnded func(error)
}

func newFakeTrack(kind TrackKind) *fakeTrack {
	return &fakeTrack{id: uuid.New().String(), kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string      { return t.id }
func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) OnEnded(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = handler
}

// fakeSource is an in-memory DeviceSource for tests
type fakeSource struct {
	mu       sync.Mutex
	err      error
	acquired []*fakeTrack
}

func (s *fakeSource) UserMedia(_ context.Context, c Constraints) ([]Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var tracks []Track
	if c.Audio {
		t := newFakeTrack(TrackKindAudio)
		s.acquired = append(s.acquired, t)
		tracks = append(tracks, t)
	}
	if c.Video {
		t := newFakeTrack(TrackKindVideo)
		s.acquired = append(s.acquired, t)
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (s *fakeSource) DisplayMedia(_ context.Context) (Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t := newFakeTrack(TrackKindScreen)
	s.acquired = append(s.acquired, t)
	return t, nil
}

func testKey() StreamKey {
	return domain.ParticipantKey{CallID: uuid.New(), UserID: uuid.New()}
}

func TestAcquire_VideoConstraints(t *testing.T) {
	source := &fakeSource{}
	mgr := NewManager(source)

	c := ConstraintsForCall(domain.CallTypeVideo, domain.QualityStandard)
	stream, err := mgr.Acquire(context.Background(), testKey(), c)

	assert.NoError(t, err)
	assert.Len(t, stream.Tracks(), 2)
	assert.Len(t, stream.TracksOfKind(TrackKindAudio), 1)
	assert.Len(t, stream.TracksOfKind(TrackKindVideo), 1)
}

func TestAcquire_VoiceIsAudioOnly(t *testing.T) {
	source := &fakeSource{}
	mgr := NewManager(source)

	c := ConstraintsForCall(domain.CallTypeVoice, domain.QualityStandard)
	stream, err := mgr.Acquire(context.Background(), testKey(), c)

	assert.NoError(t, err)
	assert.Len(t, stream.Tracks(), 1)
	assert.Empty(t, stream.TracksOfKind(TrackKindVideo))
}

func TestAcquire_DeviceUnavailable(t *testing.T) {
	source := &fakeSource{err: errors.New("camera busy")}
	mgr := NewManager(source)

	stream, err := mgr.Acquire(context.Background(), testKey(), Constraints{Audio: true})

	assert.Nil(t, stream)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDeviceUnavailable))
	assert.Equal(t, 0, mgr.ActiveStreams())
}

func TestAcquire_DuplicateKeyConflicts(t *testing.T) {
	source := &fakeSource{}
	mgr := NewManager(source)
	key := testKey()

	_, err := mgr.Acquire(context.Background(), key, Constraints{Audio: true})
	assert.NoError(t, err)

	_, err = mgr.Acquire(context.Background(), key, Constraints{Audio: true})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
	assert.Equal(t, 1, mgr.ActiveStreams())
}

func TestRelease_StopsAllTracks(t *testing.T) {
	source := &fakeSource{}
	mgr := NewManager(source)
	key := testKey()

	stream, err := mgr.Acquire(context.Background(), key, Constraints{Audio: true, Video: true})
	assert.NoError(t, err)
	assert.Equal(t, 2, stream.LiveTracks())

	mgr.Release(key)

	assert.Equal(t, 0, stream.LiveTracks())
	assert.Equal(t, 0, mgr.ActiveStreams())
	for _, track := range source.acquired {
		assert.True(t, track.Stopped())
	}
}

func TestRelease_UnknownKeyIsNoOp(t *testing.T) {
	mgr := NewManager(&fakeSource{})

	// Must not panic or error
	mgr.Release(testKey())
	mgr.Release(testKey())

	assert.Equal(t, 0, mgr.ActiveStreams())
}

func TestAcquireScreen_AttachedToStream(t *testing.T) {
	source := &fakeSource{}
	mgr := NewManager(source)
	key := testKey()

	stream, err := mgr.Acquire(context.Background(), key, Constraints{Audio: true, Video: true})
	assert.NoError(t, err)

	screen, err := mgr.AcquireScreen(context.Background(), key)
	assert.NoError(t, err)
	assert.Equal(t, TrackKindScreen, screen.Kind())
	assert.Equal(t, 3, stream.LiveTracks())

	// Screen track is owned by the stream: released with it
	mgr.Release(key)
	assert.True(t, screen.(*fakeTrack).Stopped())
}

func TestAcquireScreen_NoStream(t *testing.T) {
	mgr := NewManager(&fakeSource{})

	_, err := mgr.AcquireScreen(context.Background(), testKey())

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestToggleAudio(t *testing.T) {
	source := &fakeSource{}
	mgr := NewManager(source)
	key := testKey()

	stream, err := mgr.Acquire(context.Background(), key, Constraints{Audio: true})
	assert.NoError(t, err)

	enabled, ok := stream.ToggleAudio()
	assert.True(t, ok)
	assert.False(t, enabled)

	enabled, ok = stream.ToggleAudio()
	assert.True(t, ok)
	assert.True(t, enabled)
}

func TestToggleVideo_NoVideoTrack(t *testing.T) {
	source := &fakeSource{}
	mgr := NewManager(source)
	key := testKey()

	stream, err := mgr.Acquire(context.Background(), key, Constraints{Audio: true})
	assert.NoError(t, err)

	_, ok := stream.ToggleVideo()
	assert.False(t, ok)
}
