package media

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
)

// Manager acquires and releases local capture streams. Each stream is keyed
// by (callID, participantID) and exclusively owned by the call that requested
// it; releasing an unknown key is a no-op so cleanup paths stay idempotent.
type Manager struct {
	source DeviceSource

	mu      sync.RWMutex
	streams map[StreamKey]*Stream
}

// NewManager creates a new media resource manager backed by source
func NewManager(source DeviceSource) *Manager {
	return &Manager{
		source:  source,
		streams: make(map[StreamKey]*Stream),
	}
}

// Acquire captures local tracks matching the constraints and registers the
// resulting stream under key. Fails with CONFLICT if the key already holds a
// stream and DEVICE_UNAVAILABLE if the platform denies the devices.
func (m *Manager) Acquire(ctx context.Context, key StreamKey, c Constraints) (*Stream, error) {
	m.mu.RLock()
	_, exists := m.streams[key]
	m.mu.RUnlock()
	if exists {
		return nil, apperrors.ConflictError(
			fmt.Sprintf("stream already acquired for call %s participant %s", key.CallID, key.UserID))
	}

	tracks, err := m.source.UserMedia(ctx, c)
	if err != nil {
		return nil, apperrors.DeviceUnavailableError(err)
	}

	stream := newStream(key, tracks)

	m.mu.Lock()
	if _, exists := m.streams[key]; exists {
		m.mu.Unlock()
		// Lost the race to a concurrent Acquire on the same key; stop the
		// tracks we just opened so nothing leaks.
		stream.stopAll()
		return nil, apperrors.ConflictError(
			fmt.Sprintf("stream already acquired for call %s participant %s", key.CallID, key.UserID))
	}
	m.streams[key] = stream
	m.mu.Unlock()

	logger.Debug("Media stream acquired",
		zap.String("call_id", key.CallID.String()),
		zap.String("user_id", key.UserID.String()),
		zap.Int("tracks", len(tracks)))

	return stream, nil
}

// AcquireScreen captures a screen source and attaches it to the stream at
// key, so it is stopped together with the rest of the stream on Release.
func (m *Manager) AcquireScreen(ctx context.Context, key StreamKey) (Track, error) {
	m.mu.RLock()
	stream, ok := m.streams[key]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFoundError("media stream")
	}

	track, err := m.source.DisplayMedia(ctx)
	if err != nil {
		return nil, apperrors.DeviceUnavailableError(err)
	}

	stream.addTrack(track)
	return track, nil
}

// DetachTrack stops and removes a single track from the stream at key.
// Unknown keys and track IDs are ignored.
func (m *Manager) DetachTrack(key StreamKey, trackID string) {
	m.mu.RLock()
	stream, ok := m.streams[key]
	m.mu.RUnlock()
	if !ok {
		return
	}
	stream.removeTrack(trackID)
}

// Get returns the stream registered under key, if any
func (m *Manager) Get(key StreamKey) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream, ok := m.streams[key]
	return stream, ok
}

// Release stops every track of the stream at key and drops it from the
// registry. Releasing an unknown key is a no-op, not an error.
func (m *Manager) Release(key StreamKey) {
	m.mu.Lock()
	stream, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if !ok {
		logger.Debug("Release of unknown stream key ignored",
			zap.String("call_id", key.CallID.String()),
			zap.String("user_id", key.UserID.String()))
		return
	}

	stream.stopAll()
	logger.Debug("Media stream released",
		zap.String("call_id", key.CallID.String()),
		zap.String("user_id", key.UserID.String()))
}

// ActiveStreams returns the number of registered streams
func (m *Manager) ActiveStreams() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}
