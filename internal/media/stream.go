package media

import "sync"

// Stream is a set of local device tracks exclusively owned by one call leg.
// It is never shared across calls; the owning call releases it through the
// Manager when the call ends or the participant leaves.
type Stream struct {
	Key StreamKey

	mu     sync.Mutex
	tracks []Track
	closed bool
}

func newStream(key StreamKey, tracks []Track) *Stream {
	return &Stream{Key: key, tracks: tracks}
}

// Tracks returns a snapshot of the stream's tracks
func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// TracksOfKind returns a snapshot of the stream's tracks of the given kind
func (s *Stream) TracksOfKind(kind TrackKind) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// addTrack appends a track acquired after the stream was created, e.g. a
// screen-capture track. The track is stopped with the rest of the stream.
func (s *Stream) addTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		t.Stop()
		return
	}
	s.tracks = append(s.tracks, t)
}

// removeTrack stops and detaches one track by ID. Unknown IDs are ignored.
func (s *Stream) removeTrack(trackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t.ID() == trackID {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			t.Stop()
			return
		}
	}
}

// setKindEnabled flips the enabled flag on every track of the given kind and
// returns the new state. Returns false when the stream has no such track.
func (s *Stream) setKindEnabled(kind TrackKind, toggle func(current bool) bool) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found bool
	var state bool
	for _, t := range s.tracks {
		if t.Kind() != kind {
			continue
		}
		state = toggle(t.Enabled())
		t.SetEnabled(state)
		found = true
	}
	return state, found
}

// ToggleAudio flips the audio tracks' enabled flag and reports the new
// enabled state. The second return is false when no audio track exists.
func (s *Stream) ToggleAudio() (enabled bool, ok bool) {
	return s.setKindEnabled(TrackKindAudio, func(cur bool) bool { return !cur })
}

// ToggleVideo flips the video tracks' enabled flag and reports the new
// enabled state. The second return is false when no video track exists.
func (s *Stream) ToggleVideo() (enabled bool, ok bool) {
	return s.setKindEnabled(TrackKindVideo, func(cur bool) bool { return !cur })
}

// LiveTracks returns the number of tracks not yet stopped via the stream
func (s *Stream) LiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return len(s.tracks)
}

// stopAll stops every track. Safe to call more than once.
func (s *Stream) stopAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
}
