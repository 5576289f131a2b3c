// Package recording implements the start/stop lifecycle for call recordings.
// The active-recording index is the one piece of process-wide state; at most
// one recording may be active per call.
package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/constants"
	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/metrics"
)

// recordingFormat is the only container produced today
const recordingFormat = "webm"

// CallDirectory resolves live call state. Implemented by the call service.
type CallDirectory interface {
	Snapshot(callID uuid.UUID) (domain.Call, error)
}

// Sink uploads the finished artifact and returns its storage path.
// Upload failures are logged; the recording still completes.
type Sink interface {
	Finalize(ctx context.Context, rec *domain.Recording) (string, error)
}

// activeEntry pins the participant set at start time so StopRecording can
// authorize even after the call left the registry.
type activeEntry struct {
	rec          *domain.Recording
	participants [2]uuid.UUID
}

type Service struct {
	calls CallDirectory
	sink  Sink // optional

	mu     sync.Mutex
	active map[uuid.UUID]*activeEntry // by call id
}

func NewService(calls CallDirectory, sink Sink) *Service {
	return &Service{
		calls:  calls,
		sink:   sink,
		active: make(map[uuid.UUID]*activeEntry),
	}
}

// StartRecording begins capturing a connected call. Fails with Conflict when
// a recording is already active for the call.
func (s *Service) StartRecording(ctx context.Context, callID, userID uuid.UUID) (*domain.Recording, error) {
	call, err := s.calls.Snapshot(callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParticipant(userID) {
		return nil, apperrors.UnauthorizedError("user is not a call participant")
	}
	if call.Status != domain.CallStatusConnected {
		return nil, apperrors.InvalidStateError(fmt.Sprintf("cannot record call in status %s", call.Status))
	}
	if !call.Settings.RecordingAllowed {
		return nil, apperrors.InvalidStateError("recording is disabled for this call")
	}

	rec := &domain.Recording{
		RecordingID: uuid.New(),
		CallID:      callID,
		StarterID:   userID,
		Status:      domain.RecordingStatusRecording,
		StartedAt:   time.Now().UTC(),
		Format:      recordingFormat,
		Quality:     call.Settings.Quality,
	}

	s.mu.Lock()
	if _, exists := s.active[callID]; exists {
		s.mu.Unlock()
		return nil, apperrors.ConflictError("a recording is already active for this call")
	}
	s.active[callID] = &activeEntry{
		rec:          rec,
		participants: [2]uuid.UUID{call.InitiatorID, call.RecipientID},
	}
	s.mu.Unlock()

	metrics.RecordingsActive.Inc()
	logger.Info("recording started",
		zap.String("call_id", callID.String()),
		zap.String("recording_id", rec.RecordingID.String()))

	snapshot := *rec
	return &snapshot, nil
}

// StopRecording completes the active recording for the call and removes it
// from the index. Fails with NotFound when nothing is recording.
func (s *Service) StopRecording(ctx context.Context, callID, userID uuid.UUID) (*domain.Recording, error) {
	s.mu.Lock()
	entry, ok := s.active[callID]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.RecordingNotFoundError()
	}
	if userID != entry.participants[0] && userID != entry.participants[1] {
		s.mu.Unlock()
		return nil, apperrors.UnauthorizedError("user is not a call participant")
	}
	delete(s.active, callID)
	rec := entry.rec
	s.mu.Unlock()

	now := time.Now().UTC()
	rec.Status = domain.RecordingStatusCompleted
	rec.EndedAt = &now
	rec.Duration = int(now.Sub(rec.StartedAt).Seconds())

	if s.sink != nil {
		finalizeCtx, cancel := context.WithTimeout(ctx, constants.RecordingFinalizeTimeout)
		defer cancel()
		path, err := s.sink.Finalize(finalizeCtx, rec)
		if err != nil {
			metrics.RecordingFinalizeErrorTotal.Inc()
			logger.Error("recording finalize failed",
				zap.String("recording_id", rec.RecordingID.String()), zap.Error(err))
		} else {
			rec.StoragePath = path
		}
	}

	metrics.RecordingsActive.Dec()
	logger.Info("recording stopped",
		zap.String("call_id", callID.String()),
		zap.String("recording_id", rec.RecordingID.String()),
		zap.Int("duration_seconds", rec.Duration))

	snapshot := *rec
	return &snapshot, nil
}

// Active returns the live recording for a call, if any
func (s *Service) Active(callID uuid.UUID) (domain.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.active[callID]
	if !ok {
		return domain.Recording{}, false
	}
	return *entry.rec, true
}

// StopForCall ends any active recording when its call terminates. Wired as
// a call state listener; no-op when nothing is recording.
func (s *Service) StopForCall(call domain.Call) {
	if !call.Status.Terminal() {
		return
	}
	s.mu.Lock()
	entry, ok := s.active[call.CallID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if _, err := s.StopRecording(context.Background(), call.CallID, entry.rec.StarterID); err != nil {
		logger.Warn("auto stop recording failed",
			zap.String("call_id", call.CallID.String()), zap.Error(err))
	}
}
