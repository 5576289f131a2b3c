package recording

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// fakeDirectory serves call snapshots by id
type fakeDirectory struct {
	mu    sync.Mutex
	calls map[uuid.UUID]domain.Call
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{calls: make(map[uuid.UUID]domain.Call)}
}

func (d *fakeDirectory) Snapshot(callID uuid.UUID) (domain.Call, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.calls[callID]
	if !ok {
		return domain.Call{}, apperrors.CallNotFoundError()
	}
	return call, nil
}

func (d *fakeDirectory) put(call domain.Call) {
	d.mu.Lock()
	d.calls[call.CallID] = call
	d.mu.Unlock()
}

type fakeSink struct {
	mu        sync.Mutex
	finalized []domain.Recording
	err       error
}

func (s *fakeSink) Finalize(_ context.Context, rec *domain.Recording) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.finalized = append(s.finalized, *rec)
	return "recordings/" + rec.CallID.String(), nil
}

func connectedCall() domain.Call {
	return domain.Call{
		CallID:      uuid.New(),
		Type:        domain.CallTypeVideo,
		InitiatorID: uuid.New(),
		RecipientID: uuid.New(),
		Status:      domain.CallStatusConnected,
		Settings:    domain.DefaultCallSettings(),
	}
}

func TestStartRecording(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, nil)
	call := connectedCall()
	dir.put(call)

	rec, err := svc.StartRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)

	assert.Equal(t, domain.RecordingStatusRecording, rec.Status)
	assert.Equal(t, call.CallID, rec.CallID)
	assert.Equal(t, "webm", rec.Format)

	active, ok := svc.Active(call.CallID)
	assert.True(t, ok)
	assert.Equal(t, rec.RecordingID, active.RecordingID)
}

func TestStartRecording_DuplicateConflicts(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, nil)
	call := connectedCall()
	dir.put(call)

	_, err := svc.StartRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)

	// Either participant hits the same conflict
	_, err = svc.StartRecording(context.Background(), call.CallID, call.RecipientID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
}

func TestStartRecording_Guards(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, nil)

	_, err := svc.StartRecording(context.Background(), uuid.New(), uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))

	call := connectedCall()
	dir.put(call)
	_, err = svc.StartRecording(context.Background(), call.CallID, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	ringing := connectedCall()
	ringing.Status = domain.CallStatusInitiating
	dir.put(ringing)
	_, err = svc.StartRecording(context.Background(), ringing.CallID, ringing.InitiatorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))

	disabled := connectedCall()
	disabled.Settings.RecordingAllowed = false
	dir.put(disabled)
	_, err = svc.StartRecording(context.Background(), disabled.CallID, disabled.InitiatorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestStopRecording(t *testing.T) {
	dir := newFakeDirectory()
	sink := &fakeSink{}
	svc := NewService(dir, sink)
	call := connectedCall()
	dir.put(call)

	started, err := svc.StartRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)

	// The other participant may stop it
	stopped, err := svc.StopRecording(context.Background(), call.CallID, call.RecipientID)
	require.NoError(t, err)

	assert.Equal(t, started.RecordingID, stopped.RecordingID)
	assert.Equal(t, domain.RecordingStatusCompleted, stopped.Status)
	require.NotNil(t, stopped.EndedAt)
	assert.Equal(t, "recordings/"+call.CallID.String(), stopped.StoragePath)

	_, ok := svc.Active(call.CallID)
	assert.False(t, ok)

	sink.mu.Lock()
	assert.Len(t, sink.finalized, 1)
	sink.mu.Unlock()
}

func TestStopRecording_NotFound(t *testing.T) {
	svc := NewService(newFakeDirectory(), nil)

	_, err := svc.StopRecording(context.Background(), uuid.New(), uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRecordingNotFound))
}

func TestStopRecording_AuthorizedAfterCallEnds(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, nil)
	call := connectedCall()
	dir.put(call)

	_, err := svc.StartRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)

	// Call evicted from the directory; the pinned participant set still
	// authorizes the stop
	dir.mu.Lock()
	delete(dir.calls, call.CallID)
	dir.mu.Unlock()

	_, err = svc.StopRecording(context.Background(), call.CallID, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	stopped, err := svc.StopRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingStatusCompleted, stopped.Status)
}

func TestStopRecording_SinkFailureStillCompletes(t *testing.T) {
	dir := newFakeDirectory()
	sink := &fakeSink{err: errors.New("bucket gone")}
	svc := NewService(dir, sink)
	call := connectedCall()
	dir.put(call)

	_, err := svc.StartRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)

	stopped, err := svc.StopRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingStatusCompleted, stopped.Status)
	assert.Empty(t, stopped.StoragePath)
}

func TestStopForCall(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, nil)
	call := connectedCall()
	dir.put(call)

	_, err := svc.StartRecording(context.Background(), call.CallID, call.InitiatorID)
	require.NoError(t, err)

	// Non-terminal transitions leave the recording alone
	connecting := call
	connecting.Status = domain.CallStatusConnecting
	svc.StopForCall(connecting)
	_, ok := svc.Active(call.CallID)
	assert.True(t, ok)

	ended := call
	ended.Status = domain.CallStatusEnded
	svc.StopForCall(ended)
	_, ok = svc.Active(call.CallID)
	assert.False(t, ok)

	// No-op when nothing is recording
	svc.StopForCall(ended)
}
