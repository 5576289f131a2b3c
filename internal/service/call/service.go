// Package call implements the call lifecycle state machine. The service is
// the sole orchestrator of media acquisition, peer sessions, and signaling;
// no other component touches those resources directly.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/media"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/peer"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/signaling"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/constants"
	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/metrics"
)

// Store persists call records. Persistence is best-effort: the in-memory
// registry is authoritative for live calls and a store failure never blocks
// a lifecycle transition.
type Store interface {
	Create(ctx context.Context, call *domain.Call) error
	Update(ctx context.Context, call *domain.Call) error
}

// Ringer pushes an incoming-call alert to the recipient's devices
type Ringer interface {
	Ring(ctx context.Context, call *domain.Call) error
}

// StateListener observes call state transitions. Called on internal
// goroutines with a snapshot; must not call back into the service.
type StateListener func(call domain.Call)

// callEntry is one live call plus everything it owns. entry.mu serializes
// all mutations on this callId; the registry lock is never held across a
// blocking operation.
type callEntry struct {
	mu sync.Mutex

	call     *domain.Call
	sessions map[domain.ParticipantKey]peer.Session

	// screen share bookkeeping per user: the live screen track and the
	// camera track to restore when the share stops
	screenTracks map[uuid.UUID]media.Track
	cameraTracks map[uuid.UUID]media.Track

	ringTimer *time.Timer
}

type Service struct {
	media   *media.Manager
	peers   peer.Factory
	signals signaling.Channel
	store   Store  // optional
	ringer  Ringer // optional

	ringTimeout time.Duration

	mu    sync.RWMutex
	calls map[uuid.UUID]*callEntry

	listenerMu sync.RWMutex
	listeners  []StateListener
}

func NewService(mediaMgr *media.Manager, peers peer.Factory, signals signaling.Channel, store Store, ringer Ringer, ringTimeout time.Duration) *Service {
	if ringTimeout <= 0 {
		ringTimeout = constants.DefaultRingTimeout
	}
	return &Service{
		media:       mediaMgr,
		peers:       peers,
		signals:     signals,
		store:       store,
		ringer:      ringer,
		ringTimeout: ringTimeout,
		calls:       make(map[uuid.UUID]*callEntry),
	}
}

// OnStateChange registers a listener for call state transitions
func (s *Service) OnStateChange(fn StateListener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

func (s *Service) notifyListeners(call domain.Call) {
	s.listenerMu.RLock()
	listeners := make([]StateListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		go fn(call)
	}
}

type InitiateCallInput struct {
	InitiatorID uuid.UUID
	RecipientID uuid.UUID
	Type        domain.CallType
	Settings    *domain.CallSettings
	Metadata    domain.CallMetadata
}

func (in *InitiateCallInput) validate() error {
	if in.InitiatorID == uuid.Nil || in.RecipientID == uuid.Nil {
		return apperrors.InvalidArgumentError("initiator and recipient are required")
	}
	if in.InitiatorID == in.RecipientID {
		return apperrors.InvalidArgumentError("cannot call yourself")
	}
	if !in.Type.Valid() {
		return apperrors.InvalidArgumentError(fmt.Sprintf("invalid call type: %s", in.Type))
	}
	if in.Settings != nil && !in.Settings.Quality.Valid() {
		return apperrors.InvalidArgumentError(fmt.Sprintf("invalid quality tier: %s", in.Settings.Quality))
	}
	return nil
}

// InitiateCall acquires local media, builds the caller's peer session, and
// sends the invitation. The call is registered before any of that, so a
// concurrent EndCall always finds it.
func (s *Service) InitiateCall(ctx context.Context, in InitiateCallInput) (*domain.Call, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	settings := domain.DefaultCallSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}

	call := &domain.Call{
		CallID:      uuid.New(),
		Type:        in.Type,
		InitiatorID: in.InitiatorID,
		RecipientID: in.RecipientID,
		Status:      domain.CallStatusInitiating,
		StartedAt:   time.Now().UTC(),
		Settings:    settings,
		Metadata:    in.Metadata,
	}

	entry := &callEntry{
		call:         call,
		sessions:     make(map[domain.ParticipantKey]peer.Session),
		screenTracks: make(map[uuid.UUID]media.Track),
		cameraTracks: make(map[uuid.UUID]media.Track),
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.mu.Lock()
	s.calls[call.CallID] = entry
	s.mu.Unlock()

	offer, err := s.setupLeg(ctx, entry, in.InitiatorID, true)
	if err != nil {
		s.remove(call.CallID)
		return nil, err
	}

	inv := signaling.Invitation{
		CallID:   call.CallID,
		CallerID: call.InitiatorID,
		CalleeID: call.RecipientID,
		Type:     call.Type,
		Metadata: call.Metadata,
		Offer:    offer,
	}
	if err := s.signals.SendInvitation(ctx, inv); err != nil {
		s.cleanupLocked(entry)
		s.remove(call.CallID)
		metrics.CallSetupFailedTotal.WithLabelValues("signaling").Inc()
		return nil, err
	}

	if s.ringer != nil {
		go func(c domain.Call) {
			ctx, cancel := context.WithTimeout(context.Background(), constants.SignalingSendTimeout)
			defer cancel()
			if err := s.ringer.Ring(ctx, &c); err != nil {
				logger.Warn("call push notification failed",
					zap.String("call_id", c.CallID.String()), zap.Error(err))
			}
		}(*call)
	}

	callID := call.CallID
	entry.ringTimer = time.AfterFunc(s.ringTimeout, func() {
		s.timeoutCall(callID)
	})

	s.persist(ctx, call, true)
	metrics.CallsActive.Inc()
	metrics.CallInitiatedTotal.WithLabelValues(string(call.Type)).Inc()
	logger.Info("call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("type", string(call.Type)))

	snapshot := *call
	s.notifyListeners(snapshot)
	return &snapshot, nil
}

type AnswerOptions struct {
	Offer peer.SessionDescription
}

// AnswerCall builds the recipient's leg and moves the call to connecting.
// The connected transition is driven by the transport's connectivity event.
func (s *Service) AnswerCall(ctx context.Context, callID, userID uuid.UUID, opts AnswerOptions) (*domain.Call, error) {
	entry, err := s.lookup(callID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	call := entry.call
	if call.RecipientID != userID {
		return nil, apperrors.UnauthorizedError("only the call recipient can answer")
	}
	if call.Status != domain.CallStatusInitiating && call.Status != domain.CallStatusConnecting {
		return nil, apperrors.InvalidStateError(fmt.Sprintf("cannot answer call in status %s", call.Status))
	}

	if _, err := s.setupLeg(ctx, entry, userID, false); err != nil {
		return nil, err
	}

	key := domain.ParticipantKey{CallID: callID, UserID: userID}
	session := entry.sessions[key]
	answerSDP, err := session.CreateAnswer(ctx, opts.Offer)
	if err != nil {
		s.teardownLeg(entry, key)
		metrics.CallSetupFailedTotal.WithLabelValues("peer").Inc()
		return nil, apperrors.TransportFailureError("failed to create answer", err)
	}

	if err := s.signals.SendAnswer(ctx, signaling.Answer{
		CallID:   callID,
		CalleeID: userID,
		Accepted: true,
		SDP:      answerSDP,
	}); err != nil {
		s.teardownLeg(entry, key)
		metrics.CallSetupFailedTotal.WithLabelValues("signaling").Inc()
		return nil, err
	}

	entry.stopRingTimer()
	now := time.Now().UTC()
	call.Status = domain.CallStatusConnecting
	call.AnsweredAt = &now

	s.persist(ctx, call, false)
	logger.Info("call answered", zap.String("call_id", callID.String()))

	snapshot := *call
	s.notifyListeners(snapshot)
	return &snapshot, nil
}

// RejectCall declines a ringing call and runs full cleanup
func (s *Service) RejectCall(ctx context.Context, callID, userID uuid.UUID, reason string) error {
	entry, err := s.lookup(callID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	call := entry.call
	if call.RecipientID != userID {
		return apperrors.UnauthorizedError("only the call recipient can reject")
	}
	if call.Status != domain.CallStatusInitiating && call.Status != domain.CallStatusConnecting {
		return apperrors.InvalidStateError(fmt.Sprintf("cannot reject call in status %s", call.Status))
	}

	if err := s.signals.SendAnswer(ctx, signaling.Answer{
		CallID:   callID,
		CalleeID: userID,
		Accepted: false,
	}); err != nil {
		logger.Warn("rejection notice failed", zap.String("call_id", callID.String()), zap.Error(err))
	}

	logger.Info("call rejected",
		zap.String("call_id", callID.String()),
		zap.String("reason", reason))
	s.finishLocked(ctx, entry, userID, domain.EndReasonRejected, true)
	return nil
}

// EndCall terminates a call from either side. Idempotent: a second call on
// the same id, or an id that has already been cleaned up, is a logged no-op.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) error {
	s.mu.RLock()
	entry, ok := s.calls[callID]
	s.mu.RUnlock()
	if !ok {
		logger.Debug("end for inactive call ignored", zap.String("call_id", callID.String()))
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.call.Status.Terminal() {
		logger.Debug("call already ended", zap.String("call_id", callID.String()))
		return nil
	}
	if !entry.call.HasParticipant(userID) {
		return apperrors.UnauthorizedError("user is not a call participant")
	}

	s.finishLocked(ctx, entry, userID, domain.EndReasonHangup, true)
	return nil
}

// timeoutCall fires when the ring timer elapses. The timer is stopped on
// answer and on every terminal transition, but the stop can land while a
// fired callback is already blocked on the entry lock, so any call that
// moved past initiating is left alone.
func (s *Service) timeoutCall(callID uuid.UUID) {
	s.mu.RLock()
	entry, ok := s.calls[callID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.call.Status != domain.CallStatusInitiating {
		return
	}

	logger.Info("call ring timeout", zap.String("call_id", callID.String()))
	ctx, cancel := context.WithTimeout(context.Background(), constants.SignalingSendTimeout)
	defer cancel()
	s.finishLocked(ctx, entry, uuid.Nil, domain.EndReasonTimeout, true)
}

// ToggleMute flips the participant's audio tracks. Returns the new enabled
// state, or false when the participant has no stream.
func (s *Service) ToggleMute(callID, userID uuid.UUID) (bool, error) {
	return s.toggleKind(callID, userID, media.TrackKindAudio)
}

// ToggleVideo flips the participant's camera tracks
func (s *Service) ToggleVideo(callID, userID uuid.UUID) (bool, error) {
	return s.toggleKind(callID, userID, media.TrackKindVideo)
}

func (s *Service) toggleKind(callID, userID uuid.UUID, kind media.TrackKind) (bool, error) {
	entry, err := s.lookup(callID)
	if err != nil {
		return false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.call.HasParticipant(userID) {
		return false, apperrors.UnauthorizedError("user is not a call participant")
	}

	stream, ok := s.media.Get(media.StreamKey{CallID: callID, UserID: userID})
	if !ok {
		return false, nil
	}

	var enabled bool
	if kind == media.TrackKindAudio {
		enabled, ok = stream.ToggleAudio()
	} else {
		enabled, ok = stream.ToggleVideo()
	}
	if !ok {
		return false, nil
	}
	return enabled, nil
}

// StartScreenShare swaps the outgoing video track for a screen capture.
// Audio and the peer session itself are untouched. When the capture source
// ends on its own the share is stopped automatically.
func (s *Service) StartScreenShare(ctx context.Context, callID, userID uuid.UUID) error {
	entry, err := s.lookup(callID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	call := entry.call
	if !call.HasParticipant(userID) {
		return apperrors.UnauthorizedError("user is not a call participant")
	}
	if call.Status != domain.CallStatusConnected {
		return apperrors.InvalidStateError(fmt.Sprintf("cannot share screen in status %s", call.Status))
	}
	if !call.Settings.ScreenShareAllowed {
		return apperrors.InvalidStateError("screen sharing is disabled for this call")
	}
	if _, active := entry.screenTracks[userID]; active {
		return apperrors.ConflictError("screen share already active")
	}

	key := domain.ParticipantKey{CallID: callID, UserID: userID}
	session, ok := entry.sessions[key]
	if !ok {
		return apperrors.InvalidStateError("no peer session for participant")
	}

	stream, ok := s.media.Get(key)
	if !ok {
		return apperrors.InvalidStateError("no media stream for participant")
	}
	var camera media.Track
	if cams := stream.TracksOfKind(media.TrackKindVideo); len(cams) > 0 {
		camera = cams[0]
	}

	screen, err := s.media.AcquireScreen(ctx, key)
	if err != nil {
		return err
	}

	if err := session.ReplaceVideoTrack(screen); err != nil {
		s.media.DetachTrack(key, screen.ID())
		_ = screen.Stop()
		return apperrors.TransportFailureError("failed to switch to screen track", err)
	}

	entry.screenTracks[userID] = screen
	if camera != nil {
		entry.cameraTracks[userID] = camera
	}

	screen.OnEnded(func(error) {
		go func() {
			if err := s.StopScreenShare(context.Background(), callID, userID); err != nil {
				logger.Warn("auto stop screen share failed",
					zap.String("call_id", callID.String()), zap.Error(err))
			}
		}()
	})

	logger.Info("screen share started", zap.String("call_id", callID.String()))
	return nil
}

// StopScreenShare restores the camera track. No-op when no share is active,
// so the user-initiated stop and the source-ended callback can both run.
func (s *Service) StopScreenShare(ctx context.Context, callID, userID uuid.UUID) error {
	entry, err := s.lookup(callID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	screen, active := entry.screenTracks[userID]
	if !active {
		return nil
	}
	delete(entry.screenTracks, userID)

	key := domain.ParticipantKey{CallID: callID, UserID: userID}
	if camera, ok := entry.cameraTracks[userID]; ok {
		delete(entry.cameraTracks, userID)
		if session, ok := entry.sessions[key]; ok {
			if err := session.ReplaceVideoTrack(camera); err != nil {
				logger.Warn("failed to restore camera track",
					zap.String("call_id", callID.String()), zap.Error(err))
			}
		}
	}

	s.media.DetachTrack(key, screen.ID())
	if err := screen.Stop(); err != nil {
		logger.Warn("failed to stop screen track",
			zap.String("call_id", callID.String()), zap.Error(err))
	}

	logger.Info("screen share stopped", zap.String("call_id", callID.String()))
	return nil
}

// AddRemoteCandidate feeds a trickled ICE candidate from signaling into the
// participant's peer session.
func (s *Service) AddRemoteCandidate(callID, userID uuid.UUID, candidate peer.IceCandidate) error {
	entry, err := s.lookup(callID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	session, ok := entry.sessions[domain.ParticipantKey{CallID: callID, UserID: userID}]
	if !ok {
		return apperrors.InvalidStateError("no peer session for participant")
	}
	if err := session.AddRemoteCandidate(candidate); err != nil {
		return apperrors.TransportFailureError("failed to apply remote candidate", err)
	}
	return nil
}

// AcceptAnswer applies the callee's SDP answer to the caller's session
func (s *Service) AcceptAnswer(callID, userID uuid.UUID, answer peer.SessionDescription) error {
	entry, err := s.lookup(callID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	session, ok := entry.sessions[domain.ParticipantKey{CallID: callID, UserID: userID}]
	if !ok {
		return apperrors.InvalidStateError("no peer session for participant")
	}
	if err := session.AcceptAnswer(answer); err != nil {
		return apperrors.TransportFailureError("failed to apply answer", err)
	}
	if entry.call.Status == domain.CallStatusInitiating {
		entry.call.Status = domain.CallStatusConnecting
	}
	return nil
}

// Snapshot returns a copy of the live call state
func (s *Service) Snapshot(callID uuid.UUID) (domain.Call, error) {
	entry, err := s.lookup(callID)
	if err != nil {
		return domain.Call{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return *entry.call, nil
}

// ActiveCalls returns the number of calls in the registry
func (s *Service) ActiveCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// HistoryStore lists persisted calls. Implemented by the cockroach repository.
type HistoryStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// History returns the user's past calls, most recent first. Empty when the
// service runs without persistence.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	lister, ok := s.store.(HistoryStore)
	if !ok {
		return []domain.Call{}, nil
	}

	calls, err := lister.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}
	out := make([]domain.Call, 0, len(calls))
	for _, c := range calls {
		out = append(out, *c)
	}
	return out, nil
}

// handleConnectivity drives status transitions from transport events.
// Runs on its own goroutine, never on the engine callback.
func (s *Service) handleConnectivity(callID, userID uuid.UUID, state peer.Connectivity) {
	s.mu.RLock()
	entry, ok := s.calls[callID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	call := entry.call

	switch state {
	case peer.ConnectivityConnected:
		if call.Status == domain.CallStatusConnecting || call.Status == domain.CallStatusInitiating {
			entry.stopRingTimer()
			call.Status = domain.CallStatusConnected
			logger.Info("call connected", zap.String("call_id", callID.String()))
			s.persist(context.Background(), call, false)
			s.notifyListeners(*call)
		}
	case peer.ConnectivityDisconnected:
		if call.Status == domain.CallStatusConnected {
			call.Status = domain.CallStatusDisconnected
			logger.Warn("call disconnected",
				zap.String("call_id", callID.String()),
				zap.String("user_id", userID.String()))
			s.notifyListeners(*call)
		}
	case peer.ConnectivityFailed:
		if !call.Status.Terminal() {
			logger.Warn("call transport failed", zap.String("call_id", callID.String()))
			ctx, cancel := context.WithTimeout(context.Background(), constants.SignalingSendTimeout)
			defer cancel()
			s.finishLocked(ctx, entry, uuid.Nil, domain.EndReasonDisconnected, true)
		}
	}
}

// setupLeg acquires media, builds a peer session with all local tracks, and
// returns the offer. On any failure everything acquired so far is undone.
func (s *Service) setupLeg(ctx context.Context, entry *callEntry, userID uuid.UUID, initiator bool) (peer.SessionDescription, error) {
	call := entry.call
	key := domain.ParticipantKey{CallID: call.CallID, UserID: userID}

	if _, err := s.media.Acquire(ctx, key, media.ConstraintsForCall(call.Type, call.Settings.Quality)); err != nil {
		metrics.CallSetupFailedTotal.WithLabelValues("media").Inc()
		return peer.SessionDescription{}, err
	}

	session, err := s.peers.NewSession(&sessionObserver{svc: s, callID: call.CallID, userID: userID})
	if err != nil {
		s.media.Release(key)
		metrics.CallSetupFailedTotal.WithLabelValues("peer").Inc()
		return peer.SessionDescription{}, apperrors.TransportFailureError("failed to create peer session", err)
	}
	entry.sessions[key] = session

	stream, _ := s.media.Get(key)
	for _, track := range stream.Tracks() {
		if err := session.AddLocalTrack(track); err != nil {
			s.teardownLeg(entry, key)
			metrics.CallSetupFailedTotal.WithLabelValues("peer").Inc()
			return peer.SessionDescription{}, apperrors.TransportFailureError("failed to attach local track", err)
		}
	}

	if !initiator {
		return peer.SessionDescription{}, nil
	}

	offer, err := session.CreateOffer(ctx)
	if err != nil {
		s.teardownLeg(entry, key)
		metrics.CallSetupFailedTotal.WithLabelValues("peer").Inc()
		return peer.SessionDescription{}, apperrors.TransportFailureError("failed to create offer", err)
	}
	return offer, nil
}

// teardownLeg undoes one participant's session and media. Caller holds entry.mu.
func (s *Service) teardownLeg(entry *callEntry, key domain.ParticipantKey) {
	if session, ok := entry.sessions[key]; ok {
		delete(entry.sessions, key)
		if err := session.Close(); err != nil {
			metrics.CallPeerCloseErrorTotal.Inc()
			logger.Warn("peer session close failed",
				zap.String("call_id", key.CallID.String()), zap.Error(err))
		}
	}
	s.media.Release(key)
}

// finishLocked runs the single terminal cleanup path: close sessions, stop
// tracks, notify the remote side, evict from the registry. Best-effort all
// the way down so one failure never strands other resources. endedBy is the
// acting participant, or Nil when the service ended the call itself. Caller
// holds entry.mu.
func (s *Service) finishLocked(ctx context.Context, entry *callEntry, endedBy uuid.UUID, reason domain.EndReason, notify bool) {
	call := entry.call
	entry.stopRingTimer()

	s.cleanupLocked(entry)

	now := time.Now().UTC()
	if reason == domain.EndReasonRejected || reason == domain.EndReasonTimeout {
		call.Status = domain.CallStatusRejected
		s.notifyListeners(*call)
	}
	call.Status = domain.CallStatusEnded
	call.EndReason = reason
	call.EndedAt = &now
	if call.AnsweredAt != nil {
		call.Duration = int(now.Sub(*call.AnsweredAt).Seconds())
		metrics.CallDurationSeconds.Observe(now.Sub(*call.AnsweredAt).Seconds())
	}

	if notify {
		if err := s.signals.SendEnd(ctx, signaling.End{
			CallID:   call.CallID,
			SenderID: endedBy,
			Reason:   reason,
		}); err != nil {
			logger.Warn("end notice failed", zap.String("call_id", call.CallID.String()), zap.Error(err))
		}
	}

	s.remove(call.CallID)
	s.persist(ctx, call, false)
	metrics.CallsActive.Dec()
	metrics.CallEndedTotal.WithLabelValues(string(reason)).Inc()
	logger.Info("call ended",
		zap.String("call_id", call.CallID.String()),
		zap.String("reason", string(reason)),
		zap.Int("duration_seconds", call.Duration))

	s.notifyListeners(*call)
}

// cleanupLocked closes every session and releases every stream the call
// owns. Caller holds entry.mu.
func (s *Service) cleanupLocked(entry *callEntry) {
	for userID, screen := range entry.screenTracks {
		delete(entry.screenTracks, userID)
		_ = screen.Stop()
	}
	for key, session := range entry.sessions {
		delete(entry.sessions, key)
		if err := session.Close(); err != nil {
			metrics.CallPeerCloseErrorTotal.Inc()
			logger.Warn("peer session close failed",
				zap.String("call_id", key.CallID.String()), zap.Error(err))
		}
	}
	call := entry.call
	s.media.Release(media.StreamKey{CallID: call.CallID, UserID: call.InitiatorID})
	s.media.Release(media.StreamKey{CallID: call.CallID, UserID: call.RecipientID})
}

func (s *Service) lookup(callID uuid.UUID) (*callEntry, error) {
	s.mu.RLock()
	entry, ok := s.calls[callID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	return entry, nil
}

// remove is idempotent so concurrent cleanup paths can both run it
func (s *Service) remove(callID uuid.UUID) {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
}

func (s *Service) persist(ctx context.Context, call *domain.Call, create bool) {
	if s.store == nil {
		return
	}
	snapshot := *call
	var err error
	if create {
		err = s.store.Create(ctx, &snapshot)
	} else {
		err = s.store.Update(ctx, &snapshot)
	}
	if err != nil {
		logger.Error("call persistence failed",
			zap.String("call_id", snapshot.CallID.String()), zap.Error(err))
	}
}

func (e *callEntry) stopRingTimer() {
	if e.ringTimer != nil {
		e.ringTimer.Stop()
		e.ringTimer = nil
	}
}

// sessionObserver forwards engine events for one call leg. Candidates go
// out through signaling; connectivity changes are re-dispatched onto a
// fresh goroutine so the engine callback never takes the entry lock.
type sessionObserver struct {
	svc    *Service
	callID uuid.UUID
	userID uuid.UUID
}

func (o *sessionObserver) OnIceCandidate(candidate peer.IceCandidate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.SignalingSendTimeout)
		defer cancel()
		if err := o.svc.signals.SendIceCandidate(ctx, signaling.CandidateMessage{
			CallID:    o.callID,
			SenderID:  o.userID,
			Candidate: candidate,
		}); err != nil {
			logger.Warn("candidate relay failed",
				zap.String("call_id", o.callID.String()), zap.Error(err))
		}
	}()
}

func (o *sessionObserver) OnRemoteTrack(track peer.RemoteTrack) {
	logger.Debug("remote track received",
		zap.String("call_id", o.callID.String()),
		zap.String("track_id", track.ID),
		zap.String("kind", string(track.Kind)))
}

func (o *sessionObserver) OnConnectivityChange(state peer.Connectivity) {
	go o.svc.handleConnectivity(o.callID, o.userID, state)
}
