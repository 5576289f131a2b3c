package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/media"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/peer"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/signaling"
	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// fakeTrack is an in-memory media.Track
type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    media.TrackKind
	enabled bool
	stopped bool
	onEnded func(error)
}

func newFakeTrack(kind media.TrackKind) *fakeTrack {
	return &fakeTrack{id: uuid.New().String(), kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string            { return t.id }
func (t *fakeTrack) Kind() media.TrackKind { return t.kind }

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

func (t *fakeTrack) fireEnded(err error) {
	t.mu.Lock()
	handler := t.onEnded
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// fakeSource is an in-memory media.DeviceSource that tracks every track it
// ever handed out
type fakeSource struct {
	mu       sync.Mutex
	userErr  error
	acquired []*fakeTrack
}

func (s *fakeSource) UserMedia(_ context.Context, c media.Constraints) ([]media.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userErr != nil {
		return nil, s.userErr
	}
	var tracks []media.Track
	if c.Audio {
		t := newFakeTrack(media.TrackKindAudio)
		s.acquired = append(s.acquired, t)
		tracks = append(tracks, t)
	}
	if c.Video {
		t := newFakeTrack(media.TrackKindVideo)
		s.acquired = append(s.acquired, t)
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (s *fakeSource) DisplayMedia(_ context.Context) (media.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := newFakeTrack(media.TrackKindScreen)
	s.acquired = append(s.acquired, t)
	return t, nil
}

func (s *fakeSource) liveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := 0
	for _, t := range s.acquired {
		if !t.Stopped() {
			live++
		}
	}
	return live
}

// fakeSession records what the call core does to it
type fakeSession struct {
	mu        sync.Mutex
	observer  peer.Observer
	tracks    []media.Track
	replaced  []media.Track
	closed    int
	offerErr  error
	answerErr error
}

func (s *fakeSession) AddLocalTrack(track media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
	return nil
}

func (s *fakeSession) CreateOffer(context.Context) (peer.SessionDescription, error) {
	if s.offerErr != nil {
		return peer.SessionDescription{}, s.offerErr
	}
	return peer.SessionDescription{Type: "offer", SDP: "v=0"}, nil
}

func (s *fakeSession) CreateAnswer(_ context.Context, _ peer.SessionDescription) (peer.SessionDescription, error) {
	if s.answerErr != nil {
		return peer.SessionDescription{}, s.answerErr
	}
	return peer.SessionDescription{Type: "answer", SDP: "v=0"}, nil
}

func (s *fakeSession) AcceptAnswer(peer.SessionDescription) error { return nil }
func (s *fakeSession) AddRemoteCandidate(peer.IceCandidate) error { return nil }

func (s *fakeSession) ReplaceVideoTrack(track media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaced = append(s.replaced, track)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) lastReplaced() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replaced) == 0 {
		return nil
	}
	return s.replaced[len(s.replaced)-1]
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (f *fakeFactory) NewSession(observer peer.Observer) (peer.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	session := &fakeSession{observer: observer}
	f.sessions = append(f.sessions, session)
	return session, nil
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeChannel records every signaling send
type fakeChannel struct {
	mu         sync.Mutex
	invites    []signaling.Invitation
	answers    []signaling.Answer
	candidates []signaling.CandidateMessage
	ends       []signaling.End
	inviteErr  error
}

func (c *fakeChannel) SendInvitation(_ context.Context, inv signaling.Invitation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inviteErr != nil {
		return c.inviteErr
	}
	c.invites = append(c.invites, inv)
	return nil
}

func (c *fakeChannel) SendAnswer(_ context.Context, ans signaling.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, ans)
	return nil
}

func (c *fakeChannel) SendIceCandidate(_ context.Context, msg signaling.CandidateMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, msg)
	return nil
}

func (c *fakeChannel) SendEnd(_ context.Context, end signaling.End) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends = append(c.ends, end)
	return nil
}

func (c *fakeChannel) endCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ends)
}

func (c *fakeChannel) lastEnd() signaling.End {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ends[len(c.ends)-1]
}

type testEnv struct {
	svc     *Service
	media   *media.Manager
	source  *fakeSource
	factory *fakeFactory
	channel *fakeChannel
}

func newTestEnv(ringTimeout time.Duration) *testEnv {
	source := &fakeSource{}
	factory := &fakeFactory{}
	channel := &fakeChannel{}
	mgr := media.NewManager(source)
	return &testEnv{
		svc:     NewService(mgr, factory, channel, nil, nil, ringTimeout),
		media:   mgr,
		source:  source,
		factory: factory,
		channel: channel,
	}
}

func videoCallInput() InitiateCallInput {
	return InitiateCallInput{
		InitiatorID: uuid.New(),
		RecipientID: uuid.New(),
		Type:        domain.CallTypeVideo,
	}
}

func TestInitiateCall_RegistersAndSignals(t *testing.T) {
	env := newTestEnv(time.Minute)

	call, err := env.svc.InitiateCall(context.Background(), videoCallInput())
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusInitiating, call.Status)
	assert.Equal(t, 1, env.svc.ActiveCalls())
	assert.Equal(t, 1, env.media.ActiveStreams())

	require.Len(t, env.channel.invites, 1)
	inv := env.channel.invites[0]
	assert.Equal(t, call.CallID, inv.CallID)
	assert.Equal(t, call.RecipientID, inv.CalleeID)
	assert.Equal(t, "offer", inv.Offer.Type)
}

func TestInitiateCall_Validation(t *testing.T) {
	env := newTestEnv(time.Minute)
	userID := uuid.New()

	_, err := env.svc.InitiateCall(context.Background(), InitiateCallInput{
		InitiatorID: userID,
		RecipientID: userID,
		Type:        domain.CallTypeVideo,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	_, err = env.svc.InitiateCall(context.Background(), InitiateCallInput{
		InitiatorID: uuid.New(),
		RecipientID: uuid.New(),
		Type:        domain.CallType("hologram"),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	assert.Equal(t, 0, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.media.ActiveStreams())
}

func TestInitiateCall_DeviceUnavailable(t *testing.T) {
	env := newTestEnv(time.Minute)
	env.source.userErr = errors.New("camera busy")

	_, err := env.svc.InitiateCall(context.Background(), videoCallInput())

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDeviceUnavailable))
	assert.Equal(t, 0, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.media.ActiveStreams())
}

func TestInitiateCall_SignalingFailureCleansUp(t *testing.T) {
	env := newTestEnv(time.Minute)
	env.channel.inviteErr = apperrors.TransportFailureError("broker down", errors.New("dial refused"))

	_, err := env.svc.InitiateCall(context.Background(), videoCallInput())

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransportFailure))
	assert.Equal(t, 0, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.media.ActiveStreams())
	assert.Equal(t, 1, env.factory.session(0).closeCount())
}

func TestAnswerCall_Success(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	answered, err := env.svc.AnswerCall(context.Background(), call.CallID, in.RecipientID, AnswerOptions{
		Offer: peer.SessionDescription{Type: "offer", SDP: "v=0"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.CallStatusConnecting, answered.Status)
	require.NotNil(t, answered.AnsweredAt)
	assert.Equal(t, 2, env.media.ActiveStreams())
	assert.Equal(t, 2, env.factory.count())

	require.Len(t, env.channel.answers, 1)
	assert.True(t, env.channel.answers[0].Accepted)
	assert.Equal(t, "answer", env.channel.answers[0].SDP.Type)
}

func TestAnswerCall_WrongUserUnauthorized(t *testing.T) {
	env := newTestEnv(time.Minute)

	call, err := env.svc.InitiateCall(context.Background(), videoCallInput())
	require.NoError(t, err)

	_, err = env.svc.AnswerCall(context.Background(), call.CallID, uuid.New(), AnswerOptions{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	snapshot, err := env.svc.Snapshot(call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInitiating, snapshot.Status)
	assert.Equal(t, 1, env.media.ActiveStreams())
}

func TestAnswerCall_UnknownCall(t *testing.T) {
	env := newTestEnv(time.Minute)

	_, err := env.svc.AnswerCall(context.Background(), uuid.New(), uuid.New(), AnswerOptions{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))
}

func TestEndCall_ReleasesEverything(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)
	_, err = env.svc.AnswerCall(context.Background(), call.CallID, in.RecipientID, AnswerOptions{})
	require.NoError(t, err)

	require.NoError(t, env.svc.EndCall(context.Background(), call.CallID, in.InitiatorID))

	assert.Equal(t, 0, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.media.ActiveStreams())
	assert.Equal(t, 0, env.source.liveTracks())
	assert.Equal(t, 1, env.factory.session(0).closeCount())
	assert.Equal(t, 1, env.factory.session(1).closeCount())
	assert.Equal(t, 1, env.channel.endCount())
}

func TestEndCall_Idempotent(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	assert.NoError(t, env.svc.EndCall(context.Background(), call.CallID, in.InitiatorID))
	assert.NoError(t, env.svc.EndCall(context.Background(), call.CallID, in.InitiatorID))
	assert.NoError(t, env.svc.EndCall(context.Background(), uuid.New(), in.InitiatorID))

	assert.Equal(t, 1, env.channel.endCount())
}

func TestEndCall_NonParticipant(t *testing.T) {
	env := newTestEnv(time.Minute)

	call, err := env.svc.InitiateCall(context.Background(), videoCallInput())
	require.NoError(t, err)

	err = env.svc.EndCall(context.Background(), call.CallID, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
	assert.Equal(t, 1, env.svc.ActiveCalls())
}

func TestEndCall_ConcurrentHangups(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, user := range []uuid.UUID{in.InitiatorID, in.RecipientID} {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, env.svc.EndCall(context.Background(), call.CallID, userID))
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 0, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.source.liveTracks())
	assert.Equal(t, 1, env.channel.endCount())
}

func TestRejectCall(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []domain.Call
	env.svc.OnStateChange(func(c domain.Call) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})

	require.NoError(t, env.svc.RejectCall(context.Background(), call.CallID, in.RecipientID, "busy"))

	assert.Equal(t, 0, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.source.liveTracks())
	require.Len(t, env.channel.answers, 1)
	assert.False(t, env.channel.answers[0].Accepted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range seen {
			if c.Status == domain.CallStatusEnded && c.EndReason == domain.EndReasonRejected {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestRejectCall_OnlyRecipient(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	err = env.svc.RejectCall(context.Background(), call.CallID, in.InitiatorID, "busy")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
	assert.Equal(t, 1, env.svc.ActiveCalls())
}

func TestRingTimeout(t *testing.T) {
	env := newTestEnv(30 * time.Millisecond)

	var mu sync.Mutex
	var seen []domain.Call
	env.svc.OnStateChange(func(c domain.Call) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})

	call, err := env.svc.InitiateCall(context.Background(), videoCallInput())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range seen {
			if c.Status == domain.CallStatusEnded && c.EndReason == domain.EndReasonTimeout {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// An intermediate rejected snapshot precedes the terminal state
	mu.Lock()
	sawRejected := false
	for _, c := range seen {
		if c.Status == domain.CallStatusRejected {
			sawRejected = true
		}
	}
	mu.Unlock()
	assert.True(t, sawRejected)

	assert.Equal(t, 0, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.source.liveTracks())
	_, err = env.svc.Snapshot(call.CallID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))
}

func TestRingTimeout_StoppedByAnswer(t *testing.T) {
	env := newTestEnv(40 * time.Millisecond)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	_, err = env.svc.AnswerCall(context.Background(), call.CallID, in.RecipientID, AnswerOptions{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	snapshot, err := env.svc.Snapshot(call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnecting, snapshot.Status)
}

// A fired timer callback can be blocked on the entry lock while the answer
// lands and stops a timer that already ran. The late fire must leave the
// answered call untouched.
func TestRingTimeout_LateFireAfterAnswerIsIgnored(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)
	_, err = env.svc.AnswerCall(context.Background(), call.CallID, in.RecipientID, AnswerOptions{})
	require.NoError(t, err)

	env.svc.timeoutCall(call.CallID)

	snapshot, err := env.svc.Snapshot(call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnecting, snapshot.Status)
	assert.Equal(t, 1, env.svc.ActiveCalls())
	assert.Equal(t, 0, env.channel.endCount())
}

func TestEndNotice_AttributesActor(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)
	_, err = env.svc.AnswerCall(context.Background(), call.CallID, in.RecipientID, AnswerOptions{})
	require.NoError(t, err)

	require.NoError(t, env.svc.EndCall(context.Background(), call.CallID, in.RecipientID))

	require.Equal(t, 1, env.channel.endCount())
	assert.Equal(t, in.RecipientID, env.channel.lastEnd().SenderID)
}

func TestEndNotice_TimeoutHasNoActor(t *testing.T) {
	env := newTestEnv(20 * time.Millisecond)

	_, err := env.svc.InitiateCall(context.Background(), videoCallInput())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.channel.endCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, uuid.Nil, env.channel.lastEnd().SenderID)
	assert.Equal(t, domain.EndReasonTimeout, env.channel.lastEnd().Reason)
}

func TestToggleMute(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	muted, err := env.svc.ToggleMute(call.CallID, in.InitiatorID)
	require.NoError(t, err)
	assert.False(t, muted)

	unmuted, err := env.svc.ToggleMute(call.CallID, in.InitiatorID)
	require.NoError(t, err)
	assert.True(t, unmuted)
}

func TestToggleVideo_VoiceCallHasNoTrack(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()
	in.Type = domain.CallTypeVoice

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	enabled, err := env.svc.ToggleVideo(call.CallID, in.InitiatorID)
	assert.NoError(t, err)
	assert.False(t, enabled)
}

func TestToggle_NonParticipant(t *testing.T) {
	env := newTestEnv(time.Minute)

	call, err := env.svc.InitiateCall(context.Background(), videoCallInput())
	require.NoError(t, err)

	_, err = env.svc.ToggleMute(call.CallID, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

// connect drives a call through answer and the transport's connected event
func connect(t *testing.T, env *testEnv, callID uuid.UUID, recipientID uuid.UUID) {
	t.Helper()
	_, err := env.svc.AnswerCall(context.Background(), callID, recipientID, AnswerOptions{})
	require.NoError(t, err)

	env.factory.session(0).observer.OnConnectivityChange(peer.ConnectivityConnected)
	require.Eventually(t, func() bool {
		snapshot, err := env.svc.Snapshot(callID)
		return err == nil && snapshot.Status == domain.CallStatusConnected
	}, time.Second, 10*time.Millisecond)
}

func TestScreenShare_ReplaceAndRestore(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)
	connect(t, env, call.CallID, in.RecipientID)

	require.NoError(t, env.svc.StartScreenShare(context.Background(), call.CallID, in.InitiatorID))

	callerSession := env.factory.session(0)
	screen := callerSession.lastReplaced()
	require.NotNil(t, screen)
	assert.Equal(t, media.TrackKindScreen, screen.Kind())

	// Duplicate start conflicts
	err = env.svc.StartScreenShare(context.Background(), call.CallID, in.InitiatorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))

	require.NoError(t, env.svc.StopScreenShare(context.Background(), call.CallID, in.InitiatorID))

	restored := callerSession.lastReplaced()
	require.NotNil(t, restored)
	assert.Equal(t, media.TrackKindVideo, restored.Kind())
	assert.True(t, screen.(*fakeTrack).Stopped())

	// Stop with no active share is a no-op
	assert.NoError(t, env.svc.StopScreenShare(context.Background(), call.CallID, in.InitiatorID))
}

func TestScreenShare_RequiresConnected(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	err = env.svc.StartScreenShare(context.Background(), call.CallID, in.InitiatorID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestScreenShare_SourceEndedStopsShare(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)
	connect(t, env, call.CallID, in.RecipientID)

	require.NoError(t, env.svc.StartScreenShare(context.Background(), call.CallID, in.InitiatorID))
	screen := env.factory.session(0).lastReplaced().(*fakeTrack)

	// Simulate the OS revoking the capture source
	screen.fireEnded(errors.New("capture revoked"))

	require.Eventually(t, func() bool {
		return screen.Stopped()
	}, time.Second, 10*time.Millisecond)

	// Share can start again afterwards
	require.Eventually(t, func() bool {
		return env.svc.StartScreenShare(context.Background(), call.CallID, in.InitiatorID) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestConnectivityFailed_EndsCall(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)
	connect(t, env, call.CallID, in.RecipientID)

	env.factory.session(0).observer.OnConnectivityChange(peer.ConnectivityFailed)

	require.Eventually(t, func() bool {
		return env.svc.ActiveCalls() == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, env.source.liveTracks())
}

func TestIceCandidateRelay(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	env.factory.session(0).observer.OnIceCandidate(peer.IceCandidate{Candidate: "candidate:1"})

	require.Eventually(t, func() bool {
		env.channel.mu.Lock()
		defer env.channel.mu.Unlock()
		return len(env.channel.candidates) == 1
	}, time.Second, 10*time.Millisecond)

	env.channel.mu.Lock()
	msg := env.channel.candidates[0]
	env.channel.mu.Unlock()
	assert.Equal(t, call.CallID, msg.CallID)
	assert.Equal(t, in.InitiatorID, msg.SenderID)
}

func TestAddRemoteCandidate_NoSession(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	// Recipient has not answered yet, so only the initiator has a session
	err = env.svc.AddRemoteCandidate(call.CallID, in.RecipientID, peer.IceCandidate{Candidate: "candidate:1"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))

	assert.NoError(t, env.svc.AddRemoteCandidate(call.CallID, in.InitiatorID, peer.IceCandidate{Candidate: "candidate:1"}))
}

// fakeStore persists calls in memory and serves history queries
type fakeStore struct {
	mu    sync.Mutex
	calls map[uuid.UUID]domain.Call
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[uuid.UUID]domain.Call)}
}

func (s *fakeStore) Create(_ context.Context, call *domain.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.CallID] = *call
	return nil
}

func (s *fakeStore) Update(_ context.Context, call *domain.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.CallID] = *call
	return nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Call
	for _, call := range s.calls {
		if call.InitiatorID == userID || call.RecipientID == userID {
			c := call
			out = append(out, &c)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestHistory(t *testing.T) {
	source := &fakeSource{}
	store := newFakeStore()
	mgr := media.NewManager(source)
	svc := NewService(mgr, &fakeFactory{}, &fakeChannel{}, store, nil, time.Minute)

	in := videoCallInput()
	call, err := svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, svc.EndCall(context.Background(), call.CallID, in.InitiatorID))

	history, err := svc.History(context.Background(), in.InitiatorID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.CallStatusEnded, history[0].Status)

	// Uninvolved users see nothing
	history, err = svc.History(context.Background(), uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistory_NoStore(t *testing.T) {
	env := newTestEnv(time.Minute)

	history, err := env.svc.History(context.Background(), uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAcceptAnswer_MovesToConnecting(t *testing.T) {
	env := newTestEnv(time.Minute)
	in := videoCallInput()

	call, err := env.svc.InitiateCall(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, env.svc.AcceptAnswer(call.CallID, in.InitiatorID, peer.SessionDescription{Type: "answer", SDP: "v=0"}))

	snapshot, err := env.svc.Snapshot(call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnecting, snapshot.Status)
}
