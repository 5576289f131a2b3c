// Package pion implements the peer transport on pion/webrtc v4.
package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/media"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/peer"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/config"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
	"go.uber.org/zap"
)

// trackUnwrapper is implemented by capture tracks that carry a pion track
// underneath; the transport needs the raw webrtc.TrackLocal to add it to
// an RTP sender.
type trackUnwrapper interface {
	Unwrap() webrtc.TrackLocal
}

// Factory builds pion peer connections with a shared API configuration
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

// NewFactory wires the media engine, interceptors, and ICE timeouts. The
// codec selector must be the one the capture source encodes with; pass nil
// to fall back to pion's default codecs.
func NewFactory(cfg config.WebRTCConfig, selector *mediadevices.CodecSelector) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if selector != nil {
		selector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICETimeouts(
		cfg.ICEDisconnectedTimeout,
		cfg.ICEFailedTimeout,
		cfg.ICEKeepaliveInterval,
	)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)

	var servers []webrtc.ICEServer
	for _, url := range cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	return &Factory{api: api, iceServers: servers}, nil
}

// NewSession creates a peer connection and binds its callbacks to the observer
func (f *Factory) NewSession(observer peer.Observer) (peer.Session, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &session{pc: pc, observer: observer, senders: make(map[media.TrackKind]*webrtc.RTPSender)}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		candidate := peer.IceCandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = *init.SDPMLineIndex
		}
		observer.OnIceCandidate(candidate)
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := media.TrackKindAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = media.TrackKindVideo
		}
		observer.OnRemoteTrack(peer.RemoteTrack{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     kind,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		observer.OnConnectivityChange(mapConnectivity(state))
	})

	return s, nil
}

func mapConnectivity(state webrtc.PeerConnectionState) peer.Connectivity {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return peer.ConnectivityNew
	case webrtc.PeerConnectionStateConnecting:
		return peer.ConnectivityConnecting
	case webrtc.PeerConnectionStateConnected:
		return peer.ConnectivityConnected
	case webrtc.PeerConnectionStateDisconnected:
		return peer.ConnectivityDisconnected
	case webrtc.PeerConnectionStateFailed:
		return peer.ConnectivityFailed
	default:
		return peer.ConnectivityClosed
	}
}

type session struct {
	pc       *webrtc.PeerConnection
	observer peer.Observer

	mu      sync.Mutex
	senders map[media.TrackKind]*webrtc.RTPSender

	closeOnce sync.Once
	closeErr  error
}

func unwrap(track media.Track) (webrtc.TrackLocal, error) {
	u, ok := track.(trackUnwrapper)
	if !ok {
		return nil, fmt.Errorf("track %s does not expose a webrtc local track", track.ID())
	}
	return u.Unwrap(), nil
}

func (s *session) AddLocalTrack(track media.Track) error {
	local, err := unwrap(track)
	if err != nil {
		return err
	}

	sender, err := s.pc.AddTrack(local)
	if err != nil {
		return fmt.Errorf("failed to add track %s: %w", track.ID(), err)
	}

	s.mu.Lock()
	s.senders[track.Kind()] = sender
	s.mu.Unlock()

	// Drain RTCP so the interceptors see receiver reports
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *session) CreateOffer(ctx context.Context) (peer.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return peer.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.setLocalDescription(ctx, offer); err != nil {
		return peer.SessionDescription{}, err
	}
	return peer.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (s *session) CreateAnswer(ctx context.Context, offer peer.SessionDescription) (peer.SessionDescription, error) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return peer.SessionDescription{}, fmt.Errorf("failed to set remote offer: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return peer.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.setLocalDescription(ctx, answer); err != nil {
		return peer.SessionDescription{}, err
	}
	return peer.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// setLocalDescription applies the description and, when the context carries a
// deadline, waits for ICE gathering so the SDP includes host candidates.
// Trickled candidates still flow through the observer either way.
func (s *session) setLocalDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil
	}
	select {
	case <-webrtc.GatheringCompletePromise(s.pc):
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (s *session) AcceptAnswer(answer peer.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

func (s *session) AddRemoteCandidate(candidate peer.IceCandidate) error {
	mid := candidate.SDPMid
	index := candidate.SDPMLineIndex
	if err := s.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	return nil
}

// ReplaceVideoTrack swaps the outbound video track in place, renegotiation
// free. Used when screen share starts and when the camera track is restored.
func (s *session) ReplaceVideoTrack(track media.Track) error {
	local, err := unwrap(track)
	if err != nil {
		return err
	}

	s.mu.Lock()
	sender, ok := s.senders[media.TrackKindVideo]
	if !ok {
		sender, ok = s.senders[media.TrackKindScreen]
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no video sender to replace")
	}

	if err := sender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("failed to replace video track: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.pc.Close(); err != nil {
			logger.Warn("peer connection close failed", zap.Error(err))
			s.closeErr = err
		}
	})
	return s.closeErr
}
