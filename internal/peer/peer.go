// Package peer defines the transport boundary between the call core and the
// WebRTC engine. The core talks to Factory/Session, never to pion directly,
// so tests can swap in fakes.
package peer

import (
	"context"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/media"
)

// Connectivity is the session-level connection state
type Connectivity string

const (
	ConnectivityNew          Connectivity = "new"
	ConnectivityConnecting   Connectivity = "connecting"
	ConnectivityConnected    Connectivity = "connected"
	ConnectivityDisconnected Connectivity = "disconnected"
	ConnectivityFailed       Connectivity = "failed"
	ConnectivityClosed       Connectivity = "closed"
)

// IceCandidate is a trickled ICE candidate in wire form
type IceCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// SessionDescription carries an SDP offer or answer
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// RemoteTrack describes an inbound track announced by the remote peer
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     media.TrackKind
}

// Observer receives session events. Callbacks fire on the engine's
// goroutines and must not block.
type Observer interface {
	OnIceCandidate(candidate IceCandidate)
	OnRemoteTrack(track RemoteTrack)
	OnConnectivityChange(state Connectivity)
}

// Session is a single peer connection. Close is idempotent.
type Session interface {
	AddLocalTrack(track media.Track) error
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context, offer SessionDescription) (SessionDescription, error)
	AcceptAnswer(answer SessionDescription) error
	AddRemoteCandidate(candidate IceCandidate) error
	ReplaceVideoTrack(track media.Track) error
	Close() error
}

// Factory builds sessions bound to an observer
type Factory interface {
	NewSession(observer Observer) (Session, error)
}
