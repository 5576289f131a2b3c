// Package signaling defines the out-of-band message channel used to set up
// and tear down calls. The call core depends only on the Channel interface;
// the redis implementation fans messages out to connected websockets.
package signaling

import (
	"context"

	"github.com/google/uuid"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/peer"
)

// Wire message types
const (
	TypeInvite       = "invite"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice_candidate"
	TypeEnd          = "end"
)

// Invitation announces an incoming call to the callee
type Invitation struct {
	CallID   uuid.UUID               `json:"call_id"`
	CallerID uuid.UUID               `json:"caller_id"`
	CalleeID uuid.UUID               `json:"callee_id"`
	Type     domain.CallType         `json:"type"`
	Metadata domain.CallMetadata     `json:"metadata"`
	Offer    peer.SessionDescription `json:"offer"`
}

// Answer carries the callee's SDP answer back to the caller
type Answer struct {
	CallID   uuid.UUID               `json:"call_id"`
	CalleeID uuid.UUID               `json:"callee_id"`
	Accepted bool                    `json:"accepted"`
	SDP      peer.SessionDescription `json:"sdp,omitempty"`
}

// CandidateMessage trickles one ICE candidate to the other party
type CandidateMessage struct {
	CallID    uuid.UUID         `json:"call_id"`
	SenderID  uuid.UUID         `json:"sender_id"`
	Candidate peer.IceCandidate `json:"candidate"`
}

// End tells the other party the call is over
type End struct {
	CallID   uuid.UUID        `json:"call_id"`
	SenderID uuid.UUID        `json:"sender_id"`
	Reason   domain.EndReason `json:"reason"`
}

// Message is the envelope published on the wire
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Channel delivers signaling messages to call participants. Implementations
// return TRANSPORT_FAILURE errors when delivery cannot be attempted; the call
// core decides whether that aborts the operation.
type Channel interface {
	SendInvitation(ctx context.Context, inv Invitation) error
	SendAnswer(ctx context.Context, ans Answer) error
	SendIceCandidate(ctx context.Context, msg CandidateMessage) error
	SendEnd(ctx context.Context, end End) error
}
