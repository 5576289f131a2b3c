package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the kind of media a call carries
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a call.
// Keep values stable because they are part of the public API.
type CallStatus string

const (
	CallStatusInitiating   CallStatus = "initiating"
	CallStatusConnecting   CallStatus = "connecting"
	CallStatusConnected    CallStatus = "connected"
	CallStatusDisconnected CallStatus = "disconnected"
	CallStatusRejected     CallStatus = "rejected"
	CallStatusEnded        CallStatus = "ended"
)

// Terminal reports whether no further transition is possible from s
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded
}

// callTransitions is the allowed state machine:
// initiating → connecting → connected → ended (normal path)
// initiating|connecting → rejected → ended
// connected → disconnected → ended (failure path)
var callTransitions = map[CallStatus][]CallStatus{
	CallStatusInitiating:   {CallStatusConnecting, CallStatusRejected, CallStatusEnded},
	CallStatusConnecting:   {CallStatusConnected, CallStatusRejected, CallStatusEnded},
	CallStatusConnected:    {CallStatusDisconnected, CallStatusEnded},
	CallStatusDisconnected: {CallStatusEnded},
	CallStatusRejected:     {CallStatusEnded},
}

// CanTransition reports whether the state machine allows from → to
func CanTransition(from, to CallStatus) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// QualityTier selects the target capture resolution/frame-rate
type QualityTier string

const (
	QualityLow      QualityTier = "low"
	QualityStandard QualityTier = "standard"
	QualityHigh     QualityTier = "high"
)

// Valid reports whether q is a known quality tier
func (q QualityTier) Valid() bool {
	return q == QualityLow || q == QualityStandard || q == QualityHigh
}

// CallSettings holds per-call feature flags and quality selection
type CallSettings struct {
	RecordingAllowed   bool        `json:"recording_allowed"`
	ScreenShareAllowed bool        `json:"screen_share_allowed"`
	Quality            QualityTier `json:"quality"`
}

// DefaultCallSettings returns settings for calls created without explicit options
func DefaultCallSettings() CallSettings {
	return CallSettings{
		RecordingAllowed:   true,
		ScreenShareAllowed: true,
		Quality:            QualityStandard,
	}
}

// EndReason records why a call reached its terminal state
type EndReason string

const (
	EndReasonHangup       EndReason = "hangup"
	EndReasonRejected     EndReason = "rejected"
	EndReasonTimeout      EndReason = "timeout"
	EndReasonDisconnected EndReason = "disconnected"
	EndReasonFailed       EndReason = "failed"
)

// CallMetadata holds display attributes attached to a call
type CallMetadata struct {
	DisplayName string `json:"display_name,omitempty"`
	Subject     string `json:"subject,omitempty"`
}

// Call represents a voice/video call entity
type Call struct {
	CallID      uuid.UUID    `json:"call_id"`
	Type        CallType     `json:"call_type"`
	InitiatorID uuid.UUID    `json:"initiator_id"`
	RecipientID uuid.UUID    `json:"recipient_id"`
	Status      CallStatus   `json:"status"`
	EndReason   EndReason    `json:"end_reason,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	AnsweredAt  *time.Time   `json:"answered_at,omitempty"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	Duration    int          `json:"duration,omitempty"` // in seconds
	Settings    CallSettings `json:"settings"`
	Metadata    CallMetadata `json:"metadata"`
}

// HasParticipant reports whether userID is one of the call's two legs
func (c *Call) HasParticipant(userID uuid.UUID) bool {
	return c.InitiatorID == userID || c.RecipientID == userID
}

// ParticipantKey identifies one participant's resources within a call.
// Replaces string-concatenated "<callId>_<userId>" keys with a comparable
// composite key usable directly as a map key.
type ParticipantKey struct {
	CallID uuid.UUID
	UserID uuid.UUID
}
