package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoomKind distinguishes direct (1:1) rooms from group rooms
type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
)

// Valid reports whether k is a known room kind
func (k RoomKind) Valid() bool {
	return k == RoomKindDirect || k == RoomKindGroup
}

// RoomSettings holds per-room feature flags
type RoomSettings struct {
	FileSharingAllowed   bool `json:"file_sharing_allowed"`
	VoiceMessagesAllowed bool `json:"voice_messages_allowed"`
}

// ChatRoom represents a chat room with immutable membership
type ChatRoom struct {
	RoomID         uuid.UUID    `json:"room_id"`
	CreatorID      uuid.UUID    `json:"creator_id"`
	ParticipantIDs []uuid.UUID  `json:"participant_ids"`
	Kind           RoomKind     `json:"kind"`
	CreatedAt      time.Time    `json:"created_at"`
	Settings       RoomSettings `json:"settings"`
}

// HasParticipant reports whether userID is a member of the room
func (r *ChatRoom) HasParticipant(userID uuid.UUID) bool {
	for _, id := range r.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MessageType represents the kind of content a message carries
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeVoice MessageType = "voice"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeVoice || t == MessageTypeFile
}

// Reaction is a single user's reaction to a message
type Reaction struct {
	UserID uuid.UUID `json:"user_id"`
	Emoji  string    `json:"emoji"`
}

// Message represents a chat message entity.
// Seq is a per-room monotonically increasing sequence number assigned at
// append time; history pagination keys off it rather than slice indices so
// pages stay stable while new messages arrive.
type Message struct {
	MessageID uuid.UUID   `json:"message_id"`
	RoomID    uuid.UUID   `json:"room_id"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Seq       uint64      `json:"seq"`
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type"`
	SentAt    time.Time   `json:"sent_at"`
	Edited    bool        `json:"edited"`
	Reactions []Reaction  `json:"reactions,omitempty"`
}
