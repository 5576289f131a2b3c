// Package chat implements room membership and ordered message history.
// Rooms live in memory with an append-only log per room; the archive and
// the participant notifier are best-effort collaborators behind interfaces.
package chat

import (
	"context"
	"fmt"
	"strings"
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

// MaxMessageLength caps message content
const MaxMessageLength = 4096

// Archive persists messages out of process. The in-memory log is
// authoritative; archive failures are logged, never surfaced.
type Archive interface {
	SaveMessage(ctx context.Context, msg *domain.Message) error
	UpdateMessage(ctx context.Context, msg *domain.Message) error
}

// Notifier delivers a {roomId, message} event to room participants
type Notifier interface {
	Notify(ctx context.Context, roomID uuid.UUID, msg *domain.Message) error
}

// roomEntry holds one room plus its ordered log. entry.mu serializes all
// mutations; messages is append-only and sorted by Seq ascending.
type roomEntry struct {
	mu       sync.Mutex
	room     *domain.ChatRoom
	nextSeq  uint64
	messages []*domain.Message
	byID     map[uuid.UUID]*domain.Message
}

type Service struct {
	archive  Archive  // optional
	notifier Notifier // optional

	mu    sync.RWMutex
	rooms map[uuid.UUID]*roomEntry
}

func NewService(archive Archive, notifier Notifier) *Service {
	return &Service{
		archive:  archive,
		notifier: notifier,
		rooms:    make(map[uuid.UUID]*roomEntry),
	}
}

type CreateRoomInput struct {
	CreatorID      uuid.UUID
	ParticipantIDs []uuid.UUID
	Kind           domain.RoomKind
	Settings       domain.RoomSettings
}

// CreateRoom creates a room with immutable membership. The creator is
// always a participant whether or not the input lists them.
func (s *Service) CreateRoom(ctx context.Context, in CreateRoomInput) (*domain.ChatRoom, error) {
	if in.CreatorID == uuid.Nil {
		return nil, apperrors.InvalidArgumentError("creator is required")
	}
	if !in.Kind.Valid() {
		return nil, apperrors.InvalidArgumentError(fmt.Sprintf("invalid room kind: %s", in.Kind))
	}

	seen := map[uuid.UUID]bool{in.CreatorID: true}
	participants := []uuid.UUID{in.CreatorID}
	for _, id := range in.ParticipantIDs {
		if id == uuid.Nil {
			return nil, apperrors.InvalidArgumentError("participant id cannot be empty")
		}
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}

	if in.Kind == domain.RoomKindDirect && len(participants) != 2 {
		return nil, apperrors.InvalidArgumentError("direct rooms require exactly two participants")
	}
	if len(participants) < 2 {
		return nil, apperrors.InvalidArgumentError("a room requires at least two participants")
	}

	room := &domain.ChatRoom{
		RoomID:         uuid.New(),
		CreatorID:      in.CreatorID,
		ParticipantIDs: participants,
		Kind:           in.Kind,
		CreatedAt:      time.Now().UTC(),
		Settings:       in.Settings,
	}

	s.mu.Lock()
	s.rooms[room.RoomID] = &roomEntry{
		room: room,
		byID: make(map[uuid.UUID]*domain.Message),
	}
	s.mu.Unlock()

	metrics.ChatRoomsActive.Inc()
	logger.Info("chat room created",
		zap.String("room_id", room.RoomID.String()),
		zap.String("kind", string(room.Kind)),
		zap.Int("participants", len(participants)))

	snapshot := *room
	return &snapshot, nil
}

// SendMessage appends to the room log, assigns the sequence number, and
// notifies participants.
func (s *Service) SendMessage(ctx context.Context, roomID, senderID uuid.UUID, content string, msgType domain.MessageType) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.InvalidArgumentError("message content cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return nil, apperrors.InvalidArgumentError("message content too long")
	}
	if !msgType.Valid() {
		return nil, apperrors.InvalidArgumentError(fmt.Sprintf("invalid message type: %s", msgType))
	}

	entry, err := s.lookup(roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	room := entry.room
	if !room.HasParticipant(senderID) {
		metrics.ChatMessageSendUnauthorizedTotal.Inc()
		return nil, apperrors.UnauthorizedError("sender is not a room participant")
	}
	if msgType == domain.MessageTypeVoice && !room.Settings.VoiceMessagesAllowed {
		return nil, apperrors.InvalidStateError("voice messages are disabled for this room")
	}
	if msgType == domain.MessageTypeFile && !room.Settings.FileSharingAllowed {
		return nil, apperrors.InvalidStateError("file sharing is disabled for this room")
	}

	entry.nextSeq++
	msg := &domain.Message{
		MessageID: uuid.New(),
		RoomID:    roomID,
		SenderID:  senderID,
		Seq:       entry.nextSeq,
		Content:   content,
		Type:      msgType,
		SentAt:    time.Now().UTC(),
	}
	entry.messages = append(entry.messages, msg)
	entry.byID[msg.MessageID] = msg

	metrics.ChatMessageCreatedTotal.WithLabelValues(string(msgType)).Inc()
	s.archiveMessage(ctx, msg, false)
	s.notify(ctx, roomID, msg)

	snapshot := *msg
	return &snapshot, nil
}

// GetHistory returns up to limit messages newest first. The offset is a
// sequence-number cursor: 0 starts at the newest message, otherwise only
// messages with Seq below the cursor are returned. Pass the Seq of the last
// message from the previous page to continue; messages appended between
// pages never shift or duplicate earlier results.
func (s *Service) GetHistory(roomID, userID uuid.UUID, limit int, offset uint64) ([]domain.Message, error) {
	entry, err := s.lookup(roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.room.HasParticipant(userID) {
		return nil, apperrors.UnauthorizedError("requester is not a room participant")
	}

	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	// messages is sorted by Seq ascending, so walk backwards from the end
	out := make([]domain.Message, 0, limit)
	for i := len(entry.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := entry.messages[i]
		if offset != 0 && msg.Seq >= offset {
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

// EditMessage replaces the content and sets the edited flag. Only the
// original sender may edit.
func (s *Service) EditMessage(ctx context.Context, roomID, messageID, userID uuid.UUID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.InvalidArgumentError("message content cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return nil, apperrors.InvalidArgumentError("message content too long")
	}

	entry, err := s.lookup(roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	msg, ok := entry.byID[messageID]
	if !ok {
		return nil, apperrors.NotFoundError("Message")
	}
	if msg.SenderID != userID {
		return nil, apperrors.UnauthorizedError("only the sender can edit a message")
	}

	msg.Content = content
	msg.Edited = true
	s.archiveMessage(ctx, msg, true)

	snapshot := *msg
	return &snapshot, nil
}

// AddReaction records one (user, emoji) reaction; repeating it is a no-op
func (s *Service) AddReaction(ctx context.Context, roomID, messageID, userID uuid.UUID, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return apperrors.InvalidArgumentError("emoji is required")
	}
	return s.mutateReactions(ctx, roomID, messageID, userID, func(msg *domain.Message) {
		for _, r := range msg.Reactions {
			if r.UserID == userID && r.Emoji == emoji {
				return
			}
		}
		msg.Reactions = append(msg.Reactions, domain.Reaction{UserID: userID, Emoji: emoji})
	})
}

// RemoveReaction deletes the matching reaction; absent is a no-op
func (s *Service) RemoveReaction(ctx context.Context, roomID, messageID, userID uuid.UUID, emoji string) error {
	return s.mutateReactions(ctx, roomID, messageID, userID, func(msg *domain.Message) {
		for i, r := range msg.Reactions {
			if r.UserID == userID && r.Emoji == emoji {
				msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
				return
			}
		}
	})
}

func (s *Service) mutateReactions(ctx context.Context, roomID, messageID, userID uuid.UUID, apply func(*domain.Message)) error {
	entry, err := s.lookup(roomID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.room.HasParticipant(userID) {
		return apperrors.UnauthorizedError("user is not a room participant")
	}
	msg, ok := entry.byID[messageID]
	if !ok {
		return apperrors.NotFoundError("Message")
	}

	apply(msg)
	s.archiveMessage(ctx, msg, true)
	return nil
}

// Room returns a snapshot of the room; participants only
func (s *Service) Room(roomID, userID uuid.UUID) (domain.ChatRoom, error) {
	entry, err := s.lookup(roomID)
	if err != nil {
		return domain.ChatRoom{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.room.HasParticipant(userID) {
		return domain.ChatRoom{}, apperrors.UnauthorizedError("user is not a room participant")
	}
	return *entry.room, nil
}

// MessageCount reports the log length, used by tests and admin surfaces
func (s *Service) MessageCount(roomID uuid.UUID) (int, error) {
	entry, err := s.lookup(roomID)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.messages), nil
}

func (s *Service) lookup(roomID uuid.UUID) (*roomEntry, error) {
	s.mu.RLock()
	entry, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.RoomNotFoundError()
	}
	return entry, nil
}

func (s *Service) archiveMessage(ctx context.Context, msg *domain.Message, update bool) {
	if s.archive == nil {
		return
	}
	snapshot := *msg
	var err error
	if update {
		err = s.archive.UpdateMessage(ctx, &snapshot)
	} else {
		err = s.archive.SaveMessage(ctx, &snapshot)
	}
	if err != nil {
		metrics.ChatMessageArchivedTotal.WithLabelValues("error").Inc()
		logger.Error("message archive failed",
			zap.String("message_id", snapshot.MessageID.String()), zap.Error(err))
		return
	}
	metrics.ChatMessageArchivedTotal.WithLabelValues("ok").Inc()
}

func (s *Service) notify(ctx context.Context, roomID uuid.UUID, msg *domain.Message) {
	if s.notifier == nil {
		return
	}
	snapshot := *msg
	if err := s.notifier.Notify(ctx, roomID, &snapshot); err != nil {
		metrics.ChatMessageNotifiedTotal.WithLabelValues("error").Inc()
		logger.Warn("participant notification failed",
			zap.String("room_id", roomID.String()), zap.Error(err))
		return
	}
	metrics.ChatMessageNotifiedTotal.WithLabelValues("ok").Inc()
}
