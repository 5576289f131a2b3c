package chat

import (
	"context"
	"strings"
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

// fakeArchive records archived messages
type fakeArchive struct {
	mu      sync.Mutex
	saved   []domain.Message
	updated []domain.Message
}

func (a *fakeArchive) SaveMessage(_ context.Context, msg *domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, *msg)
	return nil
}

func (a *fakeArchive) UpdateMessage(_ context.Context, msg *domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updated = append(a.updated, *msg)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.Message
}

func (n *fakeNotifier) Notify(_ context.Context, _ uuid.UUID, msg *domain.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, *msg)
	return nil
}

func newRoom(t *testing.T, svc *Service, kind domain.RoomKind, settings domain.RoomSettings, users ...uuid.UUID) *domain.ChatRoom {
	t.Helper()
	room, err := svc.CreateRoom(context.Background(), CreateRoomInput{
		CreatorID:      users[0],
		ParticipantIDs: users[1:],
		Kind:           kind,
		Settings:       settings,
	})
	require.NoError(t, err)
	return room
}

func textSettings() domain.RoomSettings {
	return domain.RoomSettings{VoiceMessagesAllowed: true, FileSharingAllowed: true}
}

func TestCreateRoom_CreatorAlwaysIncluded(t *testing.T) {
	svc := NewService(nil, nil)
	creator, other := uuid.New(), uuid.New()

	room, err := svc.CreateRoom(context.Background(), CreateRoomInput{
		CreatorID:      creator,
		ParticipantIDs: []uuid.UUID{other, creator, other},
		Kind:           domain.RoomKindDirect,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{creator, other}, room.ParticipantIDs)
}

func TestCreateRoom_DirectRequiresTwo(t *testing.T) {
	svc := NewService(nil, nil)

	_, err := svc.CreateRoom(context.Background(), CreateRoomInput{
		CreatorID:      uuid.New(),
		ParticipantIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Kind:           domain.RoomKindDirect,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))
}

func TestSendMessage_AssignsSequence(t *testing.T) {
	archive := &fakeArchive{}
	notifier := &fakeNotifier{}
	svc := NewService(archive, notifier)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	first, err := svc.SendMessage(context.Background(), room.RoomID, alice, "hello", domain.MessageTypeText)
	require.NoError(t, err)
	second, err := svc.SendMessage(context.Background(), room.RoomID, bob, "hi", domain.MessageTypeText)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)

	archive.mu.Lock()
	assert.Len(t, archive.saved, 2)
	archive.mu.Unlock()
	notifier.mu.Lock()
	assert.Len(t, notifier.events, 2)
	notifier.mu.Unlock()
}

func TestSendMessage_NonParticipantUnauthorized(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	_, err := svc.SendMessage(context.Background(), room.RoomID, alice, "hello", domain.MessageTypeText)
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), room.RoomID, uuid.New(), "intruder", domain.MessageTypeText)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	// The log is untouched by the rejected send
	count, err := svc.MessageCount(room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendMessage_Validation(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	_, err := svc.SendMessage(context.Background(), room.RoomID, alice, "   ", domain.MessageTypeText)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	_, err = svc.SendMessage(context.Background(), room.RoomID, alice, strings.Repeat("a", MaxMessageLength+1), domain.MessageTypeText)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	_, err = svc.SendMessage(context.Background(), room.RoomID, alice, "hello", domain.MessageType("sticker"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	_, err = svc.SendMessage(context.Background(), uuid.New(), alice, "hello", domain.MessageTypeText)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRoomNotFound))
}

func TestSendMessage_SettingsEnforced(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, domain.RoomSettings{}, alice, bob)

	_, err := svc.SendMessage(context.Background(), room.RoomID, alice, "clip", domain.MessageTypeVoice)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))

	_, err = svc.SendMessage(context.Background(), room.RoomID, alice, "doc.pdf", domain.MessageTypeFile)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))

	_, err = svc.SendMessage(context.Background(), room.RoomID, alice, "plain text still works", domain.MessageTypeText)
	assert.NoError(t, err)
}

func TestGetHistory_NewestFirst(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	for _, content := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(context.Background(), room.RoomID, alice, content, domain.MessageTypeText)
		require.NoError(t, err)
	}

	page, err := svc.GetHistory(room.RoomID, bob, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "three", page[0].Content)
	assert.Equal(t, "one", page[2].Content)
}

func TestGetHistory_CursorPagination(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	for i := 0; i < 5; i++ {
		_, err := svc.SendMessage(context.Background(), room.RoomID, alice, "msg", domain.MessageTypeText)
		require.NoError(t, err)
	}

	first, err := svc.GetHistory(room.RoomID, bob, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, uint64(5), first[0].Seq)
	assert.Equal(t, uint64(4), first[1].Seq)

	// New messages arriving between pages must not shift the cursor
	_, err = svc.SendMessage(context.Background(), room.RoomID, bob, "late", domain.MessageTypeText)
	require.NoError(t, err)

	second, err := svc.GetHistory(room.RoomID, bob, 2, first[1].Seq)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, uint64(3), second[0].Seq)
	assert.Equal(t, uint64(2), second[1].Seq)

	third, err := svc.GetHistory(room.RoomID, bob, 2, second[1].Seq)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, uint64(1), third[0].Seq)
}

func TestGetHistory_NonParticipant(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	_, err := svc.GetHistory(room.RoomID, uuid.New(), 10, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

func TestGetHistory_ConcurrentAppends(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	const total = 50
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SendMessage(context.Background(), room.RoomID, alice, "burst", domain.MessageTypeText)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Page through the whole log; every sequence number exactly once
	seen := make(map[uint64]bool)
	cursor := uint64(0)
	for {
		page, err := svc.GetHistory(room.RoomID, bob, 7, cursor)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			assert.False(t, seen[msg.Seq])
			seen[msg.Seq] = true
		}
		cursor = page[len(page)-1].Seq
	}
	assert.Len(t, seen, total)
}

func TestEditMessage(t *testing.T) {
	archive := &fakeArchive{}
	svc := NewService(archive, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	msg, err := svc.SendMessage(context.Background(), room.RoomID, alice, "helo", domain.MessageTypeText)
	require.NoError(t, err)

	edited, err := svc.EditMessage(context.Background(), room.RoomID, msg.MessageID, alice, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Content)
	assert.True(t, edited.Edited)

	// Only the sender may edit
	_, err = svc.EditMessage(context.Background(), room.RoomID, msg.MessageID, bob, "hijack")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	archive.mu.Lock()
	assert.Len(t, archive.updated, 1)
	archive.mu.Unlock()
}

func TestReactions(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindDirect, textSettings(), alice, bob)

	msg, err := svc.SendMessage(context.Background(), room.RoomID, alice, "hello", domain.MessageTypeText)
	require.NoError(t, err)

	require.NoError(t, svc.AddReaction(context.Background(), room.RoomID, msg.MessageID, bob, "👍"))
	// Repeating the same reaction is a no-op
	require.NoError(t, svc.AddReaction(context.Background(), room.RoomID, msg.MessageID, bob, "👍"))

	page, err := svc.GetHistory(room.RoomID, alice, 1, 0)
	require.NoError(t, err)
	require.Len(t, page[0].Reactions, 1)
	assert.Equal(t, "👍", page[0].Reactions[0].Emoji)

	require.NoError(t, svc.RemoveReaction(context.Background(), room.RoomID, msg.MessageID, bob, "👍"))
	// Removing an absent reaction is a no-op
	require.NoError(t, svc.RemoveReaction(context.Background(), room.RoomID, msg.MessageID, bob, "👍"))

	page, err = svc.GetHistory(room.RoomID, alice, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, page[0].Reactions)
}

func TestRoom_SnapshotAndAuthorization(t *testing.T) {
	svc := NewService(nil, nil)
	alice, bob := uuid.New(), uuid.New()
	room := newRoom(t, svc, domain.RoomKindGroup, textSettings(), alice, bob, uuid.New())

	got, err := svc.Room(room.RoomID, bob)
	require.NoError(t, err)
	assert.Equal(t, room.RoomID, got.RoomID)
	assert.Len(t, got.ParticipantIDs, 3)

	_, err = svc.Room(room.RoomID, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))

	_, err = svc.Room(uuid.New(), alice)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRoomNotFound))
}
