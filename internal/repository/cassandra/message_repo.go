package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
)

// MessageRepository archives chat messages in Cassandra. Rows are keyed by
// (room_id, seq) so the archive preserves the same ordering the in-memory
// log serves history from.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// SaveMessage inserts a new message row
func (r *MessageRepository) SaveMessage(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (
			room_id, seq, message_id, sender_id, content,
			message_type, sent_at, edited
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.RoomID,
		message.Seq,
		message.MessageID,
		message.SenderID,
		message.Content,
		message.Type,
		message.SentAt,
		message.Edited,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// UpdateMessage rewrites the mutable fields (content, edited flag, reactions)
func (r *MessageRepository) UpdateMessage(ctx context.Context, message *domain.Message) error {
	reactions := make(map[gocql.UUID]string, len(message.Reactions))
	for _, reaction := range message.Reactions {
		reactions[gocql.UUID(reaction.UserID)] = reaction.Emoji
	}

	query := `
		UPDATE messages
		SET content = ?, edited = ?, reactions = ?
		WHERE room_id = ? AND seq = ?
	`

	err := r.session.Query(query,
		message.Content,
		message.Edited,
		reactions,
		message.RoomID,
		message.Seq,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	return nil
}

// GetByRoom retrieves archived messages for a room, newest first, with
// messages below the seq cursor (0 means newest).
func (r *MessageRepository) GetByRoom(ctx context.Context, roomID uuid.UUID, limit int, beforeSeq uint64) ([]*domain.Message, error) {
	var (
		query string
		iter  *gocql.Iter
	)
	if beforeSeq == 0 {
		query = `
			SELECT room_id, seq, message_id, sender_id, content,
			       message_type, sent_at, edited
			FROM messages
			WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		`
		iter = r.session.Query(query, roomID, limit).WithContext(ctx).Iter()
	} else {
		query = `
			SELECT room_id, seq, message_id, sender_id, content,
			       message_type, sent_at, edited
			FROM messages
			WHERE room_id = ? AND seq < ?
			ORDER BY seq DESC
			LIMIT ?
		`
		iter = r.session.Query(query, roomID, beforeSeq, limit).WithContext(ctx).Iter()
	}

	var messages []*domain.Message
	for {
		message := &domain.Message{}
		if !iter.Scan(
			&message.RoomID,
			&message.Seq,
			&message.MessageID,
			&message.SenderID,
			&message.Content,
			&message.Type,
			&message.SentAt,
			&message.Edited,
		) {
			break
		}
		messages = append(messages, message)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	return messages, nil
}
