package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/coltak88/piper-dispatch-newsletter-sub008/internal/domain"
)

// RoomChannel is the pub/sub channel carrying a room's message events
func RoomChannel(roomID uuid.UUID) string {
	return fmt.Sprintf("chat:room:%s", roomID)
}

// MessageEvent is the payload published on a room channel
type MessageEvent struct {
	RoomID  uuid.UUID       `json:"room_id"`
	Message *domain.Message `json:"message"`
}

// RedisNotifier fans message events out over redis pub/sub; presentation
// layers subscribe per room.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, roomID uuid.UUID, msg *domain.Message) error {
	data, err := json.Marshal(MessageEvent{RoomID: roomID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode message event: %w", err)
	}
	if err := n.client.Publish(ctx, RoomChannel(roomID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish message event: %w", err)
	}
	return nil
}
