package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/errors"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/logger"
	"github.com/coltak88/piper-dispatch-newsletter-sub008/pkg/metrics"
)

// CallChannel is the pub/sub channel for messages scoped to one call
func CallChannel(callID uuid.UUID) string {
	return fmt.Sprintf("signaling:call:%s", callID)
}

// UserChannel is the pub/sub channel for messages addressed to one user,
// used for invitations before the callee has joined the call channel.
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("signaling:user:%s", userID)
}

// RedisChannel publishes signaling messages over redis pub/sub. The
// websocket hub on each instance subscribes and forwards to its sockets.
type RedisChannel struct {
	client *redis.Client
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client}
}

func (r *RedisChannel) publish(ctx context.Context, channel, msgType string, payload interface{}) error {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return apperrors.TransportFailureError("failed to encode signaling message", err)
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.SignalingPublishErrorTotal.Inc()
		logger.Error("signaling publish failed",
			zap.String("channel", channel),
			zap.String("type", msgType),
			zap.Error(err))
		return apperrors.TransportFailureError("failed to publish signaling message", err)
	}
	metrics.SignalingMessagesTotal.WithLabelValues(msgType).Inc()
	return nil
}

func (r *RedisChannel) SendInvitation(ctx context.Context, inv Invitation) error {
	return r.publish(ctx, UserChannel(inv.CalleeID), TypeInvite, inv)
}

func (r *RedisChannel) SendAnswer(ctx context.Context, ans Answer) error {
	return r.publish(ctx, CallChannel(ans.CallID), TypeAnswer, ans)
}

func (r *RedisChannel) SendIceCandidate(ctx context.Context, msg CandidateMessage) error {
	return r.publish(ctx, CallChannel(msg.CallID), TypeIceCandidate, msg)
}

func (r *RedisChannel) SendEnd(ctx context.Context, end End) error {
	return r.publish(ctx, CallChannel(end.CallID), TypeEnd, end)
}
